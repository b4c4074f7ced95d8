package config

import "github.com/caarlos0/env/v11"

type BotConfig struct {
	BaseURL   string `env:"BASE_URL" envDefault:"http://localhost:8080"`
	Token     string `env:"BOT_TOKEN"`
	JWTSecret string `env:"JWT_SECRET"`
	UserID    string `env:"BOT_USER_ID" envDefault:"bot"`
	Stake     int64  `env:"STAKE" envDefault:"10"`
	CardNo    int    `env:"CARD_NO" envDefault:"0"`
}

func LoadBot() (BotConfig, error) {
	var cfg BotConfig
	err := env.Parse(&cfg)
	return cfg, err
}

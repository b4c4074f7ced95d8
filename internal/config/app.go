package config

type AppConfig struct {
	Server  ServerConfig
	Log     LogConfig
	Ruleset Ruleset
}

func LoadApp() (AppConfig, error) {
	logCfg, err := LoadLog()
	if err != nil {
		return AppConfig{}, err
	}
	serverCfg, err := LoadServer()
	if err != nil {
		return AppConfig{}, err
	}
	rules, err := LoadRuleset(serverCfg.RulesetPath)
	if err != nil {
		return AppConfig{}, err
	}
	return AppConfig{
		Server:  serverCfg,
		Log:     logCfg,
		Ruleset: rules,
	}, nil
}

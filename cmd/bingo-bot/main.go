package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"bingo-coordinator/internal/auth"
	"bingo-coordinator/internal/bingo"
	"bingo-coordinator/internal/config"
	"bingo-coordinator/internal/logging"
	"bingo-coordinator/internal/session"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

type client struct {
	base   string
	token  string
	userID string
	http   *http.Client
}

type apiError struct {
	Status int
	Code   string `json:"error"`
}

func (e *apiError) Error() string { return fmt.Sprintf("http %d: %s", e.Status, e.Code) }

func (c *client) do(ctx context.Context, method, path string, in, out any) error {
	var body bytes.Buffer
	if in != nil {
		if err := json.NewEncoder(&body).Encode(in); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, &body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		e := &apiError{Status: resp.StatusCode}
		_ = json.NewDecoder(resp.Body).Decode(e)
		return e
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func main() {
	logCfg, err := config.LoadLog()
	if err != nil {
		panic(err)
	}
	if err := logging.Init(logCfg); err != nil {
		panic(err)
	}
	cfg, err := config.LoadBot()
	if err != nil {
		log.Fatal().Err(err).Msg("load bot config failed")
	}
	token := cfg.Token
	if token == "" && cfg.JWTSecret != "" {
		token, err = auth.NewVerifier(cfg.JWTSecret, time.Hour).Issue(cfg.UserID, auth.RolePlayer)
		if err != nil {
			log.Fatal().Err(err).Msg("issue token failed")
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	c := &client{base: strings.TrimRight(cfg.BaseURL, "/"), token: token, userID: cfg.UserID, http: &http.Client{Timeout: 15 * time.Second}}
	if err := play(ctx, c, cfg); err != nil {
		log.Fatal().Err(err).Msg("bot stopped")
	}
}

func play(ctx context.Context, c *client, cfg config.BotConfig) error {
	cardNo, err := pickCard(ctx, c, cfg.CardNo)
	if err != nil {
		return err
	}
	if err := c.do(ctx, http.MethodPost, "/api/hold", map[string]any{"cardId": cardNo, "userId": c.userID}, nil); err != nil {
		return fmt.Errorf("hold card %d: %w", cardNo, err)
	}
	var joined session.JoinResult
	if err := c.do(ctx, http.MethodPost, "/api/commit", map[string]any{"cardId": cardNo, "userId": c.userID, "stake": cfg.Stake}, &joined); err != nil {
		return fmt.Errorf("commit card %d: %w", cardNo, err)
	}
	log.Info().Int64("session_id", joined.SessionID).Str("code", joined.Code).Int("card", cardNo).Msg("joined session")

	u, err := url.Parse(c.base)
	if err != nil {
		return err
	}
	u.Scheme = strings.Replace(u.Scheme, "http", "ws", 1)
	u.Path = fmt.Sprintf("/api/sessions/%d/ws", joined.SessionID)
	if c.token != "" {
		u.RawQuery = url.Values{"token": {c.token}}.Encode()
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return err
	}
	defer conn.Close()
	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	layout := bingo.GenerateLayout(cardNo)
	var called []int
	claimed := false
	for {
		var ev session.StreamEvent
		if err := conn.ReadJSON(&ev); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		switch ev.Event {
		case "number-called":
			var data struct {
				Number int `json:"number"`
			}
			if err := remarshal(ev.Data, &data); err != nil {
				continue
			}
			called = append(called, data.Number)
			if claimed {
				continue
			}
			pattern, _, ok := bingo.Detect(layout, called, nil)
			if !ok {
				continue
			}
			claimed = true
			var res session.ClaimResult
			err := c.do(ctx, http.MethodPost, "/api/claimWin", map[string]any{
				"sessionId":     joined.SessionID,
				"userId":        c.userID,
				"pattern":       pattern,
				"calledNumbers": called,
				"cardNumber":    cardNo,
			}, &res)
			if err != nil {
				log.Info().Err(err).Msg("claim rejected")
				continue
			}
			log.Info().Str("announcement", res.Announcement).Int64("prize", res.Win.WinAmount).Msg("claim accepted")
		case "game-finished", "game-cancelled":
			log.Info().Str("event", ev.Event).Any("data", ev.Data).Msg("session over")
			return nil
		default:
			log.Debug().Str("event", ev.Event).Msg("event")
		}
	}
}

func pickCard(ctx context.Context, c *client, preferred int) (int, error) {
	if preferred > 0 {
		return preferred, nil
	}
	var cards struct {
		Items []struct {
			CardNo int    `json:"cardId"`
			Status string `json:"status"`
		} `json:"items"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/cards", nil, &cards); err != nil {
		return 0, err
	}
	for _, it := range cards.Items {
		if it.Status == "available" {
			return it.CardNo, nil
		}
	}
	return 0, fmt.Errorf("no available card")
}

func remarshal(in, out any) error {
	b, err := json.Marshal(in)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, out)
}

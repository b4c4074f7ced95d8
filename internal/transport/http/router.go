package httptransport

import (
	"expvar"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"bingo-coordinator/internal/app/play"
	"bingo-coordinator/internal/auth"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"
)

type Deps struct {
	Play *play.Service
	// Verifier authenticates players. Nil trusts the userId in requests.
	Verifier *auth.Verifier
	AdminKey string
	Health   Pinger
}

func NewRouter(d Deps) *chi.Mux {
	playHandlers := NewPlayHandlers(d.Play)
	streamHandlers := NewStreamHandlers(d.Play)
	adminHandlers := NewAdminHandlers(d.Play, d.Health)

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)

	r.With(APILogMiddleware()).Get("/healthz", adminHandlers.Health())

	r.Route("/api", func(r chi.Router) {
		r.Use(APILogMiddleware())
		r.Get("/rules", playHandlers.Rules())
		r.Get("/cards", playHandlers.Cards())
		r.Get("/cards/{card_no}", playHandlers.Card())

		r.Group(func(r chi.Router) {
			r.Use(PlayerAuthMiddleware(d.Verifier))
			r.Use(BodyCaptureMiddleware(4096))
			r.Post("/hold", playHandlers.Hold())
			r.Post("/release", playHandlers.Release())
			r.Post("/commit", playHandlers.Commit())
			r.Post("/leave", playHandlers.Leave())
			r.Post("/claimWin", playHandlers.ClaimWin())
			r.Get("/session", playHandlers.Session())
			r.Get("/balance", playHandlers.Balance())
			r.Get("/sessions/{session_id}/events", streamHandlers.Events())
			r.Get("/sessions/{session_id}/ws", streamHandlers.Socket())
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(AdminAuthMiddleware(d.AdminKey, d.Verifier))
			r.Get("/cards/{card_no}/history", adminHandlers.CardHistory())
			r.Get("/ledger", adminHandlers.Ledger())
			r.With(BodyCaptureMiddleware(4096)).Post("/topup", adminHandlers.Topup())
		})

		r.Route("/debug", func(r chi.Router) {
			r.Use(AdminAuthMiddleware(d.AdminKey, d.Verifier))
			r.Get("/vars", expvar.Handler().ServeHTTP)
		})
	})
	return r
}

func LogRoutes(r chi.Router) {
	type routeDef struct {
		Method string
		Path   string
	}
	routes := make([]routeDef, 0, 32)
	err := chi.Walk(r, func(method string, route string, _ http.Handler, _ ...func(http.Handler) http.Handler) error {
		routes = append(routes, routeDef{Method: method, Path: route})
		return nil
	})
	if err != nil {
		log.Error().Err(err).Msg("walk routes failed")
		return
	}
	sort.Slice(routes, func(i, j int) bool {
		if routes[i].Path == routes[j].Path {
			return routes[i].Method < routes[j].Method
		}
		return routes[i].Path < routes[j].Path
	})
	var b strings.Builder
	b.WriteString(fmt.Sprintf("Registered routes (%d):\n", len(routes)))
	for _, rt := range routes {
		b.WriteString(fmt.Sprintf("  %-6s %s\n", rt.Method, rt.Path))
	}
	fmt.Print(b.String())
}

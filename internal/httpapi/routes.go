package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/DoyleJ11/live-match-sync/internal/hub"
	"github.com/DoyleJ11/live-match-sync/internal/store"
	"github.com/DoyleJ11/live-match-sync/internal/ws"
)

func SetupRoutes(h *hub.Hub, prefs store.Preferences, log *zap.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", Healthz)
	r.Get("/ws", ws.Handler(h, prefs, log))

	r.Route("/matches/{matchID}", func(r chi.Router) {
		r.Delete("/", CloseMatch(h))
		r.Get("/snapshot", GetSnapshot(h))
		r.Get("/status", GetStatus(h))
		r.Post("/flush", FlushMatch(h))

		r.Route("/teams/{teamID}", func(r chi.Router) {
			r.Put("/points", SetPoints(h))
			r.Put("/eliminated", SetTeamEliminated(h))
			r.Put("/roster", ReplaceRoster(h))
			r.Post("/players/{playerID}/kills", AddKill(h))
			r.Post("/players/{playerID}/death", ToggleDeath(h))
		})
	})

	r.Route("/tournaments/{tournamentID}", func(r chi.Router) {
		r.Get("/theme", GetTheme(prefs))
		r.Put("/theme", PutTheme(prefs))
	})
	return r
}

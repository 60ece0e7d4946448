package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/DoyleJ11/live-match-sync/internal/batch"
	"github.com/DoyleJ11/live-match-sync/internal/control"
	"github.com/DoyleJ11/live-match-sync/internal/hub"
	"github.com/DoyleJ11/live-match-sync/internal/match"
	"github.com/DoyleJ11/live-match-sync/internal/store"
	"github.com/DoyleJ11/live-match-sync/internal/types"
	"github.com/DoyleJ11/live-match-sync/internal/view"
)

const maxBody = 1 << 20

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, match.ErrUnknownTeam), errors.Is(err, match.ErrUnknownPlayer), errors.Is(err, store.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, store.ErrInvalidTheme):
		status = http.StatusBadRequest
	case errors.Is(err, view.ErrClosed), errors.Is(err, batch.ErrStopped):
		status = http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		status = http.StatusGatewayTimeout
	}
	writeJSON(w, status, errorBody{Error: err.Error()})
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "bad json: " + err.Error()})
		return false
	}
	return true
}

func ensureDesk(ctx context.Context, h *hub.Hub, matchID string) (*control.Desk, error) {
	reply := make(chan *control.Desk, 1)
	select {
	case h.Inbox() <- hub.EnsureDesk{MatchID: matchID, Reply: reply}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case d := <-reply:
		return d, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// getDesk returns the match's desk, or nil when nobody has edited it yet.
func getDesk(ctx context.Context, h *hub.Hub, matchID string) (*control.Desk, error) {
	reply := make(chan *control.Desk, 1)
	select {
	case h.Inbox() <- hub.GetDesk{MatchID: matchID, Reply: reply}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case d := <-reply:
		return d, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// deskHandler resolves the match's desk, opening it on first use, before
// calling fn.
func deskHandler(h *hub.Hub, fn func(w http.ResponseWriter, r *http.Request, d *control.Desk)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		d, err := ensureDesk(r.Context(), h, chi.URLParam(r, "matchID"))
		if err != nil {
			writeError(w, err)
			return
		}
		fn(w, r, d)
	}
}

// openDeskHandler is deskHandler for routes that must not open a desk.
func openDeskHandler(h *hub.Hub, fn func(w http.ResponseWriter, r *http.Request, d *control.Desk)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		matchID := chi.URLParam(r, "matchID")
		d, err := getDesk(r.Context(), h, matchID)
		if err != nil {
			writeError(w, err)
			return
		}
		if d == nil {
			writeJSON(w, http.StatusNotFound, errorBody{Error: "no open desk for match " + matchID})
			return
		}
		fn(w, r, d)
	}
}

func AddKill(h *hub.Hub) http.HandlerFunc {
	return deskHandler(h, func(w http.ResponseWriter, r *http.Request, d *control.Desk) {
		var body struct {
			Delta int `json:"delta"`
		}
		if !decode(w, r, &body) {
			return
		}
		if body.Delta == 0 {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "delta must not be zero"})
			return
		}
		teamID, playerID := chi.URLParam(r, "teamID"), chi.URLParam(r, "playerID")
		if err := d.AddKill(r.Context(), teamID, playerID, body.Delta); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, d.Status(control.KillsKey(resolve(r.Context(), d, teamID), playerID)))
	})
}

func ToggleDeath(h *hub.Hub) http.HandlerFunc {
	return deskHandler(h, func(w http.ResponseWriter, r *http.Request, d *control.Desk) {
		died, err := d.ToggleDeath(r.Context(), chi.URLParam(r, "teamID"), chi.URLParam(r, "playerID"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, struct {
			HasDied bool `json:"hasDied"`
		}{HasDied: died})
	})
}

func SetPoints(h *hub.Hub) http.HandlerFunc {
	return deskHandler(h, func(w http.ResponseWriter, r *http.Request, d *control.Desk) {
		var body struct {
			Points *int `json:"points"`
		}
		if !decode(w, r, &body) {
			return
		}
		if body.Points == nil || *body.Points < 0 {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "points must be a non-negative number"})
			return
		}
		teamID := chi.URLParam(r, "teamID")
		if err := d.SetPlacementPoints(r.Context(), teamID, *body.Points); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, d.Status(control.PointsKey(resolve(r.Context(), d, teamID))))
	})
}

func SetTeamEliminated(h *hub.Hub) http.HandlerFunc {
	return deskHandler(h, func(w http.ResponseWriter, r *http.Request, d *control.Desk) {
		var body struct {
			Eliminated *bool `json:"eliminated"`
		}
		if !decode(w, r, &body) {
			return
		}
		if body.Eliminated == nil {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "missing eliminated"})
			return
		}
		teamID := chi.URLParam(r, "teamID")
		if err := d.EliminateTeam(r.Context(), teamID, *body.Eliminated); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, d.Status(control.EliminatedKey(resolve(r.Context(), d, teamID))))
	})
}

func ReplaceRoster(h *hub.Hub) http.HandlerFunc {
	return deskHandler(h, func(w http.ResponseWriter, r *http.Request, d *control.Desk) {
		var body struct {
			Players []types.PlayerPayload `json:"players"`
		}
		if !decode(w, r, &body) {
			return
		}
		teamID := chi.URLParam(r, "teamID")
		if err := d.ReplaceRoster(r.Context(), teamID, types.ToPlayers(body.Players)); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, d.Status(control.RosterKey(resolve(r.Context(), d, teamID))))
	})
}

func GetSnapshot(h *hub.Hub) http.HandlerFunc {
	return openDeskHandler(h, func(w http.ResponseWriter, r *http.Request, d *control.Desk) {
		st, err := d.View().State(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		if !st.Loaded {
			writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "snapshot not loaded yet"})
			return
		}
		writeJSON(w, http.StatusOK, types.FromSnapshot(st.Snapshot))
	})
}

func GetStatus(h *hub.Hub) http.HandlerFunc {
	return openDeskHandler(h, func(w http.ResponseWriter, r *http.Request, d *control.Desk) {
		st, err := d.View().State(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, struct {
			MatchID   string                `json:"matchId"`
			Connected bool                  `json:"connected"`
			Loaded    bool                  `json:"loaded"`
			Version   int                   `json:"version"`
			Fields    []control.FieldStatus `json:"fields"`
		}{
			MatchID:   d.MatchID(),
			Connected: st.Connected,
			Loaded:    st.Loaded,
			Version:   st.Version,
			Fields:    d.Statuses(),
		})
	})
}

func FlushMatch(h *hub.Hub) http.HandlerFunc {
	return openDeskHandler(h, func(w http.ResponseWriter, r *http.Request, d *control.Desk) {
		ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
		defer cancel()
		if err := d.Flush(ctx); err != nil {
			writeJSON(w, http.StatusBadGateway, errorBody{Error: err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, d.Statuses())
	})
}

// CloseMatch flushes and drops the match's desk, releasing its connection
// handle.
func CloseMatch(h *hub.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		select {
		case h.Inbox() <- hub.RemoveDesk{MatchID: chi.URLParam(r, "matchID")}:
			w.WriteHeader(http.StatusNoContent)
		case <-r.Context().Done():
			writeError(w, r.Context().Err())
		}
	}
}

func GetTheme(prefs store.Preferences) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tid := chi.URLParam(r, "tournamentID")
		theme, err := prefs.Theme(r.Context(), tid)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, themeBody{Theme: theme})
	}
}

func PutTheme(prefs store.Preferences) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body themeBody
		if !decode(w, r, &body) {
			return
		}
		tid := chi.URLParam(r, "tournamentID")
		if err := prefs.SetTheme(r.Context(), tid, body.Theme); err != nil {
			writeError(w, err)
			return
		}
		theme, err := prefs.Theme(r.Context(), tid)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, themeBody{Theme: theme})
	}
}

type themeBody struct {
	Theme string `json:"theme"`
}

func Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

// resolve maps a team reference (primary or legacy id) to the primary id used
// in status keys.
func resolve(ctx context.Context, d *control.Desk, teamRef string) string {
	s, err := d.Snapshot(ctx)
	if err != nil {
		return teamRef
	}
	if t, ok := s.Team(teamRef); ok {
		return t.TeamID
	}
	return teamRef
}

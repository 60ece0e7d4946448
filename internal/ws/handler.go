package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/DoyleJ11/live-match-sync/internal/hub"
	"github.com/DoyleJ11/live-match-sync/internal/store"
	"github.com/DoyleJ11/live-match-sync/internal/types"
	"github.com/DoyleJ11/live-match-sync/internal/view"
)

const writeTimeout = 3 * time.Second

var errHubClosed = errors.New("hub closed")

// Themes resolves the overlay theme chosen for a tournament.
type Themes interface {
	Theme(ctx context.Context, tournamentID string) (string, error)
}

// Handler streams overlay frames for ?match=<id>. Every connection gets its
// own view of the match; the socket is read-only for the client.
func Handler(h *hub.Hub, themes Themes, log *zap.Logger) http.HandlerFunc {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("ws")

	return func(w http.ResponseWriter, r *http.Request) {
		matchID := r.URL.Query().Get("match")
		if matchID == "" {
			http.Error(w, "missing match", http.StatusBadRequest)
			return
		}

		theme := ""
		if tid := r.URL.Query().Get("tournament"); tid != "" && themes != nil {
			t, err := themes.Theme(r.Context(), tid)
			switch {
			case err == nil:
				theme = t
			case !errors.Is(err, store.ErrNotFound):
				log.Warn("load theme", zap.String("tournament_id", tid), zap.Error(err))
			}
		}

		v, err := openView(r.Context(), h, matchID)
		if err != nil {
			http.Error(w, "overlay unavailable", http.StatusServiceUnavailable)
			return
		}
		defer closeView(h, v)

		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "bye")

		clientID := uuid.NewString()
		clog := log.With(zap.String("client_id", clientID), zap.String("match_id", matchID))
		out := make(chan view.Update, 8)
		select {
		case v.Inbox() <- view.Join{ClientID: clientID, Outbox: out}:
		case <-v.Done():
			return
		}
		defer func() {
			select {
			case v.Inbox() <- view.Leave{ClientID: clientID}:
			case <-v.Done():
			}
		}()
		clog.Debug("overlay connected")

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		if theme != "" {
			if err := write(ctx, conn, types.ServerMessage{Type: "Theme", Theme: theme}); err != nil {
				return
			}
		}

		// Writer goroutine
		go func() {
			defer cancel()
			for u := range out {
				frame := u.Frame
				if err := write(ctx, conn, types.ServerMessage{Type: "Frame", Version: u.Version, Frame: &frame}); err != nil {
					clog.Debug("write frame", zap.Error(err))
					return
				}
			}
			if err := v.Err(); err != nil {
				_ = write(ctx, conn, types.ServerMessage{Type: "Error", Error: "match unavailable"})
				conn.Close(websocket.StatusGoingAway, "match unavailable")
			}
		}()

		// Reader loop: overlays never write, so anything they send is refused.
		for {
			_, _, err := conn.Read(ctx)
			if err != nil {
				switch websocket.CloseStatus(err) {
				case websocket.StatusNormalClosure, websocket.StatusGoingAway:
					clog.Debug("overlay disconnected")
				default:
					if ctx.Err() == nil {
						clog.Debug("read", zap.Error(err))
					}
				}
				return
			}
			_ = write(ctx, conn, types.ServerMessage{Type: "Error", Error: "overlay stream is read-only"})
		}
	}
}

func openView(ctx context.Context, h *hub.Hub, matchID string) (*view.View, error) {
	reply := make(chan *view.View, 1)
	select {
	case h.Inbox() <- hub.OpenView{MatchID: matchID, Reply: reply}:
	case <-h.Done():
		return nil, errHubClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case v := <-reply:
		return v, nil
	case <-h.Done():
		return nil, errHubClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// closeView hands v back to the hub. A stopped hub has already cancelled it.
func closeView(h *hub.Hub, v *view.View) {
	select {
	case h.Inbox() <- hub.CloseView{View: v}:
	case <-h.Done():
	}
}

func write(ctx context.Context, conn *websocket.Conn, msg types.ServerMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, payload)
}

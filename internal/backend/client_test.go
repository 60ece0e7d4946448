package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DoyleJ11/live-match-sync/internal/match"
)

type captured struct {
	Method string
	Path   string
	Auth   string
	Body   string
}

func newTestServer(t *testing.T, status int, respond string) (*Client, <-chan captured) {
	t.Helper()
	seen := make(chan captured, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		seen <- captured{Method: r.Method, Path: r.URL.EscapedPath(), Auth: r.Header.Get("Authorization"), Body: string(body)}
		if status == http.StatusTooManyRequests {
			w.Header().Set("Retry-After", "2")
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, respond)
	}))
	t.Cleanup(srv.Close)

	c, err := NewClient(srv.URL+"/api/", WithToken("secret"))
	require.NoError(t, err)
	return c, seen
}

func TestClient_OutboundCalls(t *testing.T) {
	ctx := context.Background()
	cases := []struct {
		name       string
		call       func(c *Client) error
		wantMethod string
		wantPath   string
		wantBody   string
	}{
		{
			name:       "adjust kills",
			call:       func(c *Client) error { return c.AdjustKills(ctx, "m1", "A", "p 1", -2) },
			wantMethod: http.MethodPost,
			wantPath:   "/api/matches/m1/teams/A/players/p%201/kills",
			wantBody:   `{"delta":-2}`,
		},
		{
			name:       "set placement points",
			call:       func(c *Client) error { return c.SetPlacementPoints(ctx, "m1", "A", 15) },
			wantMethod: http.MethodPut,
			wantPath:   "/api/matches/m1/teams/A/points",
			wantBody:   `{"placementPoints":15}`,
		},
		{
			name:       "set player eliminated",
			call:       func(c *Client) error { return c.SetPlayerEliminated(ctx, "m1", "A", "p1", true) },
			wantMethod: http.MethodPut,
			wantPath:   "/api/matches/m1/teams/A/players/p1/eliminated",
			wantBody:   `{"eliminated":true}`,
		},
		{
			name:       "set team eliminated",
			call:       func(c *Client) error { return c.SetTeamEliminated(ctx, "m1", "A", false) },
			wantMethod: http.MethodPut,
			wantPath:   "/api/matches/m1/teams/A/eliminated",
			wantBody:   `{"eliminated":false}`,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c, seen := newTestServer(t, http.StatusNoContent, "")
			require.NoError(t, tc.call(c))
			got := <-seen
			assert.Equal(t, tc.wantMethod, got.Method)
			assert.Equal(t, tc.wantPath, got.Path)
			assert.Equal(t, "Bearer secret", got.Auth)
			assert.JSONEq(t, tc.wantBody, got.Body)
		})
	}
}

func TestClient_ReplaceRoster(t *testing.T) {
	c, seen := newTestServer(t, http.StatusOK, `{}`)
	require.NoError(t, c.ReplaceRoster(context.Background(), "m1", "A", []match.Player{{PlayerID: "p1", Name: "one"}}))

	got := <-seen
	var body struct {
		Players []struct {
			PlayerID string `json:"playerId"`
			Name     string `json:"name"`
		} `json:"players"`
	}
	require.NoError(t, json.Unmarshal([]byte(got.Body), &body))
	require.Len(t, body.Players, 1)
	assert.Equal(t, "p1", body.Players[0].PlayerID)
	assert.Equal(t, "one", body.Players[0].Name)
}

func TestClient_FetchSnapshot(t *testing.T) {
	c, seen := newTestServer(t, http.StatusOK, `{"matchId":"m1","teams":[{"teamId":"A","placementPoints":4,"players":[{"playerId":"p1","kills":2}]}]}`)

	s, err := c.FetchSnapshot(context.Background(), "m1")
	require.NoError(t, err)
	assert.Equal(t, "/api/matches/m1", (<-seen).Path)
	require.Len(t, s.Teams, 1)
	assert.Equal(t, 4, s.Teams[0].PlacementPoints)
	assert.Equal(t, 2, s.Teams[0].Players[0].KillCount)
}

func TestClient_FetchSnapshotWrongMatch(t *testing.T) {
	c, _ := newTestServer(t, http.StatusOK, `{"matchId":"other","teams":[]}`)
	_, err := c.FetchSnapshot(context.Background(), "m1")
	assert.Error(t, err)
}

func TestClient_ErrorClassification(t *testing.T) {
	c, _ := newTestServer(t, http.StatusTooManyRequests, `{"error":"slow down"}`)
	err := c.SetPlacementPoints(context.Background(), "m1", "A", 1)
	require.Error(t, err)
	assert.True(t, IsRateLimited(err))

	var apiErr *Error
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, 2*time.Second, apiErr.RetryAfter)
	assert.Equal(t, "slow down", apiErr.Message)

	c, _ = newTestServer(t, http.StatusNotFound, `{"message":"no such team"}`)
	err = c.SetPlacementPoints(context.Background(), "m1", "A", 1)
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.False(t, IsRateLimited(err))
	assert.True(t, IsNotFound(err))
	assert.Contains(t, err.Error(), "no such team")
}

func TestRetryAfter(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want time.Duration
	}{
		{"rate limited", fmt.Errorf("flush: %w", &Error{Status: http.StatusTooManyRequests, RetryAfter: 2 * time.Second}), 2 * time.Second},
		{"rate limited without header", &Error{Status: http.StatusTooManyRequests}, 0},
		{"gateway timeout", &Error{Status: http.StatusGatewayTimeout, RetryAfter: time.Second}, 0},
		{"other", errors.New("boom"), 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, RetryAfter(tc.err))
		})
	}
}

func TestIsRateLimited_OnlyTooManyRequests(t *testing.T) {
	for _, status := range []int{http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout, http.StatusBadRequest} {
		assert.False(t, IsRateLimited(&Error{Status: status}), status)
	}
	assert.True(t, IsRateLimited(fmt.Errorf("wrapped: %w", &Error{Status: http.StatusTooManyRequests})))
}

func TestNewClient_RejectsRelativeURL(t *testing.T) {
	_, err := NewClient("/just/a/path")
	assert.Error(t, err)
}

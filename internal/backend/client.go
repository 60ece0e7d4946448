package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/DoyleJ11/live-match-sync/internal/match"
	"github.com/DoyleJ11/live-match-sync/internal/types"
)

var ErrRateLimited = errors.New("rate limited")
var ErrNotFound = errors.New("not found")

// Error is a non-2xx response from the match API.
type Error struct {
	Status     int
	Message    string
	RetryAfter time.Duration
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("match api: status %d", e.Status)
	}
	return fmt.Sprintf("match api: status %d: %s", e.Status, e.Message)
}

func (e *Error) Is(target error) bool {
	switch target {
	case ErrRateLimited:
		return e.Status == http.StatusTooManyRequests
	case ErrNotFound:
		return e.Status == http.StatusNotFound
	}
	return false
}

func IsRateLimited(err error) bool {
	return errors.Is(err, ErrRateLimited)
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// RetryAfter returns the wait the backend asked for on a rate-limited call,
// or zero.
func RetryAfter(err error) time.Duration {
	var apiErr *Error
	if errors.As(err, &apiErr) && apiErr.Status == http.StatusTooManyRequests {
		return apiErr.RetryAfter
	}
	return 0
}

// Client talks to the external match-editing API.
type Client struct {
	base  *url.URL
	token string
	http  *http.Client
	log   *zap.Logger
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option { return func(c *Client) { c.http = hc } }
func WithToken(token string) Option         { return func(c *Client) { c.token = token } }
func WithLogger(log *zap.Logger) Option     { return func(c *Client) { c.log = log } }

func NewClient(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse backend url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("backend url %q: missing scheme or host", baseURL)
	}
	c := &Client{base: u, http: &http.Client{Timeout: 10 * time.Second}, log: zap.NewNop()}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.Named("backend")
	return c, nil
}

// FetchSnapshot loads the full match record.
func (c *Client) FetchSnapshot(ctx context.Context, matchID string) (*match.Snapshot, error) {
	var mp types.MatchPayload
	if err := c.do(ctx, http.MethodGet, c.path("matches", matchID), nil, &mp); err != nil {
		return nil, err
	}
	if mp.MatchID == "" {
		mp.MatchID = matchID
	}
	if mp.MatchID != matchID {
		return nil, fmt.Errorf("fetch %s: got match %q", matchID, mp.MatchID)
	}
	return types.ToSnapshot(mp), nil
}

// AdjustKills is additive: callers must send each coalesced delta once.
func (c *Client) AdjustKills(ctx context.Context, matchID, teamID, playerID string, delta int) error {
	body := struct {
		Delta int `json:"delta"`
	}{delta}
	return c.do(ctx, http.MethodPost, c.path("matches", matchID, "teams", teamID, "players", playerID, "kills"), body, nil)
}

func (c *Client) SetPlacementPoints(ctx context.Context, matchID, teamID string, points int) error {
	body := struct {
		PlacementPoints int `json:"placementPoints"`
	}{points}
	return c.do(ctx, http.MethodPut, c.path("matches", matchID, "teams", teamID, "points"), body, nil)
}

func (c *Client) SetPlayerEliminated(ctx context.Context, matchID, teamID, playerID string, eliminated bool) error {
	body := struct {
		Eliminated bool `json:"eliminated"`
	}{eliminated}
	return c.do(ctx, http.MethodPut, c.path("matches", matchID, "teams", teamID, "players", playerID, "eliminated"), body, nil)
}

func (c *Client) SetTeamEliminated(ctx context.Context, matchID, teamID string, eliminated bool) error {
	body := struct {
		Eliminated bool `json:"eliminated"`
	}{eliminated}
	return c.do(ctx, http.MethodPut, c.path("matches", matchID, "teams", teamID, "eliminated"), body, nil)
}

func (c *Client) ReplaceRoster(ctx context.Context, matchID, teamID string, players []match.Player) error {
	body := struct {
		Players []types.PlayerPayload `json:"players"`
	}{types.FromPlayers(players)}
	return c.do(ctx, http.MethodPut, c.path("matches", matchID, "teams", teamID, "players"), body, nil)
}

func (c *Client) path(segments ...string) string {
	escaped := make([]string, len(segments))
	for i, s := range segments {
		escaped[i] = url.PathEscape(s)
	}
	return c.base.String() + "/" + strings.Join(escaped, "/")
}

func (c *Client) do(ctx context.Context, method, target string, body, out any) error {
	var rd io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", method, target, err)
		}
		rd = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, rd)
	if err != nil {
		return fmt.Errorf("build %s %s: %w", method, target, err)
	}
	reqID := uuid.NewString()
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", reqID)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, target, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &Error{Status: resp.StatusCode, RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"))}
		var msg struct {
			Error   string `json:"error"`
			Message string `json:"message"`
		}
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		if json.Unmarshal(raw, &msg) == nil {
			apiErr.Message = msg.Error
			if apiErr.Message == "" {
				apiErr.Message = msg.Message
			}
		}
		c.log.Debug("request failed",
			zap.String("method", method),
			zap.String("url", target),
			zap.String("request_id", reqID),
			zap.Int("status", resp.StatusCode),
		)
		return apiErr
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, target, err)
	}
	return nil
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

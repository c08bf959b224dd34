// Package twitchapi contains minimal helpers to interact with Twitch Helix APIs
// for user id resolution and stream liveness, using an app access token, plus
// the user OAuth flow for the bot's chat token.
package twitchapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/onnwee/gamerdeathbot/telemetry"
)

// Offline is the uptime reported for a channel that is not live.
const Offline = -1

const defaultHelixBase = "https://api.twitch.tv/helix"

var (
	helixMaxRetries = 3
	helixRetryDelay = 250 * time.Millisecond
)

// ErrNotFound is returned when a lookup matches nothing.
var ErrNotFound = errors.New("twitchapi: not found")

// HelixClient provides the Helix calls the bot needs.
type HelixClient struct {
	AppTokenSource *TokenSource
	ClientID       string
	HTTPClient     *http.Client
	// BaseURL overrides the Helix API root.
	BaseURL string
	// Now overrides the clock used for uptime.
	Now func() time.Time
}

// Stream is a live broadcast.
type Stream struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	UserLogin   string    `json:"user_login"`
	GameName    string    `json:"game_name"`
	Title       string    `json:"title"`
	Type        string    `json:"type"`
	ViewerCount int       `json:"viewer_count"`
	StartedAt   time.Time `json:"started_at"`
}

func (hc *HelixClient) http() *http.Client {
	if hc.HTTPClient != nil {
		return hc.HTTPClient
	}
	return http.DefaultClient
}

func (hc *HelixClient) now() time.Time {
	if hc.Now != nil {
		return hc.Now()
	}
	return time.Now()
}

// get performs an authenticated GET against endpoint and decodes the JSON
// body into out. 5xx responses are retried; a 401 drops the cached app token
// and retries with a fresh one.
func (hc *HelixClient) get(ctx context.Context, endpoint string, q url.Values, out any) error {
	ctx, span := telemetry.StartSpan(ctx, telemetry.TracerHelix, "helix."+endpoint, attribute.String("helix.endpoint", endpoint))
	defer span.End()
	start := time.Now()
	defer func() { telemetry.ObserveHelix(endpoint, time.Since(start)) }()

	base := hc.BaseURL
	if base == "" {
		base = defaultHelixBase
	}
	u := base + "/" + endpoint + "?" + q.Encode()

	var lastErr error
	for attempt := 1; attempt <= helixMaxRetries; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				telemetry.RecordError(span, ctx.Err())
				return ctx.Err()
			case <-time.After(helixRetryDelay * time.Duration(attempt-1)):
			}
		}
		tok, err := hc.AppTokenSource.Get(ctx)
		if err != nil {
			telemetry.RecordError(span, err)
			return err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return err
		}
		req.Header.Set("Client-Id", hc.ClientID)
		req.Header.Set("Authorization", "Bearer "+tok)

		resp, err := hc.http().Do(req)
		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				break
			}
			continue
		}
		retry, err := decodeHelix(resp, out)
		if err == nil {
			telemetry.SetSpanSuccess(span)
			return nil
		}
		lastErr = fmt.Errorf("helix %s: %w", endpoint, err)
		if resp.StatusCode == http.StatusUnauthorized {
			hc.AppTokenSource.Invalidate()
		}
		if !retry {
			break
		}
		slog.Debug("helix request retry", slog.String("component", "helix"), slog.String("endpoint", endpoint), slog.Int("attempt", attempt), slog.Any("err", err))
	}
	telemetry.RecordError(span, lastErr)
	return lastErr
}

// decodeHelix closes resp.Body and reports whether a failed response is worth
// retrying.
func decodeHelix(resp *http.Response, out any) (bool, error) {
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		retry := resp.StatusCode >= 500 || resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusTooManyRequests
		return retry, fmt.Errorf("%s: %s", resp.Status, string(b))
	}
	return false, json.NewDecoder(resp.Body).Decode(out)
}

// GetUserID resolves a login name to its user ID.
func (hc *HelixClient) GetUserID(ctx context.Context, login string) (string, error) {
	if login == "" {
		return "", fmt.Errorf("login empty")
	}
	var body struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := hc.get(ctx, "users", url.Values{"login": {login}}, &body); err != nil {
		return "", err
	}
	if len(body.Data) == 0 {
		return "", fmt.Errorf("user not found: %s: %w", login, ErrNotFound)
	}
	return body.Data[0].ID, nil
}

// GetStreams returns the live streams for the given user ID. An empty slice
// means the channel is offline.
func (hc *HelixClient) GetStreams(ctx context.Context, userID string) ([]Stream, error) {
	if userID == "" {
		return nil, fmt.Errorf("userID empty")
	}
	var body struct {
		Data []Stream `json:"data"`
	}
	if err := hc.get(ctx, "streams", url.Values{"user_id": {userID}}, &body); err != nil {
		return nil, err
	}
	return body.Data, nil
}

// UptimeSeconds reports how long the channel has been continuously live, or
// Offline when it is not broadcasting.
func (hc *HelixClient) UptimeSeconds(ctx context.Context, channelID string) (int, error) {
	streams, err := hc.GetStreams(ctx, channelID)
	if err != nil {
		return Offline, err
	}
	for _, s := range streams {
		if s.Type != "" && s.Type != "live" {
			continue
		}
		up := int(hc.now().Sub(s.StartedAt) / time.Second)
		if up < 0 {
			up = 0
		}
		return up, nil
	}
	return Offline, nil
}

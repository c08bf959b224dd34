// Package oauth keeps the bot's stored Twitch chat token fresh. It performs
// jittered checks and refreshes when expiry falls within a configured window.
package oauth

import (
	"context"
	"log/slog"
	"math/rand"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/onnwee/gamerdeathbot/db"
	"github.com/onnwee/gamerdeathbot/telemetry"
)

// Refresher exchanges a refresh token for a new token. *twitchapi.OAuth satisfies it.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error)
}

// TokenStore persists tokens. *db.TokenStore satisfies it.
type TokenStore interface {
	Get(ctx context.Context, provider string) (*db.OAuthToken, error)
	Upsert(ctx context.Context, t db.OAuthToken) error
}

// ScopeFunc extracts the granted scope from a refreshed token.
type ScopeFunc func(*oauth2.Token) string

// Result describes one refresh check.
type Result string

const (
	ResultSkipped Result = "skipped"
	ResultSuccess Result = "success"
	ResultFailed  Result = "failed"
)

// CheckOnce refreshes the provider's token if it expires within window.
func CheckOnce(ctx context.Context, store TokenStore, provider string, window time.Duration, r Refresher, scope ScopeFunc) Result {
	log := slog.Default().With(slog.String("component", "oauth_refresh"), slog.String("provider", provider))
	cur, err := store.Get(ctx, provider)
	if err != nil {
		log.Warn("token load failed", slog.Any("err", err))
		return ResultFailed
	}
	if cur == nil || cur.RefreshToken == "" {
		return ResultSkipped
	}
	if !cur.Expiry.IsZero() && time.Until(cur.Expiry) > window {
		return ResultSkipped
	}

	ctx2, cancel := context.WithTimeout(ctx, 15*time.Second)
	tok, err := r.Refresh(ctx2, cur.RefreshToken)
	cancel()
	if err != nil {
		log.Warn("token refresh failed", slog.Any("err", err))
		telemetry.IncTokenRefresh(string(ResultFailed))
		return ResultFailed
	}

	next := db.OAuthToken{
		Provider:     provider,
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		Expiry:       tok.Expiry,
		Scope:        cur.Scope,
	}
	if next.RefreshToken == "" {
		next.RefreshToken = cur.RefreshToken
	}
	if scope != nil {
		if s := strings.TrimSpace(scope(tok)); s != "" {
			next.Scope = s
		}
	}
	if err := store.Upsert(ctx, next); err != nil {
		log.Warn("token persist failed", slog.Any("err", err))
		telemetry.IncTokenRefresh(string(ResultFailed))
		return ResultFailed
	}
	telemetry.IncTokenRefresh(string(ResultSuccess))
	log.Info("token refreshed", slog.Time("expires_at", next.Expiry))
	return ResultSuccess
}

// StartRefresher launches a goroutine that periodically calls CheckOnce.
// interval: how often to wake up and check.
// window: refresh when remaining lifetime <= window.
// onRefresh, if set, runs after each successful refresh.
func StartRefresher(ctx context.Context, store TokenStore, provider string, interval, window time.Duration, r Refresher, scope ScopeFunc, onRefresh func()) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if window <= 0 {
		window = 15 * time.Minute
	}
	//nolint:gosec // G404: math/rand is sufficient for scheduling jitter, not used for security
	initialJitter := time.Duration(rand.Int63n(int64(interval/2) + 1))
	go func() {
		select {
		case <-ctx.Done():
			return
		case <-time.After(initialJitter):
		}
		for {
			if CheckOnce(ctx, store, provider, window, r, scope) == ResultSuccess && onRefresh != nil {
				onRefresh()
			}
			// ±20% of interval
			jitterRange := int64(interval / 5)
			//nolint:gosec // G404: math/rand is sufficient for scheduling jitter, not used for security
			jitter := time.Duration(rand.Int63n(jitterRange*2+1) - jitterRange)
			nextSleep := interval + jitter
			if nextSleep < interval/2 {
				nextSleep = interval / 2
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(nextSleep):
			}
		}
	}()
}

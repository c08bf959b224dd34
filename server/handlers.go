// Package server exposes the bot's HTTP surface: probes, metrics, a status
// snapshot and the Twitch authorization-code flow for the chat token.
package server

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/onnwee/gamerdeathbot/chat"
	"github.com/onnwee/gamerdeathbot/db"
)

const (
	// Maximum number of OAuth states to keep in memory
	maxOAuthStates = 10000
	oauthStateTTL  = 10 * time.Minute
)

// ConnState reports the IRC link. *irc.Conn satisfies it.
type ConnState interface {
	Connected() bool
	Nick() string
}

// SessionLister exposes the channel sessions. *chat.Registry satisfies it.
type SessionLister interface {
	Home() string
	Sessions() []*chat.Session
}

// CodeExchanger runs the authorization-code grant. *twitchapi.OAuth satisfies it.
type CodeExchanger interface {
	AuthorizeURL(state string) (string, error)
	Exchange(ctx context.Context, code string) (*oauth2.Token, error)
}

// TokenStore persists the chat token. *db.TokenStore satisfies it.
type TokenStore interface {
	Upsert(ctx context.Context, t db.OAuthToken) error
}

// Deps are the components the handlers read. Any of them may be nil; the
// endpoints that need a missing one report it as not configured.
type Deps struct {
	DB       *sql.DB
	Conn     ConnState
	Registry SessionLister
	OAuth    CodeExchanger
	Tokens   TokenStore
	// OnToken runs after a new chat token has been stored.
	OnToken func(ctx context.Context)
}

// Handlers holds dependencies for all HTTP handlers.
type Handlers struct {
	deps       Deps
	ctx        context.Context
	now        func() time.Time
	stateStore map[string]time.Time
	stateMu    sync.RWMutex
}

// NewHandlers creates a new Handlers instance with the given dependencies.
func NewHandlers(ctx context.Context, deps Deps) *Handlers {
	return &Handlers{
		deps:       deps,
		ctx:        ctx,
		now:        time.Now,
		stateStore: make(map[string]time.Time),
	}
}

// cleanExpiredStates removes expired OAuth states from the store.
// This should be called with stateMu locked.
func (h *Handlers) cleanExpiredStates() {
	now := h.now()
	for state, expiry := range h.stateStore {
		if now.After(expiry) {
			delete(h.stateStore, state)
		}
	}
}

// addOAuthState records state until expiry. It reports false when the store
// is full.
func (h *Handlers) addOAuthState(state string, expiry time.Time) bool {
	h.stateMu.Lock()
	defer h.stateMu.Unlock()

	if len(h.stateStore)%100 == 0 {
		h.cleanExpiredStates()
	}
	if len(h.stateStore) >= maxOAuthStates {
		return false
	}
	h.stateStore[state] = expiry
	return true
}

// consumeOAuthState removes state and reports whether it was valid.
func (h *Handlers) consumeOAuthState(state string) bool {
	h.stateMu.Lock()
	defer h.stateMu.Unlock()
	exp, ok := h.stateStore[state]
	delete(h.stateStore, state)
	return ok && !h.now().After(exp)
}

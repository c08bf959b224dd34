package chat

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/onnwee/gamerdeathbot/telemetry"
)

var (
	ErrAlreadyRegistered = errors.New("chat: channel already registered")
	ErrNotRegistered     = errors.New("chat: channel not registered")
	ErrHomeChannel       = errors.New("chat: home channel cannot be unregistered")
)

// Joiner joins and parts IRC channels. *irc.Conn satisfies it.
type Joiner interface {
	Join(ctx context.Context, channel string) error
	Part(ctx context.Context, channel string) error
}

// ChatJoiner is the connection surface sessions and the registry need.
type ChatJoiner interface {
	Chatter
	Joiner
}

// RegistryConfig configures how sessions are built.
type RegistryConfig struct {
	Home      string
	Replies   *Replies
	Cooldowns Cooldowns
	Reminder  ReminderConfig
	// Uptime may be nil, in which case no reminders run.
	Uptime   UptimeSource
	Resolver IDResolver
	Now      func() time.Time
}

type entry struct {
	session *Session
	cancel  context.CancelFunc
}

// Registry owns the channel sessions. Reminder goroutines are bound to the
// context given to NewRegistry.
type Registry struct {
	ctx  context.Context
	conn ChatJoiner
	cfg  RegistryConfig
	log  *slog.Logger

	mu       sync.RWMutex
	sessions map[string]*entry
	wg       sync.WaitGroup
}

// NewRegistry returns an empty registry.
func NewRegistry(ctx context.Context, conn ChatJoiner, cfg RegistryConfig) *Registry {
	cfg.Home = normalizeChannel(cfg.Home)
	return &Registry{
		ctx:      ctx,
		conn:     conn,
		cfg:      cfg,
		log:      slog.Default().With(slog.String("component", "chat")),
		sessions: map[string]*entry{},
	}
}

// Home returns the bot's home channel.
func (r *Registry) Home() string { return r.cfg.Home }

// Register creates a session for channel, joins it and starts its reminder.
func (r *Registry) Register(ctx context.Context, channel, id string) (*Session, error) {
	channel = normalizeChannel(channel)
	r.mu.Lock()
	if _, ok := r.sessions[channel]; ok {
		r.mu.Unlock()
		return nil, ErrAlreadyRegistered
	}
	s := NewSession(channel, id, r.conn, r.cfg.Replies, r.cfg.Cooldowns, r.cfg.Now)
	e := &entry{session: s, cancel: func() {}}
	if r.cfg.Uptime != nil {
		rem := NewReminder(s, r.cfg.Uptime, r.cfg.Resolver, r.cfg.Reminder)
		rctx, cancel := context.WithCancel(r.ctx)
		e.cancel = cancel
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			rem.Run(rctx)
		}()
	}
	r.sessions[channel] = e
	n := len(r.sessions)
	r.mu.Unlock()

	telemetry.SetChannels(n)
	if err := r.conn.Join(ctx, channel); err != nil {
		r.log.Warn("join failed; channel rejoined on next handshake", slog.String("channel", channel), slog.Any("err", err))
	}
	r.log.Info("channel registered", slog.String("channel", channel), slog.String("id", id))
	return s, nil
}

// Unregister stops the channel's reminder and leaves it.
func (r *Registry) Unregister(ctx context.Context, channel string) error {
	channel = normalizeChannel(channel)
	if channel == r.cfg.Home {
		return ErrHomeChannel
	}
	r.mu.Lock()
	e, ok := r.sessions[channel]
	if !ok {
		r.mu.Unlock()
		return ErrNotRegistered
	}
	delete(r.sessions, channel)
	n := len(r.sessions)
	r.mu.Unlock()

	e.cancel()
	telemetry.SetChannels(n)
	if err := r.conn.Part(ctx, channel); err != nil {
		r.log.Warn("part failed", slog.String("channel", channel), slog.Any("err", err))
	}
	r.log.Info("channel unregistered", slog.String("channel", channel))
	return nil
}

// Get returns the session for channel.
func (r *Registry) Get(channel string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.sessions[normalizeChannel(channel)]
	if !ok {
		return nil, false
	}
	return e.session, true
}

// Sessions returns all sessions ordered by channel name.
func (r *Registry) Sessions() []*Session {
	r.mu.RLock()
	out := make([]*Session, 0, len(r.sessions))
	for _, e := range r.sessions {
		out = append(out, e.session)
	}
	r.mu.RUnlock()
	slices.SortFunc(out, func(a, b *Session) int { return strings.Compare(a.Channel, b.Channel) })
	return out
}

// Close stops every reminder and waits for them to exit.
func (r *Registry) Close() {
	r.mu.Lock()
	for _, e := range r.sessions {
		e.cancel()
	}
	r.mu.Unlock()
	r.wg.Wait()
}

func normalizeChannel(channel string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(channel), "#"))
}

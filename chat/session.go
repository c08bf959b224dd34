package chat

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/onnwee/gamerdeathbot/config"
	"github.com/onnwee/gamerdeathbot/cooldown"
	"github.com/onnwee/gamerdeathbot/telemetry"
)

// Chatter posts a message to a channel. *irc.Conn satisfies it.
type Chatter interface {
	Chat(ctx context.Context, channel, msg string) error
}

// Gate names. Each session holds one gate per name.
const (
	GateGreeting   = "greeting"
	GateFarewell   = "farewell"
	GateGamerdeath = "gamerdeath"
	GateRegister   = "register"
)

// Cooldowns are the per-gate timeouts.
type Cooldowns struct {
	Greeting   time.Duration
	Farewell   time.Duration
	Gamerdeath time.Duration
	Register   time.Duration
}

// Replies holds reply texts and the user lists that decorate greetings.
type Replies struct {
	Phrases  config.Phrases
	VIPs     map[string]bool
	GiftSubs map[string]bool
	// Pick returns a number in [0,n). Defaults to math/rand/v2.
	Pick func(n int) int
}

// NewReplies lowercases the user lists into lookup sets.
func NewReplies(p config.Phrases, vips, giftSubs []string) *Replies {
	set := func(in []string) map[string]bool {
		m := make(map[string]bool, len(in))
		for _, u := range in {
			m[strings.ToLower(u)] = true
		}
		return m
	}
	return &Replies{Phrases: p, VIPs: set(vips), GiftSubs: set(giftSubs)}
}

func (r *Replies) pick(pool []string) string {
	n := rand.IntN
	if r.Pick != nil {
		n = r.Pick
	}
	return pool[n(len(pool))]
}

// Greeting builds "<phrase> <user> <decoration>" plus the VIP and gift-sub
// sentences when they apply. Both may apply at once.
func (r *Replies) Greeting(user string) string {
	msg := r.pick(r.Phrases.GreetingReplies) + " " + user + " " + r.Phrases.Decoration
	if r.VIPs[strings.ToLower(user)] {
		msg += " " + r.Phrases.VIPSuffix
	}
	if r.GiftSubs[strings.ToLower(user)] {
		msg += " " + r.Phrases.GiftSubSuffix
	}
	return msg
}

// Farewell builds "<phrase> <user> <decoration>".
func (r *Replies) Farewell(user string) string {
	return r.pick(r.Phrases.FarewellReplies) + " " + user + " " + r.Phrases.Decoration
}

// Session is the per-channel reply state.
type Session struct {
	Channel string

	mu sync.RWMutex
	id string

	chat     Chatter
	replies  *Replies
	gates    map[string]*cooldown.Gate
	reminder *Reminder
	log      *slog.Logger
}

// NewSession returns a session for channel. id may be empty and resolved later.
func NewSession(channel, id string, chat Chatter, replies *Replies, cd Cooldowns, now func() time.Time) *Session {
	channel = strings.ToLower(strings.TrimPrefix(channel, "#"))
	return &Session{
		Channel: channel,
		id:      id,
		chat:    chat,
		replies: replies,
		gates: map[string]*cooldown.Gate{
			GateGreeting:   cooldown.New(cd.Greeting, now),
			GateFarewell:   cooldown.New(cd.Farewell, now),
			GateGamerdeath: cooldown.New(cd.Gamerdeath, now),
			GateRegister:   cooldown.New(cd.Register, now),
		},
		log: slog.Default().With(slog.String("component", "chat"), slog.String("channel", channel)),
	}
}

// ID returns the channel's Twitch user id, or "" if not yet known.
func (s *Session) ID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.id
}

// SetID records the channel's Twitch user id.
func (s *Session) SetID(id string) {
	s.mu.Lock()
	s.id = id
	s.mu.Unlock()
}

// Reminder returns the session's reminder scheduler, if any.
func (s *Session) Reminder() *Reminder { return s.reminder }

// reply posts msg if the named gate is idle and arms it. It reports whether
// the gate let the message through.
func (s *Session) reply(ctx context.Context, gate, msg string) bool {
	if !s.gates[gate].TryArm() {
		telemetry.IncSuppressed(gate)
		s.log.Debug("reply suppressed by cooldown", slog.String("gate", gate))
		return false
	}
	if err := s.chat.Chat(ctx, s.Channel, msg); err != nil {
		s.log.Warn("reply not sent", slog.String("gate", gate), slog.Any("err", err))
		return true
	}
	telemetry.IncReply(gate)
	return true
}

// OnGreeting greets user unless the greeting gate is cooling down.
func (s *Session) OnGreeting(ctx context.Context, user string) bool {
	return s.reply(ctx, GateGreeting, s.replies.Greeting(user))
}

// OnFarewell says goodbye to user unless the farewell gate is cooling down.
func (s *Session) OnFarewell(ctx context.Context, user string) bool {
	return s.reply(ctx, GateFarewell, s.replies.Farewell(user))
}

// OnCommand handles a channel command. Only gamerdeath is a channel command;
// others are ignored.
func (s *Session) OnCommand(ctx context.Context, name string) bool {
	if name != CmdGamerdeath {
		return false
	}
	return s.reply(ctx, GateGamerdeath, s.replies.Phrases.GamerdeathReply)
}

func (s *Session) SendRegistered(ctx context.Context, user string) bool {
	return s.reply(ctx, GateRegister, "I joined your chat, "+user+"!")
}

func (s *Session) SendUnregistered(ctx context.Context, user string) bool {
	return s.reply(ctx, GateRegister, "I left your chat, "+user+"!")
}

func (s *Session) SendRegisterError(ctx context.Context, user string) bool {
	return s.reply(ctx, GateRegister, "I'm already in your chat, "+user+"!")
}

func (s *Session) SendUnregisterError(ctx context.Context, user string) bool {
	return s.reply(ctx, GateRegister, "I've already left your chat, "+user+"!")
}

// CooldownRemaining reports each gate's remaining cooldown.
func (s *Session) CooldownRemaining() map[string]time.Duration {
	out := make(map[string]time.Duration, len(s.gates))
	for name, g := range s.gates {
		out[name] = g.Remaining()
	}
	return out
}

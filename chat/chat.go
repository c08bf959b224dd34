package chat

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/onnwee/gamerdeathbot/db"
	"github.com/onnwee/gamerdeathbot/irc"
	"github.com/onnwee/gamerdeathbot/telemetry"
)

// Receiver is the connection surface the dispatcher drives. *irc.Conn satisfies it.
type Receiver interface {
	Receive(ctx context.Context) (string, error)
	Send(ctx context.Context, line string) error
	Reconnect(ctx context.Context) error
	Nick() string
}

// Recorder stores chat messages. *ChatLogger satisfies it.
type Recorder interface {
	Record(e db.ChatLogEntry)
}

// systemSender is the server's own account; its messages are never answered.
const systemSender = "tmi"

// Dispatcher runs the receive loop and routes messages to sessions. It is the
// only goroutine that reads from the connection, so messages are handled in
// the order they arrive.
type Dispatcher struct {
	conn     Receiver
	registry *Registry
	matcher  *Matcher
	recorder Recorder
	// IdleDelay is slept after ErrNotConnected before receiving again.
	IdleDelay time.Duration
	now       func() time.Time
	log       *slog.Logger
}

// NewDispatcher wires a dispatcher. recorder may be nil.
func NewDispatcher(conn Receiver, registry *Registry, matcher *Matcher, recorder Recorder) *Dispatcher {
	return &Dispatcher{
		conn:      conn,
		registry:  registry,
		matcher:   matcher,
		recorder:  recorder,
		IdleDelay: time.Second,
		now:       time.Now,
		log:       slog.Default().With(slog.String("component", "chat")),
	}
}

// Run receives and dispatches until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.log.Info("dispatcher started", slog.String("nick", d.conn.Nick()), slog.String("home", d.registry.Home()))
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		batch, err := d.conn.Receive(ctx)
		switch {
		case errors.Is(err, irc.ErrNotConnected):
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(d.IdleDelay):
			}
			continue
		case err != nil:
			d.log.Warn("receive failed", slog.Any("err", err))
			continue
		case batch == "":
			continue
		}
		d.HandleBatch(ctx, batch)
	}
}

// HandleBatch processes every line of batch in order.
func (d *Dispatcher) HandleBatch(ctx context.Context, batch string) {
	ctx = telemetry.WithCorrelation(ctx, uuid.NewString())
	ctx, span := telemetry.StartSpan(ctx, telemetry.TracerChat, "chat.batch")
	defer span.End()
	start := time.Now()
	defer d.observe(start)

	lg := telemetry.LoggerWithCorr(ctx).With(slog.String("component", "chat"))
	for m, err := range irc.Parse(batch) {
		if err != nil {
			telemetry.IncMalformed()
			lg.Debug("dropping malformed line", slog.Any("err", err))
			continue
		}
		d.handle(ctx, lg, m)
	}
}

func (d *Dispatcher) observe(start time.Time) {
	if telemetry.DispatchDuration != nil {
		telemetry.DispatchDuration.Observe(time.Since(start).Seconds())
	}
}

func (d *Dispatcher) handle(ctx context.Context, lg *slog.Logger, m irc.Message) {
	switch m.Kind {
	case irc.KindPing:
		if err := d.conn.Send(ctx, "PONG :"+m.Text); err != nil {
			lg.Warn("pong not sent", slog.Any("err", err))
			return
		}
		telemetry.IncPing()
	case irc.KindReconnect:
		lg.Info("server requested reconnect")
		if err := d.conn.Reconnect(ctx); err != nil {
			lg.Warn("reconnect failed", slog.Any("err", err))
		}
	case irc.KindNotice:
		lg.Info("server notice", slog.String("channel", m.Channel), slog.String("text", m.Text))
	case irc.KindPrivmsg:
		d.onPrivmsg(ctx, lg, m)
	}
}

func (d *Dispatcher) onPrivmsg(ctx context.Context, lg *slog.Logger, m irc.Message) {
	if m.Sender == d.conn.Nick() || m.Sender == systemSender {
		return
	}
	telemetry.IncMessages()
	if d.recorder != nil {
		d.recorder.Record(db.ChatLogEntry{Time: d.now().UTC(), Channel: m.Channel, Username: m.Sender, Message: m.Text})
	}
	lg.Info("rx", slog.String("channel", m.Channel), slog.String("user", m.Sender), slog.String("message", m.Text))

	t := d.matcher.Classify(m.Text)
	registration := t.Kind == Command && (t.Command == CmdJoin || t.Command == CmdLeave)
	// the home channel only takes registration commands
	if m.Channel == d.registry.Home() {
		if registration {
			d.onRegistration(ctx, lg, t.Command, m.Sender)
		}
		return
	}
	if t.Kind == None || registration {
		return
	}

	s, ok := d.registry.Get(m.Channel)
	if !ok {
		lg.Debug("message for unknown channel", slog.String("channel", m.Channel))
		return
	}
	ctx, span := telemetry.StartSpan(ctx, telemetry.TracerChat, "chat."+t.Kind.String(), telemetry.ChannelAttr(m.Channel))
	defer span.End()
	switch t.Kind {
	case Greeting:
		s.OnGreeting(ctx, m.Sender)
	case Farewell:
		s.OnFarewell(ctx, m.Sender)
	case Command:
		s.OnCommand(ctx, t.Command)
	}
}

// onRegistration handles !join and !leave typed in the home channel. The
// sender's own channel is the one (un)registered.
func (d *Dispatcher) onRegistration(ctx context.Context, lg *slog.Logger, cmd, user string) {
	home, ok := d.registry.Get(d.registry.Home())
	if !ok {
		lg.Warn("home channel not registered; ignoring registration command")
		return
	}
	switch cmd {
	case CmdJoin:
		_, err := d.registry.Register(ctx, user, "")
		switch {
		case errors.Is(err, ErrAlreadyRegistered):
			home.SendRegisterError(ctx, user)
		case err != nil:
			lg.Warn("register failed", slog.String("user", user), slog.Any("err", err))
		default:
			home.SendRegistered(ctx, user)
		}
	case CmdLeave:
		err := d.registry.Unregister(ctx, user)
		switch {
		case errors.Is(err, ErrNotRegistered):
			home.SendUnregisterError(ctx, user)
		case err != nil:
			lg.Warn("unregister failed", slog.String("user", user), slog.Any("err", err))
		default:
			home.SendUnregistered(ctx, user)
		}
	}
}

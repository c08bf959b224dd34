package chat

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/onnwee/gamerdeathbot/telemetry"
)

// UptimeSource reports how many seconds a channel has been live, or a
// negative value when it is offline. *twitchapi.HelixClient satisfies it.
type UptimeSource interface {
	UptimeSeconds(ctx context.Context, channelID string) (int, error)
}

// IDResolver maps a channel login to its Twitch user id.
type IDResolver interface {
	GetUserID(ctx context.Context, login string) (string, error)
}

// ReminderConfig configures a Reminder.
type ReminderConfig struct {
	Period      time.Duration
	OfflinePoll time.Duration
	MinSleep    time.Duration
	// Format takes the channel name and hour count.
	Format string
}

// Reminder posts a stretch reminder each time a live channel's uptime crosses
// another multiple of Period. An offline channel, or one whose liveness
// cannot be determined, resets the count.
type Reminder struct {
	session  *Session
	uptime   UptimeSource
	resolver IDResolver
	cfg      ReminderConfig
	log      *slog.Logger

	bucket     atomic.Int64
	lastUptime atomic.Int64
}

// NewReminder attaches a reminder to s. resolver may be nil when every
// session is created with its id.
func NewReminder(s *Session, uptime UptimeSource, resolver IDResolver, cfg ReminderConfig) *Reminder {
	if cfg.Period <= 0 {
		cfg.Period = 3 * time.Hour
	}
	if cfg.OfflinePoll <= 0 {
		cfg.OfflinePoll = 5 * time.Minute
	}
	if cfg.MinSleep <= 0 {
		cfg.MinSleep = 5 * time.Second
	}
	r := &Reminder{
		session:  s,
		uptime:   uptime,
		resolver: resolver,
		cfg:      cfg,
		log:      slog.Default().With(slog.String("component", "reminder"), slog.String("channel", s.Channel)),
	}
	r.lastUptime.Store(-1)
	s.reminder = r
	return r
}

// Bucket returns the number of periods already announced for the current broadcast.
func (r *Reminder) Bucket() int { return int(r.bucket.Load()) }

// LastUptime returns the last observed uptime in seconds, or -1 if offline or unknown.
func (r *Reminder) LastUptime() int { return int(r.lastUptime.Load()) }

// Step runs one polling cycle and returns how long to sleep before the next.
func (r *Reminder) Step(ctx context.Context) time.Duration {
	up, err := r.poll(ctx)
	if err != nil || up < 0 {
		if err != nil {
			r.log.Debug("liveness unknown", slog.Any("err", err))
		}
		r.bucket.Store(0)
		r.lastUptime.Store(-1)
		return r.cfg.OfflinePoll
	}
	r.lastUptime.Store(int64(up))

	period := int(r.cfg.Period / time.Second)
	b := up / period
	switch stored := int(r.bucket.Load()); {
	case b > stored:
		hours := b * period / 3600
		msg := fmt.Sprintf(r.cfg.Format, r.session.Channel, hours)
		if err := r.session.chat.Chat(ctx, r.session.Channel, msg); err != nil {
			r.log.Warn("reminder not sent", slog.Any("err", err))
		} else {
			telemetry.IncReminder()
		}
		r.bucket.Store(int64(b))
	case b < stored:
		// uptime went backwards without an offline poll: a new broadcast
		r.bucket.Store(int64(b))
	}

	sleep := time.Duration(period-up%period) * time.Second
	if sleep < r.cfg.MinSleep {
		sleep = r.cfg.MinSleep
	}
	return sleep
}

func (r *Reminder) poll(ctx context.Context) (int, error) {
	id := r.session.ID()
	if id == "" {
		if r.resolver == nil {
			return -1, fmt.Errorf("no user id for %s", r.session.Channel)
		}
		var err error
		if id, err = r.resolver.GetUserID(ctx, r.session.Channel); err != nil {
			return -1, fmt.Errorf("resolve user id: %w", err)
		}
		r.session.SetID(id)
	}
	return r.uptime.UptimeSeconds(ctx, id)
}

// Run polls until ctx is cancelled.
func (r *Reminder) Run(ctx context.Context) {
	r.log.Info("reminder started", slog.Duration("period", r.cfg.Period))
	for {
		d := r.Step(ctx)
		t := time.NewTimer(d)
		select {
		case <-ctx.Done():
			t.Stop()
			r.log.Info("reminder stopped")
			return
		case <-t.C:
		}
	}
}

package chat

import (
	"context"
	"log/slog"
	"time"

	"github.com/onnwee/gamerdeathbot/db"
	"github.com/onnwee/gamerdeathbot/telemetry"
)

// ChatLogger writes chat log rows off the receive path. Rows are dropped,
// and counted, when the queue is full.
type ChatLogger struct {
	insert func(context.Context, db.ChatLogEntry) error
	queue  chan db.ChatLogEntry
	log    *slog.Logger
}

// NewChatLogger returns a logger with a queue of size entries. insert is
// typically db.InsertChatLog bound to a *sql.DB.
func NewChatLogger(insert func(context.Context, db.ChatLogEntry) error, size int) *ChatLogger {
	if size <= 0 {
		size = 256
	}
	return &ChatLogger{
		insert: insert,
		queue:  make(chan db.ChatLogEntry, size),
		log:    slog.Default().With(slog.String("component", "chatlog")),
	}
}

// Record enqueues one row without blocking.
func (l *ChatLogger) Record(e db.ChatLogEntry) {
	select {
	case l.queue <- e:
		telemetry.SetChatLogQueue(len(l.queue))
	default:
		telemetry.IncChatLogDropped()
		l.log.Debug("chat log queue full; row dropped", slog.String("channel", e.Channel))
	}
}

// Run writes queued rows until ctx is cancelled, then flushes what is left
// with a short deadline.
func (l *ChatLogger) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			l.flush()
			return
		case e := <-l.queue:
			l.write(ctx, e)
		}
	}
}

func (l *ChatLogger) flush() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		select {
		case e := <-l.queue:
			l.write(ctx, e)
		default:
			return
		}
	}
}

func (l *ChatLogger) write(ctx context.Context, e db.ChatLogEntry) {
	telemetry.SetChatLogQueue(len(l.queue))
	if err := l.insert(ctx, e); err != nil {
		l.log.Warn("chat log insert failed", slog.String("channel", e.Channel), slog.Any("err", err))
	}
}

package chat

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/onnwee/gamerdeathbot/config"
	"github.com/onnwee/gamerdeathbot/irc"
)

// fakeConn records every outbound line in order. It satisfies ChatJoiner and Receiver.
type fakeConn struct {
	mu         sync.Mutex
	lines      []string
	joined     []string
	parted     []string
	reconnects int
	chatErr    error
	batches    []string
}

func (f *fakeConn) Chat(ctx context.Context, channel, msg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.chatErr != nil {
		return f.chatErr
	}
	f.lines = append(f.lines, "PRIVMSG #"+channel+" :"+msg)
	return nil
}

func (f *fakeConn) Join(ctx context.Context, channel string) error {
	f.mu.Lock()
	f.joined = append(f.joined, channel)
	f.mu.Unlock()
	return nil
}

func (f *fakeConn) Part(ctx context.Context, channel string) error {
	f.mu.Lock()
	f.parted = append(f.parted, channel)
	f.mu.Unlock()
	return nil
}

func (f *fakeConn) Send(ctx context.Context, line string) error {
	f.mu.Lock()
	f.lines = append(f.lines, line)
	f.mu.Unlock()
	return nil
}

func (f *fakeConn) Reconnect(ctx context.Context) error {
	f.mu.Lock()
	f.reconnects++
	f.mu.Unlock()
	return nil
}

func (f *fakeConn) Nick() string { return "gamerdeathbot" }

// Receive hands out queued batches, then reports the link as down.
func (f *fakeConn) Receive(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.batches) == 0 {
		return "", irc.ErrNotConnected
	}
	b := f.batches[0]
	f.batches = f.batches[1:]
	return b, nil
}

func (f *fakeConn) sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.lines...)
}

var errChat = errors.New("chat down")

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func testCooldowns() Cooldowns {
	return Cooldowns{Greeting: 10 * time.Second, Farewell: 10 * time.Second, Gamerdeath: 60 * time.Second, Register: time.Second}
}

// firstReplies always picks the first phrase.
func firstReplies() *Replies {
	r := NewReplies(config.DefaultPhrases(), []string{"Evanito"}, []string{"giftguy"})
	r.Pick = func(int) int { return 0 }
	return r
}

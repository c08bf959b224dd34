package irc

import (
	"errors"
	"testing"
)

func TestParseLine(t *testing.T) {
	tests := []struct {
		name    string
		line    string
		want    Message
		wantErr bool
	}{
		{
			name: "keepalive",
			line: "PING :tmi.twitch.tv",
			want: Message{Kind: KindPing, Text: "tmi.twitch.tv"},
		},
		{
			name: "privmsg",
			line: ":alice!alice@alice.tmi.twitch.tv PRIVMSG #Streamer :hello gdb",
			want: Message{Kind: KindPrivmsg, Sender: "alice", Channel: "streamer", Text: "hello gdb"},
		},
		{
			name: "privmsg with tags",
			line: "@badge-info=;color=#FF0000;display-name=Bob;user-id=42 :bob!bob@bob.tmi.twitch.tv PRIVMSG #chan :!gamerdeath",
			want: Message{Kind: KindPrivmsg, Sender: "bob", Channel: "chan", Text: "!gamerdeath"},
		},
		{
			name: "privmsg text containing colon",
			line: ":carol!carol@carol.tmi.twitch.tv PRIVMSG #chan :time is 10:30 :)",
			want: Message{Kind: KindPrivmsg, Sender: "carol", Channel: "chan", Text: "time is 10:30 :)"},
		},
		{
			name: "reconnect notice",
			line: ":tmi.twitch.tv RECONNECT",
			want: Message{Kind: KindReconnect},
		},
		{
			name: "welcome numeric",
			line: ":tmi.twitch.tv 001 gamerdeathbot :Welcome, GLHF!",
			want: Message{Kind: KindOther},
		},
		{
			name:    "privmsg without channel",
			line:    ":alice!alice@alice.tmi.twitch.tv PRIVMSG :hello",
			wantErr: true,
		},
		{
			name:    "privmsg without sender",
			line:    ":tmi.twitch.tv PRIVMSG #chan :hello",
			wantErr: true,
		},
		{
			name:    "privmsg without source",
			line:    "PRIVMSG #chan :hello",
			wantErr: true,
		},
		{
			name:    "privmsg without text",
			line:    ":alice!alice@alice.tmi.twitch.tv PRIVMSG #chan",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseLine(tt.line)
			if tt.wantErr {
				if !errors.Is(err, ErrMalformed) {
					t.Fatalf("err = %v, want ErrMalformed", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected err: %v", err)
			}
			if got.Kind != tt.want.Kind || got.Sender != tt.want.Sender || got.Channel != tt.want.Channel || got.Text != tt.want.Text {
				t.Fatalf("ParseLine = %+v, want %+v", got, tt.want)
			}
			if got.Raw != tt.line {
				t.Fatalf("Raw = %q", got.Raw)
			}
		})
	}
}

func TestParseLineTags(t *testing.T) {
	m, err := ParseLine("@display-name=Bob;user-id=42 :bob!bob@bob.tmi.twitch.tv PRIVMSG #chan :hi")
	if err != nil {
		t.Fatalf("ParseLine: %v", err)
	}
	if m.Tags["user-id"] != "42" {
		t.Fatalf("tags = %v", m.Tags)
	}
}

func TestParseBatchOrderAndMalformed(t *testing.T) {
	batch := "PING :tmi.twitch.tv\r\n" +
		":a!a@a.tmi.twitch.tv PRIVMSG #x :one\r\n" +
		":b!b@b.tmi.twitch.tv PRIVMSG :broken\r\n" +
		":c!c@c.tmi.twitch.tv PRIVMSG #y :two\r\n"

	var kinds []Kind
	var texts []string
	errs := 0
	for m, err := range Parse(batch) {
		if err != nil {
			errs++
			continue
		}
		kinds = append(kinds, m.Kind)
		texts = append(texts, m.Text)
	}

	if errs != 1 {
		t.Fatalf("errors = %d, want 1", errs)
	}
	wantKinds := []Kind{KindPing, KindPrivmsg, KindPrivmsg}
	if len(kinds) != len(wantKinds) {
		t.Fatalf("kinds = %v, want %v", kinds, wantKinds)
	}
	for i := range wantKinds {
		if kinds[i] != wantKinds[i] {
			t.Fatalf("kinds = %v, want %v", kinds, wantKinds)
		}
	}
	if texts[1] != "one" || texts[2] != "two" {
		t.Fatalf("texts = %q", texts)
	}
}

func TestParseStopsWhenConsumerStops(t *testing.T) {
	n := 0
	for range Parse("PING :tmi.twitch.tv\r\nPING :tmi.twitch.tv\r\n") {
		n++
		break
	}
	if n != 1 {
		t.Fatalf("iterations = %d", n)
	}
}

func TestKindString(t *testing.T) {
	if KindPrivmsg.String() != "privmsg" || KindOther.String() != "other" {
		t.Fatal("unexpected Kind names")
	}
}

package chat

import (
	"testing"

	"github.com/onnwee/gamerdeathbot/config"
)

func TestMatcherClassify(t *testing.T) {
	m, err := NewMatcher("GamerDeathBot", []string{"gdb"}, config.DefaultPhrases())
	if err != nil {
		t.Fatalf("NewMatcher() error = %v", err)
	}
	tests := []struct {
		text string
		want Trigger
	}{
		{"hi gamerdeathbot", Trigger{Kind: Greeting}},
		{"HELLO @GamerDeathBot", Trigger{Kind: Greeting}},
		{"hey @@gamerdeathbot!", Trigger{Kind: Greeting}},
		{"well good morning gdb", Trigger{Kind: Greeting}},
		{"bye gdb", Trigger{Kind: Farewell}},
		{"good night @gamerdeathbot", Trigger{Kind: Farewell}},
		{"hi gdb and bye gdb", Trigger{Kind: Greeting}},
		{"!gamerdeath", Trigger{Kind: Command, Command: CmdGamerdeath}},
		{"  !GamerDeath  ", Trigger{Kind: Command, Command: CmdGamerdeath}},
		{"!join", Trigger{Kind: Command, Command: CmdJoin}},
		{"!leave", Trigger{Kind: Command, Command: CmdLeave}},
		{"!gamerdeath now", Trigger{Kind: None}},
		{"hi everyone", Trigger{Kind: None}},
		{"gdb hi", Trigger{Kind: None}},
		{"hi  gdb", Trigger{Kind: None}},
		{"", Trigger{Kind: None}},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			if got := m.Classify(tt.text); got != tt.want {
				t.Fatalf("Classify(%q) = %+v, want %+v", tt.text, got, tt.want)
			}
		})
	}
}

func TestMatcherQuotesWords(t *testing.T) {
	p := config.DefaultPhrases()
	p.GreetingWords = []string{"o.o"}
	m, err := NewMatcher("bot", nil, p)
	if err != nil {
		t.Fatalf("NewMatcher() error = %v", err)
	}
	if m.Classify("oxo bot").Kind != None {
		t.Fatal("trigger words must match literally")
	}
	if m.Classify("o.o bot").Kind != Greeting {
		t.Fatal("literal trigger word not matched")
	}
}

func TestNewMatcherErrors(t *testing.T) {
	if _, err := NewMatcher("", nil, config.DefaultPhrases()); err == nil {
		t.Fatal("expected error for empty nick")
	}
	p := config.DefaultPhrases()
	p.FarewellWords = nil
	if _, err := NewMatcher("bot", nil, p); err == nil {
		t.Fatal("expected error for empty farewell words")
	}
}

func TestTriggerKindString(t *testing.T) {
	for k, want := range map[TriggerKind]string{None: "none", Greeting: "greeting", Farewell: "farewell", Command: "command"} {
		if k.String() != want {
			t.Errorf("%d.String() = %q, want %q", k, k.String(), want)
		}
	}
}

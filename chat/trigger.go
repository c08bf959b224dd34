package chat

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/onnwee/gamerdeathbot/config"
)

// TriggerKind is the class of a chat message.
type TriggerKind int

const (
	None TriggerKind = iota
	Greeting
	Farewell
	Command
)

func (k TriggerKind) String() string {
	switch k {
	case Greeting:
		return "greeting"
	case Farewell:
		return "farewell"
	case Command:
		return "command"
	default:
		return "none"
	}
}

// Command names.
const (
	CmdGamerdeath = "gamerdeath"
	CmdJoin       = "join"
	CmdLeave      = "leave"
)

// Trigger is the result of classifying a message. Command is set only for
// Kind == Command.
type Trigger struct {
	Kind    TriggerKind
	Command string
}

// Matcher classifies message text. Greeting wins over Farewell, which wins
// over Command.
type Matcher struct {
	greeting *regexp.Regexp
	farewell *regexp.Regexp
	commands map[string]string
}

// NewMatcher builds a matcher for a bot named nick, also answering to aliases.
func NewMatcher(nick string, aliases []string, p config.Phrases) (*Matcher, error) {
	if nick == "" {
		return nil, fmt.Errorf("matcher: empty bot nick")
	}
	mentions := []string{"@*" + regexp.QuoteMeta(nick)}
	for _, a := range aliases {
		if a = strings.TrimSpace(a); a != "" {
			mentions = append(mentions, regexp.QuoteMeta(a))
		}
	}
	greeting, err := mentionPattern(p.GreetingWords, mentions)
	if err != nil {
		return nil, fmt.Errorf("matcher: greeting pattern: %w", err)
	}
	farewell, err := mentionPattern(p.FarewellWords, mentions)
	if err != nil {
		return nil, fmt.Errorf("matcher: farewell pattern: %w", err)
	}
	cmds := make(map[string]string, len(p.Commands))
	for tok, name := range p.Commands {
		cmds[strings.ToLower(strings.TrimSpace(tok))] = name
	}
	return &Matcher{greeting: greeting, farewell: farewell, commands: cmds}, nil
}

// mentionPattern matches "<word> <mention>" anywhere in the text, ignoring case.
func mentionPattern(words, mentions []string) (*regexp.Regexp, error) {
	if len(words) == 0 {
		return nil, fmt.Errorf("no trigger words")
	}
	quoted := make([]string, len(words))
	for i, w := range words {
		quoted[i] = regexp.QuoteMeta(w)
	}
	return regexp.Compile(`(?i)(` + strings.Join(quoted, "|") + `) (` + strings.Join(mentions, "|") + `)`)
}

// Classify returns the trigger for text.
func (m *Matcher) Classify(text string) Trigger {
	switch {
	case m.greeting.MatchString(text):
		return Trigger{Kind: Greeting}
	case m.farewell.MatchString(text):
		return Trigger{Kind: Farewell}
	}
	if name, ok := m.commands[strings.ToLower(strings.TrimSpace(text))]; ok {
		return Trigger{Kind: Command, Command: name}
	}
	return Trigger{Kind: None}
}

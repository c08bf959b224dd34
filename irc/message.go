package irc

import (
	"fmt"
	"iter"
	"strings"

	twitch "github.com/gempir/go-twitch-irc/v4"
)

// Keepalive is the exact line the chat server sends to probe the client.
const Keepalive = "PING :tmi.twitch.tv"

// Kind classifies a parsed line.
type Kind int

const (
	KindOther Kind = iota
	KindPrivmsg
	KindPing
	KindReconnect
	KindNotice
)

func (k Kind) String() string {
	switch k {
	case KindPrivmsg:
		return "privmsg"
	case KindPing:
		return "ping"
	case KindReconnect:
		return "reconnect"
	case KindNotice:
		return "notice"
	default:
		return "other"
	}
}

// Message is one parsed inbound line. Channel is lowercase without the leading
// '#' and empty when the line carries none.
type Message struct {
	Kind    Kind
	Sender  string
	Channel string
	Text    string
	Tags    map[string]string
	Raw     string
}

// Parse splits a received batch on CRLF and yields one Message per non-empty
// line, in order. Lines that cannot be interpreted yield a zero Message and an
// error wrapping ErrMalformed; iteration continues past them.
func Parse(batch string) iter.Seq2[Message, error] {
	return func(yield func(Message, error) bool) {
		for line := range strings.SplitSeq(batch, "\r\n") {
			line = strings.TrimRight(line, "\n")
			if line == "" {
				continue
			}
			if !yield(ParseLine(line)) {
				return
			}
		}
	}
}

// ParseLine interprets a single line without its CRLF terminator.
func ParseLine(line string) (Message, error) {
	if line == Keepalive {
		return Message{Kind: KindPing, Text: "tmi.twitch.tv", Raw: line}, nil
	}
	var nick string
	if isPrivmsg(line) {
		var err error
		if nick, err = checkPrivmsg(line); err != nil {
			return Message{}, err
		}
	}

	switch m := twitch.ParseMessage(line).(type) {
	case *twitch.PrivateMessage:
		sender := strings.ToLower(m.User.Name)
		if sender == "" {
			sender = strings.ToLower(nick)
		}
		channel := strings.ToLower(m.Channel)
		if sender == "" || channel == "" {
			return Message{}, fmt.Errorf("%w: privmsg without sender or channel: %q", ErrMalformed, line)
		}
		return Message{Kind: KindPrivmsg, Sender: sender, Channel: channel, Text: m.Message, Tags: m.Tags, Raw: line}, nil
	case *twitch.PingMessage:
		return Message{Kind: KindPing, Text: m.Message, Raw: line}, nil
	case *twitch.ReconnectMessage:
		return Message{Kind: KindReconnect, Raw: line}, nil
	case *twitch.NoticeMessage:
		return Message{Kind: KindNotice, Channel: strings.ToLower(m.Channel), Text: m.Message, Tags: m.Tags, Raw: line}, nil
	default:
		return Message{Kind: KindOther, Raw: line}, nil
	}
}

// stripTags drops an IRCv3 "@k=v;..." prefix.
func stripTags(line string) string {
	if strings.HasPrefix(line, "@") {
		_, rest, _ := strings.Cut(line, " ")
		return rest
	}
	return line
}

func isPrivmsg(line string) bool {
	f := strings.Fields(stripTags(line))
	if len(f) > 0 && strings.HasPrefix(f[0], ":") {
		f = f[1:]
	}
	return len(f) > 0 && f[0] == "PRIVMSG"
}

// checkPrivmsg validates the shape ":<user>!... PRIVMSG #<channel> :<text>"
// before handing the line to the library decoder, and returns the sender nick.
func checkPrivmsg(line string) (string, error) {
	rest := stripTags(line)
	if !strings.HasPrefix(rest, ":") {
		return "", fmt.Errorf("%w: privmsg without source: %q", ErrMalformed, line)
	}
	prefix, rest, _ := strings.Cut(rest[1:], " ")
	nick, _, hasBang := strings.Cut(prefix, "!")
	if !hasBang || nick == "" {
		return "", fmt.Errorf("%w: privmsg without sender: %q", ErrMalformed, line)
	}
	_, params, _ := strings.Cut(rest, " ")
	target, _, hasText := strings.Cut(params, " :")
	if !strings.HasPrefix(target, "#") || len(target) < 2 || strings.Contains(target, " ") {
		return "", fmt.Errorf("%w: privmsg without channel: %q", ErrMalformed, line)
	}
	if !hasText {
		return "", fmt.Errorf("%w: privmsg without text: %q", ErrMalformed, line)
	}
	return nick, nil
}

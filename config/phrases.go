package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Phrases holds the trigger words and reply texts. Fields left empty in a
// phrase file keep their defaults.
type Phrases struct {
	GreetingWords   []string `yaml:"greeting_words"`
	FarewellWords   []string `yaml:"farewell_words"`
	GreetingReplies []string `yaml:"greeting_replies"`
	FarewellReplies []string `yaml:"farewell_replies"`
	Decoration      string   `yaml:"decoration"`
	VIPSuffix       string   `yaml:"vip_suffix"`
	GiftSubSuffix   string   `yaml:"gift_sub_suffix"`
	GamerdeathReply string   `yaml:"gamerdeath_reply"`
	// ReminderFormat takes the channel name and the hour count.
	ReminderFormat string            `yaml:"reminder_format"`
	Commands       map[string]string `yaml:"commands"` // token -> command name
}

// DefaultPhrases returns the built-in phrase set.
func DefaultPhrases() Phrases {
	return Phrases{
		GreetingWords: []string{
			"hi", "hiya", "hello", "hey", "yo", "sup", "howdy", "hovvdy", "greetings",
			"what's good", "whats good", "vvhat's good", "vvhats good",
			"what's up", "whats up", "vvhat's up", "vvhats up",
			"konichiwa", "hewwo", "etalWave", "vvhats crackalackin", "whats crackalackin",
			"henlo", "good morning", "good evening", "good afternoon",
		},
		FarewellWords: []string{
			"bye", "goodnight", "good night", "goodbye", "good bye", "see you", "see ya",
			"so long", "farewell", "later", "seeya", "ciao", "au revoir", "bon voyage", "peace",
			"in a while crocodile", "see you later alligator", "later alligator",
			"have a good one", "igottago", "l8r", "later skater", "catch you on the flip side",
			"bye-bye", "sayonara",
		},
		GreetingReplies: []string{
			"Hi", "Hello", "Hiya", "Hey", "Yo", "What's up", "How's it going", "Greetings",
			"Sup", "What's good", "Hey there", "Howdy", "Good to see you", "vvhat's up",
			"Henlo", "Hovvdy",
		},
		FarewellReplies: []string{
			"Bye", "Goodnight", "Good night", "Goodbye", "Good bye", "See you", "See ya",
			"So long", "Farewell", "Later", "Seeya", "Ciao", "Au revoir", "Bon voyage", "Peace",
			"In a while crocodile", "See you later alligator", "Later alligator",
			"Have a good one", "l8r", "Later skater", "Catch you on the flip side", "Sayonara",
			"Auf weidersehen",
		},
		Decoration:      "etalWave",
		VIPSuffix:       "You are my favorite chatter :)",
		GiftSubSuffix:   "Thank you for the sub btw! :)",
		GamerdeathReply: "MrDestructoid Chat, remember to get up and stretch to prevent Gamer Death!",
		ReminderFormat:  "MrDestructoid %s alert! It's been %d hours and its time to prevent Gamer Death!",
		Commands: map[string]string{
			"!gamerdeath": "gamerdeath",
			"!join":       "join",
			"!leave":      "leave",
		},
	}
}

// LoadPhrases returns the defaults overlaid with the YAML file at path. An
// empty path returns the defaults.
func LoadPhrases(path string) (Phrases, error) {
	p := DefaultPhrases()
	if path == "" {
		return p, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return p, fmt.Errorf("read phrases file: %w", err)
	}
	var f Phrases
	if err := yaml.Unmarshal(b, &f); err != nil {
		return p, fmt.Errorf("parse phrases file %s: %w", path, err)
	}
	p.merge(f)
	if err := p.Validate(); err != nil {
		return p, fmt.Errorf("phrases file %s: %w", path, err)
	}
	return p, nil
}

func (p *Phrases) merge(f Phrases) {
	if len(f.GreetingWords) > 0 {
		p.GreetingWords = f.GreetingWords
	}
	if len(f.FarewellWords) > 0 {
		p.FarewellWords = f.FarewellWords
	}
	if len(f.GreetingReplies) > 0 {
		p.GreetingReplies = f.GreetingReplies
	}
	if len(f.FarewellReplies) > 0 {
		p.FarewellReplies = f.FarewellReplies
	}
	if f.Decoration != "" {
		p.Decoration = f.Decoration
	}
	if f.VIPSuffix != "" {
		p.VIPSuffix = f.VIPSuffix
	}
	if f.GiftSubSuffix != "" {
		p.GiftSubSuffix = f.GiftSubSuffix
	}
	if f.GamerdeathReply != "" {
		p.GamerdeathReply = f.GamerdeathReply
	}
	if f.ReminderFormat != "" {
		p.ReminderFormat = f.ReminderFormat
	}
	if len(f.Commands) > 0 {
		p.Commands = f.Commands
	}
}

// Validate checks that every reply pool is usable.
func (p Phrases) Validate() error {
	switch {
	case len(p.GreetingWords) == 0 || len(p.FarewellWords) == 0:
		return fmt.Errorf("trigger word lists must not be empty")
	case len(p.GreetingReplies) == 0 || len(p.FarewellReplies) == 0:
		return fmt.Errorf("reply lists must not be empty")
	case p.GamerdeathReply == "" || p.ReminderFormat == "":
		return fmt.Errorf("gamerdeath_reply and reminder_format are required")
	}
	return checkReminderFormat(p.ReminderFormat)
}

// checkReminderFormat requires exactly one %s (channel) followed by one %d
// (hours), with %% allowed anywhere.
func checkReminderFormat(format string) error {
	var verbs []byte
	for i := 0; i < len(format); i++ {
		if format[i] != '%' {
			continue
		}
		i++
		if i == len(format) {
			return fmt.Errorf("reminder_format: trailing %%")
		}
		if format[i] != '%' {
			verbs = append(verbs, format[i])
		}
	}
	if string(verbs) != "sd" {
		return fmt.Errorf("reminder_format %q: want one %%s then one %%d", format)
	}
	if out := fmt.Sprintf(format, "channel", 3); strings.Contains(out, "%!") {
		return fmt.Errorf("reminder_format %q: formats as %q", format, out)
	}
	return nil
}

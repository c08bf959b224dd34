// Package config loads environment variables and provides a typed Config used across the bot.
// It applies sensible defaults so the binary can run locally with minimal setup.
// For required credentials, use ValidateChatReady.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Channel is a channel to join at startup. ID is the Twitch user id used for
// uptime lookups; when empty it is resolved through Helix.
type Channel struct {
	Name string
	ID   string
}

type Config struct {
	// Twitch chat
	TwitchBotUsername string
	TwitchOAuthToken  string
	TwitchChannels    []Channel
	HomeChannel       string
	IRCAddr           string
	IRCTLS            bool
	IRCCapabilities   []string
	IRCReadTimeout    time.Duration
	IRCWriteTimeout   time.Duration
	IRCReconnectDelay time.Duration
	IRCRxBuffer       int

	// Twitch API / OAuth
	TwitchClientID     string
	TwitchClientSecret string
	TwitchRedirectURI  string
	TwitchScopes       string

	// Cooldowns
	GreetingCooldown   time.Duration
	FarewellCooldown   time.Duration
	GamerdeathCooldown time.Duration
	RegisterCooldown   time.Duration

	// Reminder
	ReminderPeriod      time.Duration
	ReminderOfflinePoll time.Duration
	ReminderMinSleep    time.Duration

	// Phrases
	PhrasesFile string
	Aliases     []string
	VIPUsers    []string
	GiftSubs    []string

	// Database
	DBDsn         string
	ChatLogBuffer int

	// HTTP
	HTTPAddr string
}

// Load reads environment variables and applies defaults. It doesn't fail if Twitch creds are missing;
// use ValidateChatReady() before connecting. Missing optional variables disable features (e.g., the chat log).
func Load() (*Config, error) {
	cfg := &Config{}
	var err error

	cfg.TwitchBotUsername = strings.ToLower(strings.TrimSpace(os.Getenv("TWITCH_BOT_USERNAME")))
	cfg.TwitchOAuthToken = os.Getenv("TWITCH_OAUTH_TOKEN")

	raw := os.Getenv("TWITCH_CHANNELS")
	if raw == "" {
		// legacy single-channel variable
		raw = os.Getenv("TWITCH_CHANNEL")
	}
	if cfg.TwitchChannels, err = ParseChannels(raw); err != nil {
		return nil, err
	}

	cfg.HomeChannel = strings.ToLower(strings.TrimPrefix(os.Getenv("TWITCH_HOME_CHANNEL"), "#"))
	if cfg.HomeChannel == "" {
		cfg.HomeChannel = cfg.TwitchBotUsername
	}

	cfg.IRCAddr = os.Getenv("TWITCH_IRC_ADDR")
	if cfg.IRCAddr == "" {
		cfg.IRCAddr = "irc.chat.twitch.tv:6667"
	}
	cfg.IRCTLS = os.Getenv("TWITCH_IRC_TLS") == "1" || strings.EqualFold(os.Getenv("TWITCH_IRC_TLS"), "true")
	cfg.IRCCapabilities = splitList(os.Getenv("TWITCH_IRC_CAPS"), " ,")

	cfg.TwitchClientID = os.Getenv("TWITCH_CLIENT_ID")
	cfg.TwitchClientSecret = os.Getenv("TWITCH_CLIENT_SECRET")
	cfg.TwitchRedirectURI = os.Getenv("TWITCH_REDIRECT_URI")
	cfg.TwitchScopes = os.Getenv("TWITCH_SCOPES")
	if cfg.TwitchScopes == "" {
		// default scopes for chat bot
		cfg.TwitchScopes = "chat:read chat:edit"
	}

	durations := []struct {
		key string
		dst *time.Duration
		def time.Duration
	}{
		{"IRC_READ_TIMEOUT", &cfg.IRCReadTimeout, 2 * time.Second},
		{"IRC_WRITE_TIMEOUT", &cfg.IRCWriteTimeout, 10 * time.Second},
		{"IRC_RECONNECT_BACKOFF", &cfg.IRCReconnectDelay, time.Second},
		{"COOLDOWN_GREETING", &cfg.GreetingCooldown, 10 * time.Second},
		{"COOLDOWN_FAREWELL", &cfg.FarewellCooldown, 10 * time.Second},
		{"COOLDOWN_GAMERDEATH", &cfg.GamerdeathCooldown, 60 * time.Second},
		{"COOLDOWN_REGISTER", &cfg.RegisterCooldown, time.Second},
		{"REMINDER_PERIOD", &cfg.ReminderPeriod, 3 * time.Hour},
		{"REMINDER_OFFLINE_POLL", &cfg.ReminderOfflinePoll, 5 * time.Minute},
		{"REMINDER_MIN_SLEEP", &cfg.ReminderMinSleep, 5 * time.Second},
	}
	for _, d := range durations {
		if *d.dst, err = envDuration(d.key, d.def); err != nil {
			return nil, err
		}
	}
	if cfg.ReminderPeriod < time.Second {
		return nil, fmt.Errorf("invalid REMINDER_PERIOD: must be at least 1s")
	}

	if cfg.IRCRxBuffer, err = envInt("IRC_RX_BUFFER", 4096); err != nil {
		return nil, err
	}
	if cfg.ChatLogBuffer, err = envInt("CHATLOG_BUFFER", 256); err != nil {
		return nil, err
	}

	cfg.PhrasesFile = os.Getenv("BOT_PHRASES_FILE")
	cfg.Aliases = envList("BOT_ALIASES", []string{"gdb"})
	cfg.VIPUsers = envList("BOT_VIP_USERS", []string{"evanito"})
	cfg.GiftSubs = envList("BOT_GIFT_SUBS", []string{"technotoast", "kelleymcches", "wincerind", "hetero_corgi", "spoonlessalakazam"})

	// DB is optional: empty DSN disables the chat log and stored tokens.
	cfg.DBDsn = os.Getenv("DB_DSN")

	cfg.HTTPAddr = os.Getenv("HTTP_ADDR")
	if cfg.HTTPAddr == "" {
		cfg.HTTPAddr = ":8080"
	}

	return cfg, nil
}

// ValidateChatReady checks the fields required to connect to chat. A DB makes
// the token optional since it can come from the stored OAuth row.
func (c *Config) ValidateChatReady() error {
	if c.TwitchBotUsername == "" {
		return fmt.Errorf("missing twitch env: require TWITCH_BOT_USERNAME")
	}
	if c.TwitchOAuthToken == "" && c.DBDsn == "" {
		return fmt.Errorf("missing twitch env: require TWITCH_OAUTH_TOKEN or DB_DSN with a stored token")
	}
	return nil
}

// HelixEnabled reports whether app credentials for the Helix API are present.
func (c *Config) HelixEnabled() bool {
	return c.TwitchClientID != "" && c.TwitchClientSecret != ""
}

// ParseChannels parses "name[:id],name[:id]". Names are lowercased and a
// leading '#' is dropped; duplicates keep their first occurrence.
func ParseChannels(raw string) ([]Channel, error) {
	var out []Channel
	seen := map[string]bool{}
	for _, part := range splitList(raw, ",") {
		name, id, _ := strings.Cut(part, ":")
		name = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(name), "#"))
		id = strings.TrimSpace(id)
		if name == "" {
			return nil, fmt.Errorf("invalid TWITCH_CHANNELS entry %q", part)
		}
		if id != "" {
			if _, err := strconv.ParseUint(id, 10, 64); err != nil {
				return nil, fmt.Errorf("invalid TWITCH_CHANNELS id for %s: %q", name, id)
			}
		}
		if seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, Channel{Name: name, ID: id})
	}
	return out, nil
}

func envDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	if d, err := time.ParseDuration(v); err == nil {
		if d < 0 {
			return 0, fmt.Errorf("invalid %s: negative duration", key)
		}
		return d, nil
	}
	// bare integers are seconds
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid %s: %q", key, v)
	}
	return time.Duration(n) * time.Second, nil
}

func envInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid %s: %q", key, v)
	}
	return n, nil
}

func envList(key string, def []string) []string {
	v, ok := os.LookupEnv(key)
	if !ok {
		return def
	}
	return splitList(strings.ToLower(v), ",")
}

func splitList(v, seps string) []string {
	fields := strings.FieldsFunc(v, func(r rune) bool { return strings.ContainsRune(seps, r) })
	out := fields[:0]
	for _, f := range fields {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}

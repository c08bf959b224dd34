// Command gamerdeathbot is a Twitch chat bot. It:
//   - Loads configuration and initializes structured logging.
//   - Optionally connects to Postgres for the chat log and the stored chat token.
//   - Joins its home channel plus any configured channels and answers
//     greetings, farewells and !gamerdeath under per-channel cooldowns.
//   - Posts a stretch reminder every few hours while a channel is live.
//   - Exposes /healthz, /readyz, /status, /metrics and the Twitch OAuth flow.
//
// Shutdown is graceful on SIGINT/SIGTERM.
package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	_ "net/http/pprof" //nolint:gosec // G108: pprof endpoints enabled only when ENABLE_PPROF=1
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/onnwee/gamerdeathbot/chat"
	"github.com/onnwee/gamerdeathbot/config"
	"github.com/onnwee/gamerdeathbot/crypto"
	"github.com/onnwee/gamerdeathbot/db"
	"github.com/onnwee/gamerdeathbot/irc"
	"github.com/onnwee/gamerdeathbot/oauth"
	"github.com/onnwee/gamerdeathbot/server"
	"github.com/onnwee/gamerdeathbot/telemetry"
	"github.com/onnwee/gamerdeathbot/twitchapi"
)

const version = "1.0.0"

var errNoToken = errors.New("no chat token: set TWITCH_OAUTH_TOKEN or authorize via /auth/twitch/start")

func main() {
	// Local dev convenience only; production relies on real env
	_ = godotenv.Load()
	setupLogging()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}
	if err := cfg.ValidateChatReady(); err != nil {
		slog.Error("chat not configured", slog.Any("err", err))
		os.Exit(1)
	}
	phrases, err := config.LoadPhrases(cfg.PhrasesFile)
	if err != nil {
		slog.Error("phrase file load failed", slog.String("path", cfg.PhrasesFile), slog.Any("err", err))
		os.Exit(1)
	}

	telemetry.Init()
	shutdown, err := telemetry.InitTracing("gamerdeathbot", version)
	if err != nil {
		slog.Error("tracing initialization failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer shutdown()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Optional database: chat log and stored chat token
	var (
		tokens    *db.TokenStore
		chatLog   *chat.ChatLogger
		deps      server.Deps
		oauthFlow *twitchapi.OAuth
	)
	if cfg.DBDsn != "" {
		database, err := db.Connect(ctx, cfg.DBDsn)
		if err != nil {
			slog.Error("failed to open db", slog.Any("err", err))
			os.Exit(1)
		}
		defer func() {
			if err := database.Close(); err != nil {
				slog.Error("failed to close database", slog.Any("err", err))
			}
		}()
		migrate(ctx, database)

		enc, err := crypto.FromEnv()
		if err != nil {
			slog.Error("invalid ENCRYPTION_KEY", slog.Any("err", err))
			os.Exit(1)
		}
		if enc == nil {
			slog.Warn("ENCRYPTION_KEY not set; oauth tokens are stored in plaintext", slog.String("component", "db"))
		}
		tokens = &db.TokenStore{DB: database, Encryptor: enc}
		chatLog = chat.NewChatLogger(db.ChatLogInserter(database), cfg.ChatLogBuffer)
		go chatLog.Run(ctx)
		deps.DB = database
		deps.Tokens = tokens
	}

	if cfg.TwitchClientID != "" && cfg.TwitchRedirectURI != "" {
		oauthFlow = twitchapi.NewOAuth(cfg.TwitchClientID, cfg.TwitchClientSecret, cfg.TwitchRedirectURI, cfg.TwitchScopes)
		deps.OAuth = oauthFlow
	}

	conn := irc.New(irc.Config{
		Addr:             cfg.IRCAddr,
		TLS:              cfg.IRCTLS,
		Nick:             cfg.TwitchBotUsername,
		Password:         chatToken(cfg.TwitchOAuthToken, tokens),
		Capabilities:     cfg.IRCCapabilities,
		ReadTimeout:      cfg.IRCReadTimeout,
		WriteTimeout:     cfg.IRCWriteTimeout,
		ReconnectBackoff: cfg.IRCReconnectDelay,
		RxBufferSize:     cfg.IRCRxBuffer,
	})
	defer conn.Close()

	regCfg := chat.RegistryConfig{
		Home:    cfg.HomeChannel,
		Replies: chat.NewReplies(phrases, cfg.VIPUsers, cfg.GiftSubs),
		Cooldowns: chat.Cooldowns{
			Greeting:   cfg.GreetingCooldown,
			Farewell:   cfg.FarewellCooldown,
			Gamerdeath: cfg.GamerdeathCooldown,
			Register:   cfg.RegisterCooldown,
		},
		Reminder: chat.ReminderConfig{
			Period:      cfg.ReminderPeriod,
			OfflinePoll: cfg.ReminderOfflinePoll,
			MinSleep:    cfg.ReminderMinSleep,
			Format:      phrases.ReminderFormat,
		},
	}
	if cfg.HelixEnabled() {
		helix := &twitchapi.HelixClient{
			AppTokenSource: &twitchapi.TokenSource{ClientID: cfg.TwitchClientID, ClientSecret: cfg.TwitchClientSecret},
			ClientID:       cfg.TwitchClientID,
		}
		regCfg.Uptime = helix
		regCfg.Resolver = helix
	} else {
		slog.Info("uptime reminders disabled (need TWITCH_CLIENT_ID + TWITCH_CLIENT_SECRET)")
	}
	registry := chat.NewRegistry(ctx, conn, regCfg)
	defer registry.Close()
	registerChannels(ctx, registry, cfg)

	matcher, err := chat.NewMatcher(cfg.TwitchBotUsername, cfg.Aliases, phrases)
	if err != nil {
		slog.Error("trigger patterns invalid", slog.Any("err", err))
		os.Exit(1)
	}
	var recorder chat.Recorder
	if chatLog != nil {
		recorder = chatLog
	}
	dispatcher := chat.NewDispatcher(conn, registry, matcher, recorder)

	deps.Conn = conn
	deps.Registry = registry
	deps.OnToken = func(ctx context.Context) {
		if err := conn.Reconnect(ctx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Warn("reconnect with new token failed", slog.Any("err", err), slog.String("component", "irc"))
		}
	}
	go func() {
		if err := server.Start(ctx, cfg.HTTPAddr, deps); err != nil {
			slog.Error("http server exited with error", slog.Any("err", err))
		}
	}()
	startPprof()

	if tokens != nil && oauthFlow != nil && cfg.TwitchClientSecret != "" && cfg.TwitchOAuthToken == "" {
		oauth.StartRefresher(ctx, tokens, db.ProviderTwitch, 5*time.Minute, 15*time.Minute, oauthFlow, twitchapi.Scope, nil)
	}

	if err := conn.Connect(ctx); err != nil {
		if !errors.Is(err, errNoToken) || deps.OAuth == nil {
			slog.Error("initial chat connect failed", slog.Any("err", err))
			os.Exit(1)
		}
		slog.Warn("waiting for chat authorization", slog.String("url", "/auth/twitch/start"))
	}

	if err := dispatcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("dispatcher stopped", slog.Any("err", err))
	}
	slog.Info("shutting down")
}

func setupLogging() {
	lvl := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	case "info", "":
	default:
		tmp := slog.New(slog.NewTextHandler(os.Stdout, nil))
		tmp.Warn("unknown LOG_LEVEL, using info", slog.String("value", os.Getenv("LOG_LEVEL")))
	}
	format := strings.ToLower(os.Getenv("LOG_FORMAT")) // text | json
	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	default:
		format = "text"
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	}
	slog.SetDefault(slog.New(handler))
	slog.Info("logger initialized", slog.String("level", lvl.String()), slog.String("format", format))
}

// migrate runs the versioned migrations and falls back to the idempotent
// schema statements when they fail (e.g. a role that cannot create
// schema_migrations).
func migrate(ctx context.Context, database *sql.DB) {
	slog.Info("running database migrations", slog.String("component", "db_migrate"))
	if err := db.RunMigrations(database); err != nil {
		slog.Warn("versioned migrations failed, falling back to embedded schema",
			slog.Any("err", err), slog.String("component", "db_migrate"))
		if err := db.Migrate(ctx, database); err != nil {
			slog.Error("failed to migrate db", slog.Any("err", err))
			os.Exit(1)
		}
	}
}

// chatToken returns the PASS token provider. The env token wins; otherwise
// the stored token is read at every handshake so refreshes are picked up.
func chatToken(envToken string, tokens *db.TokenStore) func(context.Context) (string, error) {
	return func(ctx context.Context) (string, error) {
		if envToken != "" {
			return envToken, nil
		}
		if tokens == nil {
			return "", errNoToken
		}
		tok, err := tokens.Get(ctx, db.ProviderTwitch)
		if err != nil {
			return "", err
		}
		if tok == nil || tok.AccessToken == "" {
			return "", errNoToken
		}
		return tok.AccessToken, nil
	}
}

// registerChannels registers the home channel and every configured channel.
func registerChannels(ctx context.Context, registry *chat.Registry, cfg *config.Config) {
	homeID := ""
	for _, ch := range cfg.TwitchChannels {
		if ch.Name == registry.Home() {
			homeID = ch.ID
		}
	}
	if _, err := registry.Register(ctx, registry.Home(), homeID); err != nil {
		slog.Warn("home channel registration failed", slog.Any("err", err))
	}
	for _, ch := range cfg.TwitchChannels {
		if ch.Name == registry.Home() {
			continue
		}
		if _, err := registry.Register(ctx, ch.Name, ch.ID); err != nil {
			slog.Warn("channel registration failed", slog.String("channel", ch.Name), slog.Any("err", err))
		}
	}
}

// startPprof serves /debug/pprof when ENABLE_PPROF=1.
func startPprof() {
	if os.Getenv("ENABLE_PPROF") != "1" {
		return
	}
	addr := os.Getenv("PPROF_ADDR")
	if addr == "" {
		addr = "localhost:6060"
	}
	go func() {
		slog.Info("pprof profiling enabled", slog.String("addr", addr))
		srv := &http.Server{
			Addr:              addr,
			Handler:           nil, // default mux exposes /debug/pprof
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       10 * time.Second,
			WriteTimeout:      10 * time.Second,
			IdleTimeout:       60 * time.Second,
		}
		if err := srv.ListenAndServe(); err != nil {
			slog.Error("pprof server error", slog.Any("err", err))
		}
	}()
}

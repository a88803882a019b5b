package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"scriptbot/internal/ratelimit"
	"scriptbot/internal/store"
)

// Version number
const VERSION = "1.0.0"

// Rate-limiting configuration
const (
	MESSAGE_LIMIT = 5
	TIME_WINDOW   = 1 * time.Second

	WELCOME_LIMIT  = 5
	WELCOME_WINDOW = 30 * time.Second
)

const (
	statusInterval   = 60 * time.Second
	scheduleInterval = time.Minute
)

var (
	configPath string

	cfg    *Config
	logger *zap.Logger
)

// Bot wires the Discord session to stored system messages.
type Bot struct {
	ctx   context.Context
	cfg   *Config
	log   *zap.Logger
	api   discordAPI
	state *discordgo.State
	store *store.Store

	// sendLimit paces every outgoing system message; guildLimit caps welcome bursts per guild
	sendLimit  *ratelimit.Limiter
	guildLimit *ratelimit.Limiter
	welcomes   *welcomeCache
	departed   *departures

	now       func() time.Time
	afterFunc func(time.Duration, func())

	synced sync.Map
}

func newBot(ctx context.Context, cfg *Config, log *zap.Logger, api discordAPI, state *discordgo.State, db *store.Store) *Bot {
	return &Bot{
		ctx:        ctx,
		cfg:        cfg,
		log:        log,
		api:        api,
		state:      state,
		store:      db,
		sendLimit:  ratelimit.New(MESSAGE_LIMIT, TIME_WINDOW),
		guildLimit: ratelimit.New(WELCOME_LIMIT, WELCOME_WINDOW),
		welcomes:   newWelcomeCache(welcomeTTL),
		departed:   newDepartures(rejoinTTL),
		now:        time.Now,
		afterFunc:  runAfter,
	}
}

func runAfter(d time.Duration, f func()) {
	time.AfterFunc(d, f)
}

var rootCmd = &cobra.Command{
	Use:   "scriptbot",
	Short: "Discord bot that sends scripted welcome, goodbye and boost messages",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// .env is optional
		_ = godotenv.Load()

		var err error
		cfg, err = LoadConfig(configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		logger, err = newLogger(cfg.LogLevel)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return runBot(cmd.Context())
	},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Connect to Discord and serve system messages",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runBot(cmd.Context())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config.yaml", "path to the optional YAML config file")
	rootCmd.AddCommand(runCmd, renderCmd)
}

func newLogger(level string) (*zap.Logger, error) {
	if level == "debug" {
		return zap.NewDevelopment()
	}
	config := zap.NewProductionConfig()
	if level != "" {
		lvl, err := zap.ParseAtomicLevel(level)
		if err != nil {
			return nil, err
		}
		config.Level = lvl
	}
	return config.Build()
}

func createFooter(embed *discordgo.MessageEmbed, state *discordgo.State) {
	if state != nil && state.User != nil {
		embed.Footer = &discordgo.MessageEmbedFooter{
			Text:    fmt.Sprintf("%s | v%s", state.User.Username, VERSION),
			IconURL: state.User.AvatarURL(""),
		}
	}
}

func (b *Bot) startStatusRotator(stop <-chan struct{}) {
	ticker := time.NewTicker(statusInterval)
	defer ticker.Stop()
	idx := 0
	// set initial presence immediately
	b.updateStatus(b.cfg.Statuses[idx])
	for {
		select {
		case <-ticker.C:
			idx = (idx + 1) % len(b.cfg.Statuses)
			b.updateStatus(b.cfg.Statuses[idx])
		case <-stop:
			return
		}
	}
}

func (b *Bot) updateStatus(text string) {
	act := &discordgo.Activity{
		Name: text,
		Type: discordgo.ActivityTypeWatching,
	}
	err := b.api.UpdateStatusComplex(discordgo.UpdateStatusData{
		Activities: []*discordgo.Activity{act},
	})
	if err != nil {
		b.log.Debug("update status", zap.Error(err))
	}
}

func (b *Bot) onReady(s *discordgo.Session, r *discordgo.Ready) {
	b.log.Info("logged in", zap.String("user", s.State.User.Username), zap.Int("guilds", len(r.Guilds)))

	// Force-sync commands for each guild to avoid duplicates left from previous runs.
	created := 0
	for _, g := range s.State.Guilds {
		if err := b.syncCommands(s, g.ID); err != nil {
			b.log.Warn("failed to sync commands", zap.String("guild", g.ID), zap.Error(err))
			continue
		}
		b.synced.Store(g.ID, true)
		created++
	}
	b.log.Info("synchronized commands", zap.Int("guilds", created))
}

// onGuildCreate syncs commands in guilds joined after startup.
func (b *Bot) onGuildCreate(s *discordgo.Session, g *discordgo.GuildCreate) {
	if g.Guild == nil || g.ID == "" || s.State.User == nil || g.Unavailable {
		return
	}
	if _, done := b.synced.LoadOrStore(g.ID, true); done {
		return
	}
	if err := b.syncCommands(s, g.ID); err != nil {
		b.synced.Delete(g.ID)
		b.log.Warn("failed to sync commands", zap.String("guild", g.ID), zap.Error(err))
	}
}

func runBot(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if cfg.Token == "" {
		return errors.New("BOT_TOKEN is not set in environment")
	}
	if cfg.OwnerID == "" {
		logger.Warn("OWNER_ID is not set; owner-only command will be disabled")
	}

	db, err := store.Open(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("DB init error: %w", err)
	}
	defer db.Close()

	dg, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return fmt.Errorf("error creating Discord session: %w", err)
	}
	dg.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildMembers | discordgo.IntentsGuildMessages

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	bot := newBot(ctx, cfg, logger, dg, dg.State, db)

	dg.AddHandler(bot.onReady)
	dg.AddHandler(bot.onGuildCreate)
	dg.AddHandler(bot.onInteractionCreate)
	dg.AddHandler(bot.onGuildMemberAdd)
	dg.AddHandler(bot.onGuildMemberRemove)
	dg.AddHandler(bot.onGuildMemberUpdate)
	dg.AddHandler(bot.onMessageCreate)

	// Open websocket
	if err := dg.Open(); err != nil {
		return fmt.Errorf("cannot open the session: %w", err)
	}
	defer dg.Close()

	stop := make(chan struct{})
	go bot.startStatusRotator(stop)
	go bot.startScheduler(stop, scheduleInterval)

	// Wait for CTRL-C or SIGTERM
	logger.Info("bot is now running, press CTRL-C to exit")
	sc := make(chan os.Signal, 1)
	signal.Notify(sc, syscall.SIGINT, syscall.SIGTERM, os.Interrupt)
	select {
	case <-sc:
	case <-ctx.Done():
	}

	close(stop)
	logger.Info("shutting down")
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// Command worker runs the TeleGuard alert worker: one long-lived process
// that supervises every user's upstream platform session, evaluates
// inbound messages against their rules, and dispatches matches to email
// and the control bot.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/mymmrac/telego"
	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/teleguard-io/teleguard-worker/internal/botcmd"
	"github.com/teleguard-io/teleguard-worker/internal/config"
	"github.com/teleguard-io/teleguard-worker/internal/evaluator"
	"github.com/teleguard-io/teleguard-worker/internal/logging"
	"github.com/teleguard-io/teleguard-worker/internal/model"
	"github.com/teleguard-io/teleguard-worker/internal/notify"
	"github.com/teleguard-io/teleguard-worker/internal/platform"
	"github.com/teleguard-io/teleguard-worker/internal/store/pg"
	"github.com/teleguard-io/teleguard-worker/internal/supervisor"
)

var (
	logLevelFlag string
)

func main() {
	root := &cobra.Command{
		Use:   "worker",
		Short: "TeleGuard alert worker",
	}

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the supervisor, evaluator, and control bot until terminated",
		RunE:  runServe,
	}
	serve.Flags().StringVar(&logLevelFlag, "log-level", "", "override LOG_LEVEL from the environment")

	root.AddCommand(serve)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if logLevelFlag != "" {
		cfg.LogLevel = logLevelFlag
	}
	logging.Setup(cfg.LogLevel, cfg.LogJSON)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	gw, err := pg.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("open storage gateway: %w", err)
	}
	defer gw.Close()

	eval := evaluator.New(gw.GetActiveRulesFor, cfg.DedupCacheSize, cfg.RuleCacheTTL)

	var bot *telego.Bot
	if cfg.BotToken != "" {
		bot, err = telego.NewBot(cfg.BotToken)
		if err != nil {
			return fmt.Errorf("init control bot: %w", err)
		}
	}

	dispatch := notify.New(notify.Config{
		SMTPServer:   cfg.SMTPServer,
		SMTPPort:     cfg.SMTPPort,
		SMTPUser:     cfg.SMTPUser,
		SMTPPassword: cfg.SMTPPassword,
		EmailFrom:    cfg.EmailsFrom,
		Bot:          bot,
		BotRateLimit: rate.Limit(20),
	})

	sup := supervisor.New(gw, eval, dispatch, gotdClientFactory(cfg), supervisor.Config{
		Tick:             cfg.SupervisorTick,
		LivenessTimeout:  cfg.LivenessTimeout,
		SyncedChatsLimit: cfg.SyncedChatsLimit,
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		sup.Run(ctx)
	}()

	if bot != nil {
		go func() {
			botSurface := botcmd.New(bot, gw, eval)
			if err := botSurface.Run(ctx); err != nil && ctx.Err() == nil {
				slog.Error("control bot stopped unexpectedly", "error", err)
			}
		}()
	} else {
		slog.Warn("BOT_TOKEN not set, control bot command surface disabled")
	}

	slog.Info("worker started",
		"supervisor_tick", cfg.SupervisorTick,
		"liveness_timeout", cfg.LivenessTimeout,
		"bot_enabled", bot != nil,
	)

	<-ctx.Done()
	slog.Info("shutdown signal received, waiting for supervisor to drain")
	<-done
	return nil
}

func gotdClientFactory(cfg *config.Config) supervisor.ClientFactory {
	return func(session model.PlatformSession) platform.Client {
		return platform.NewGotdClient(cfg.TelegramAPIID, cfg.TelegramAPIHash, session.SessionString)
	}
}

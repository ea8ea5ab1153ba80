// Package cmd implements the gateway's command-line entry point: a single
// non-interactive command that loads configuration, opens storage, and
// serves until terminated.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/aobot-gateway/internal/channels"
	"github.com/nextlevelbuilder/aobot-gateway/internal/channels/discord"
	"github.com/nextlevelbuilder/aobot-gateway/internal/channels/external"
	"github.com/nextlevelbuilder/aobot-gateway/internal/channels/telegram"
	"github.com/nextlevelbuilder/aobot-gateway/internal/bus"
	"github.com/nextlevelbuilder/aobot-gateway/internal/config"
	"github.com/nextlevelbuilder/aobot-gateway/internal/gateway"
	"github.com/nextlevelbuilder/aobot-gateway/internal/sessions"
	"github.com/nextlevelbuilder/aobot-gateway/internal/store/sqlite"
)

// Version is set at build time via -ldflags "-X .../cmd.Version=v1.0.0".
var Version = "dev"

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "gateway",
	Short: "Multi-channel AI agent gateway",
	Long:  "Bridges chat platforms (Telegram, Discord, pluggable externals) with LLM agent sessions over a WebSocket JSON-RPC front-end.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runGateway()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: config.json or $AOBOT_CONFIG)")
	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("gateway %s\n", Version)
		},
	})
}

// Execute runs the root cobra command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func resolveConfigPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	if v := os.Getenv("AOBOT_CONFIG"); v != "" {
		return v
	}
	return "config.json"
}

// runGateway wires config, storage, the session and channel managers, and
// the WebSocket JSON-RPC front-end together, then blocks until SIGINT/SIGTERM.
func runGateway() error {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	store, err := sqlite.Open(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer store.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sessionMgr := sessions.NewManager(cfg, store)
	if n, err := sessionMgr.RestoreSessions(ctx); err != nil {
		slog.Warn("failed to restore sessions", "error", err)
	} else if n > 0 {
		slog.Info("restored sessions from storage", "count", n)
	}

	msgBus := bus.NewMessageBus()
	channelMgr := channels.NewManager(msgBus)
	registerChannels(ctx, channelMgr, cfg, msgBus)
	channelMgr.StartAll(ctx)
	defer channelMgr.StopAll(context.Background())

	go channelMgr.RunMessageLoop(ctx, sessionMgr)

	srv := gateway.NewServer(cfg, sessionMgr, channelMgr)
	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("gateway server: %w", err)
	}
	return nil
}

// registerChannels builds and registers every channel named in config:
// the built-in Telegram/Discord adapters when enabled, plus one external
// subprocess adapter per configured entry. A single construction failure is
// logged and skipped rather than aborting startup.
func registerChannels(ctx context.Context, mgr *channels.Manager, cfg *config.Config, router bus.MessageRouter) {
	if cfg.Channels.Telegram.Enabled {
		ch, err := telegram.New("telegram", cfg.Channels.Telegram, router)
		if err != nil {
			slog.Error("failed to construct telegram channel", "error", err)
		} else {
			mgr.Register(ctx, ch)
		}
	}

	if cfg.Channels.Discord.Enabled {
		ch, err := discord.New("discord", cfg.Channels.Discord, router)
		if err != nil {
			slog.Error("failed to construct discord channel", "error", err)
		} else {
			mgr.Register(ctx, ch)
		}
	}

	for id, extCfg := range cfg.Channels.External {
		if !extCfg.Enabled {
			continue
		}
		mgr.Register(ctx, external.New(id, extCfg, router))
	}
}

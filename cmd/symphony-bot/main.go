// Command symphony-bot is a small example bot built on the Symphony adapter:
// it greets users who say hello, answers direct messages, and shows how a
// host application wires config, subscription and publishing together.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	symphony "github.com/Point72/csp-adapter-symphony"
	"github.com/Point72/csp-adapter-symphony/internal/metrics"

	"github.com/spf13/cobra"
)

var (
	version    = "0.1.0"
	logger     *slog.Logger
	configPath string // overridable via --config flag
)

func main() {
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	root := &cobra.Command{
		Use:     "symphony-bot",
		Short:   "Example bot for the Symphony chat adapter",
		Version: version,
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.yaml (default: ~/.symphony/config.yaml)")

	root.AddCommand(initCmd())
	root.AddCommand(doctorCmd())
	root.AddCommand(helloCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.yaml"
	}
	return filepath.Join(home, ".symphony", "config.yaml")
}

func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return defaultConfigPath()
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := resolveConfigPath()
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("config already exists at %s", path)
			}
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return err
			}
			cfg := symphony.Defaults()
			cfg.Host = "company.symphony.com"
			cfg.AuthHost = "company-api.symphony.com"
			cfg.Cert = "/path/to/bot-cert.pem"
			cfg.Key = "/path/to/bot-key.pem"
			if err := symphony.SaveConfig(path, cfg); err != nil {
				return err
			}
			logger.Info("initialized", "config", path)
			return nil
		},
	}
}

func doctorCmd() *cobra.Command {
	var room string
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Validate config and test authentication",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := symphony.LoadConfig(resolveConfigPath())
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			logger.Info("config valid", "host", cfg.Host, "auth_host", cfg.AuthHost)

			backend, err := symphony.NewBackend(cfg, logger)
			if err != nil {
				return err
			}
			defer backend.Close()

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
			defer cancel()
			if err := backend.Connect(ctx); err != nil {
				return fmt.Errorf("authentication failed: %w", err)
			}
			logger.Info("authentication ok")

			if room != "" {
				id, err := backend.LookupRoomID(ctx, room)
				if err != nil {
					return fmt.Errorf("room lookup failed: %w", err)
				}
				logger.Info("room lookup ok", "room", room, "stream_id", id)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&room, "room", "", "room name to test directory lookup with")
	return cmd
}

func helloCmd() *cobra.Command {
	var (
		rooms       []string
		exitMsg     string
		metricsAddr string
	)
	cmd := &cobra.Command{
		Use:   "hello",
		Short: "Run the hello bot",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := symphony.LoadConfig(resolveConfigPath())
			if err != nil {
				return err
			}

			adapter, err := symphony.New(cfg, logger)
			if err != nil {
				return err
			}
			defer adapter.Close()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := adapter.Connect(ctx); err != nil {
				return err
			}
			if err := adapter.PublishPresence(ctx, symphony.PresenceAvailable); err != nil {
				logger.Warn("presence update failed", "error", err)
			}

			if metricsAddr != "" {
				go func() {
					logger.Info("serving metrics", "addr", metricsAddr)
					if err := http.ListenAndServe(metricsAddr, metrics.Handler()); err != nil {
						logger.Error("metrics server stopped", "error", err)
					}
				}()
			}

			msgs, err := adapter.Subscribe(ctx, symphony.SubscribeOptions{
				Rooms:           rooms,
				SkipOwnMessages: true,
				SkipHistory:     true,
				ExitMessage:     exitMsg,
			})
			if err != nil {
				return err
			}
			logger.Info("hello bot running", "rooms", rooms)

			for batch := range msgs {
				for _, msg := range batch {
					handleMessage(adapter, msg)
				}
			}
			logger.Info("feed closed, shutting down")
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&rooms, "rooms", nil, "room names to subscribe to (default: all)")
	cmd.Flags().StringVar(&exitMsg, "exit-msg", "", "message to send on shutdown")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "address to serve Prometheus metrics on (e.g. :9090)")
	return cmd
}

func handleMessage(adapter *symphony.Adapter, msg symphony.Message) {
	text := strings.ToLower(msg.Msg)
	switch {
	case msg.IsIM:
		adapter.Publish(msg.Reply("Thanks for the DM! I received your message."))
	case strings.Contains(text, "help"):
		adapter.Publish(msg.DirectReply(
			"Here's how to use this bot: say 'hello' for a greeting, " +
				"send me a DM for a private conversation, or type 'help' for this message."))
	case strings.Contains(text, "hello"):
		adapter.Publish(msg.Reply(fmt.Sprintf("Hello %s!", msg.Mention())))
	}
}

// Command voicetask runs the conversational task assistant: an HTTP/WebSocket
// server that turns transcribed utterances into task mutations or
// productivity answers.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/normanking/voicetask/internal/agent"
	"github.com/normanking/voicetask/internal/config"
	"github.com/normanking/voicetask/internal/llm"
	"github.com/normanking/voicetask/internal/logging"
	"github.com/normanking/voicetask/internal/memory"
	"github.com/normanking/voicetask/internal/orchestrator"
	"github.com/normanking/voicetask/internal/push"
	"github.com/normanking/voicetask/internal/router"
	"github.com/normanking/voicetask/internal/server"
	"github.com/normanking/voicetask/internal/store"
	"github.com/normanking/voicetask/internal/tools"
)

var version = "0.3.0"

var cfgPath string

func main() {
	rootCmd := &cobra.Command{
		Use:   "voicetask",
		Short: "VoiceTask - voice-driven task assistant",
		Long: `VoiceTask turns transcribed speech into task management:
  • Intent routing (edit vs. analyze) with a regex fast path
  • Tool-calling agent loops over a local SQLite task store
  • Preference memory extracted from conversation
  • Live task updates over WebSocket

Run the server:         voicetask serve
Process one utterance:  voicetask turn "add a task called buy milk"`,
	}

	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "config file path (default ~/.voicetask/config.yaml)")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("VoiceTask v%s\n", version)
		},
	})
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(turnCmd())
	rootCmd.AddCommand(configCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// ═══════════════════════════════════════════════════════════════════════════════
// WIRING
// ═══════════════════════════════════════════════════════════════════════════════

// app holds the assembled pipeline for one process.
type app struct {
	cfg    *config.Config
	store  *store.Store
	driver *orchestrator.Driver
	router *router.SmartRouter
	hub    *push.Hub
}

func loadConfig() (*config.Config, error) {
	if cfgPath != "" {
		return config.LoadFromPath(cfgPath)
	}
	return config.Load()
}

// buildApp wires config, storage, models, tools, and the turn driver.
func buildApp(withHub bool) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logCfg := logging.DefaultConfig()
	logCfg.Level = logging.ParseLevel(cfg.Logging.Level)
	log := logging.New(logCfg)
	if cfg.Logging.File != "" {
		if err := log.SetFileOutput(cfg.Logging.File); err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
	}
	logging.SetGlobal(log)

	s, err := store.NewDB(cfg.Store.DataDir)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if err := s.Migrate(); err != nil {
		s.Close()
		return nil, fmt.Errorf("migrate store: %w", err)
	}

	providerCfg := &llm.ProviderConfig{
		Endpoint:    cfg.LLM.Endpoint,
		Model:       cfg.LLM.Model,
		Temperature: 0.2,
		Timeout:     time.Duration(cfg.LLM.RequestTimeoutSec) * time.Second,
	}
	main := llm.NewOllamaProvider(providerCfg)

	miniCfg := *providerCfg
	miniCfg.Model = cfg.LLM.MiniModel
	mini := llm.NewOllamaProvider(&miniCfg)

	registry := tools.NewRegistry()
	tools.RegisterTaskTools(registry, s)
	tools.RegisterDateTools(registry, time.Now)
	tools.RegisterAnalysisTools(registry, s, time.Now, cfg.Analysis.StaleTaskThresholdDays)

	rt := router.NewSmartRouter(
		router.NewProviderClassifier(mini, cfg.LLM.MiniModel),
		router.WithConfidenceThreshold(cfg.Router.ConfidenceThreshold),
		router.WithAcceptThreshold(cfg.Router.AcceptThreshold),
	)

	var hub *push.Hub
	var notifier orchestrator.Notifier
	if withHub {
		hub = push.NewHub()
		notifier = hub
	}

	driver := orchestrator.New(s,
		memory.NewExtractor(mini, cfg.LLM.MiniModel, s),
		rt,
		agent.New(main, cfg.LLM.Model, registry, agent.ModeMutate, cfg.Agent.MaxIterations),
		agent.New(main, cfg.LLM.Model, registry, agent.ModeAnalyze, cfg.Agent.MaxIterations),
		notifier,
		orchestrator.Config{
			TurnTimeout:  time.Duration(cfg.Agent.TurnTimeoutSec) * time.Second,
			TraceEnabled: cfg.Trace.Enabled,
		},
	)

	return &app{cfg: cfg, store: s, driver: driver, router: rt, hub: hub}, nil
}

func (a *app) close() {
	if a.store != nil {
		a.store.Close()
	}
}

// ═══════════════════════════════════════════════════════════════════════════════
// COMMANDS
// ═══════════════════════════════════════════════════════════════════════════════

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP/WebSocket API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(true)
			if err != nil {
				return err
			}
			defer a.close()

			srv := server.New(a.cfg.Server.Listen, a.driver, a.hub, a.store, a.router)

			errCh := make(chan error, 1)
			go func() { errCh <- srv.Start() }()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

			select {
			case err := <-errCh:
				return err
			case sig := <-sigCh:
				fmt.Printf("\nReceived %s, shutting down...\n", sig)
				ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				return srv.Shutdown(ctx)
			}
		},
	}
}

func turnCmd() *cobra.Command {
	var userID, conversationID string
	var showTrace bool

	cmd := &cobra.Command{
		Use:   "turn [utterance]",
		Short: "Process a single utterance from the command line",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(false)
			if err != nil {
				return err
			}
			defer a.close()

			utterance := strings.Join(args, " ")

			result, err := a.driver.ProcessTurn(cmd.Context(), userID, conversationID, utterance)
			if err != nil {
				if result != nil {
					fmt.Println(result.Response)
				}
				return err
			}

			fmt.Println(result.Response)
			if len(result.MutationsApplied) > 0 {
				fmt.Printf("(changed tasks: %v)\n", result.MutationsApplied)
			}
			if result.Status != "ok" {
				fmt.Printf("(status: %s)\n", result.Status)
			}

			if showTrace {
				rec, err := a.store.GetTrace(cmd.Context(), result.TraceRef)
				if err != nil {
					return fmt.Errorf("load trace: %w", err)
				}
				for _, step := range rec.Steps {
					line := string(step.Phase)
					if step.Tool != "" {
						line += " " + step.Tool
					}
					if step.Content != "" {
						line += ": " + step.Content
					}
					fmt.Printf("  [%s]\n", line)
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&userID, "user", "local", "user id")
	cmd.Flags().StringVar(&conversationID, "conversation", "cli", "conversation id")
	cmd.Flags().BoolVar(&showTrace, "trace", false, "print the turn trace")
	return cmd
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			data, err := json.MarshalIndent(cfg, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(data))
			return nil
		},
	})

	return cmd
}

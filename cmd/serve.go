package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"votegate/internal/config"
	"votegate/internal/engine"
	"votegate/internal/facematch"
	"votegate/internal/notify"
	"votegate/internal/session"
	"votegate/internal/template"
	"votegate/internal/votechain"
	"votegate/internal/web"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the verification gateway",
	Long: `Start the Votegate HTTP server.
The server exposes verification sessions, live status streams for the
voting front-end, and the sealed ballot chain of each election.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().Int("port", 8080, "Port to listen on")
	serveCmd.Flags().String("host", "0.0.0.0", "Host to bind to")
}

// resolveServeHostPort resolves port and host from flags and environment variables.
func resolveServeHostPort(cmd *cobra.Command) (int, string) {
	port := mustGetInt(cmd, "port")
	host := mustGetString(cmd, "host")

	if envPort := os.Getenv("WEB_PORT"); envPort != "" {
		fmt.Sscanf(envPort, "%d", &port)
	}
	if envHost := os.Getenv("WEB_HOST"); envHost != "" {
		host = envHost
	}
	return port, host
}

// buildTemplateStore picks PostgreSQL when configured, in-memory otherwise.
func buildTemplateStore(cfg *config.Config) (template.Store, func(), error) {
	if cfg.Database.URL == "" {
		fmt.Println("DATABASE_URL not set, using in-memory template storage")
		return template.NewMemoryStore(), func() {}, nil
	}

	fmt.Println("Connecting to PostgreSQL template storage...")
	pg, err := template.NewPostgresStore(&cfg.Database, cfg.Embedding.Dim)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize PostgreSQL: %w", err)
	}
	return pg, func() { pg.Close() }, nil
}

// buildSessionStore picks Redis when configured, in-memory otherwise.
func buildSessionStore(cfg *config.Config) (session.Store, error) {
	if cfg.Redis.Addr == "" {
		fmt.Println("REDIS_ADDR not set, using in-memory session storage")
		return session.NewMemoryStore(), nil
	}

	fmt.Printf("Connecting to Redis session storage at %s...\n", cfg.Redis.Addr)
	rs, err := session.NewRedisStore(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return rs, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return err
	}

	templates, closeTemplates, err := buildTemplateStore(cfg)
	if err != nil {
		return err
	}
	defer closeTemplates()

	all, err := templates.All(context.Background())
	if err != nil {
		return fmt.Errorf("loading templates for the identification index: %w", err)
	}
	index := template.NewIndex()
	index.Build(all)
	fmt.Printf("Identification index built with %d templates\n", index.Count())

	sessions, err := buildSessionStore(cfg)
	if err != nil {
		return err
	}

	broker := notify.NewBroker(cfg.Notify.Grace)
	chat := notify.NewChatNotifier(cfg.Notify.ChatWebhookURL)
	fmt.Println(chat)

	// Swept sessions close their live streams with a final expired event.
	sweeper := session.NewSweeper(sessions, cfg.Session.Sweep, cfg.Session.Retention, func(id string) {
		broker.CloseSession(id, notify.StatusUpdate(string(session.StatusExpired), "Session expired"))
	})
	sweeper.Start()

	ledger, err := votechain.NewLedger(cfg.Ledger.Path)
	if err != nil {
		return fmt.Errorf("opening ballot ledger: %w", err)
	}
	defer ledger.Close()
	fmt.Printf("Ballot ledger open at %s\n", cfg.Ledger.Path)

	extractor := facematch.NewClient(cfg.Embedding.URL, cfg.Matching.ComparableFaceRatio, cfg.Embedding.Timeout)
	eng := engine.New(cfg, sessions, templates, index, extractor, broker, chat, ledger)

	port, host := resolveServeHostPort(cmd)
	server := web.NewServer(cfg, port, host, eng, broker)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		fmt.Println("\nShutting down...")
		sweeper.Stop()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			fmt.Printf("Error during shutdown: %v\n", err)
		}
	}()

	fmt.Printf("Starting Votegate on http://%s:%d\n", host, port)
	fmt.Println("Press Ctrl+C to stop")

	if err := server.Start(); err != nil {
		return fmt.Errorf("starting server: %w", err)
	}
	return nil
}

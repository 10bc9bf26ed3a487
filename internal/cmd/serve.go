package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/wardenhq/warden/internal/server"
	"github.com/wardenhq/warden/internal/tenant"
	"github.com/wardenhq/warden/internal/trigger"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the warden HTTP API server",
	Long: `Serves the query pipeline over HTTP. API keys map callers to tenants via
WARDEN_API_KEYS (comma-separated key:tenant_id entries). When reindex_cron is
configured the corpus is re-indexed on that schedule.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 8080, "HTTP server port")
	rootCmd.AddCommand(serveCmd)
}

// parseAPIKeys returns a map of key -> tenant_id from WARDEN_API_KEYS
// (comma-separated; each entry is key:tenant_id).
func parseAPIKeys(env string) map[string]string {
	m := make(map[string]string)
	if env == "" {
		return m
	}
	for _, part := range strings.Split(env, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		idx := strings.Index(part, ":")
		if idx <= 0 || idx == len(part)-1 {
			log.Warn().Str("entry", part).Msg("ignoring malformed WARDEN_API_KEYS entry, want key:tenant_id")
			continue
		}
		m[strings.TrimSpace(part[:idx])] = strings.TrimSpace(part[idx+1:])
	}
	return m
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p, err := buildPipeline()
	if err != nil {
		return err
	}
	defer p.Close()

	apiKeys := parseAPIKeys(os.Getenv("WARDEN_API_KEYS"))
	if len(apiKeys) == 0 {
		log.Warn().Msg("WARDEN_API_KEYS not set — all API endpoints will return 401. Set for production.")
	}

	scheduler := trigger.NewScheduler(p)
	if p.cfg.ReindexCron != "" {
		if err := scheduler.Register(p.cfg.ReindexCron); err != nil {
			return fmt.Errorf("registering reindex schedule: %w", err)
		}
		scheduler.Start()
		defer scheduler.Stop()
	}

	srv := server.NewServer(
		p.engine,
		p.decisions,
		p.mem,
		apiKeys,
		server.WithRegistry(tenant.FromIDs(p.cfg.Tenants, p.cfg.RateLimitRPS)),
		server.WithIndex(p.index),
	)

	addr := fmt.Sprintf(":%d", servePort)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      srv.Routes(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	log.Info().
		Str("addr", addr).
		Int("cron_entries", scheduler.Entries()).
		Int("tenants", len(p.cfg.Tenants)).
		Msg("warden_serve_started")

	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown_signal_received")
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	log.Info().Msg("server_stopped")
	return nil
}

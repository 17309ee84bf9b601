// Package main provides the advisor server binary.
// The server answers questions from self-employed professionals over HTTP,
// backed by Qdrant retrieval and Gemini models.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/asesorlab/advisor/internal/config"
	"github.com/asesorlab/advisor/internal/pkg/logger"
	"github.com/asesorlab/advisor/internal/pkg/security"
	"github.com/asesorlab/advisor/internal/server"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "advisor-server",
		Short: "Advisor Server - grounded answers for self-employed professionals",
		Long: `Advisor Server exposes an HTTP API that answers fiscal, labor and
market questions in Spanish, grounded on a curated knowledge base.

The server exposes:
  - POST /v1/ask                  answer a question
  - GET  /v1/conversations/{id}   conversation history
  - GET  /healthz, /readyz        health probes
  - GET  /v1/rag/traces           answer traces (admin key required)

Examples:
  advisor-server                       # Start with defaults
  advisor-server --port 9090           # Custom HTTP port
  advisor-server -c advisor.yaml       # Load a config file`,
		RunE:         runServer,
		SilenceUsage: true,
	}

	rootCmd.Flags().StringP("config", "c", "", "config file path")
	rootCmd.Flags().BoolP("verbose", "v", false, "verbose logging")
	rootCmd.Flags().IntP("port", "p", 0, "HTTP server port (overrides config)")
	rootCmd.Flags().String("host", "", "server host (overrides config)")
	rootCmd.Flags().String("qdrant", "", "Qdrant URL (overrides config)")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("advisor-server %s\n", version)
			fmt.Printf("  commit: %s\n", commit)
			fmt.Printf("  built:  %s\n", date)
		},
	})

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runServer(cmd *cobra.Command, _ []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	verbose, _ := cmd.Flags().GetBool("verbose")
	port, _ := cmd.Flags().GetInt("port")
	host, _ := cmd.Flags().GetString("host")
	qdrantURL, _ := cmd.Flags().GetString("qdrant")

	appCfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if cmd.Flags().Changed("port") {
		appCfg.Port = port
	}
	if host != "" {
		appCfg.Host = host
	}
	if qdrantURL != "" {
		appCfg.Qdrant.URL = qdrantURL
	}

	logLevel := appCfg.Log.Level
	if verbose {
		logLevel = "debug"
	}
	log := logger.New(logLevel, appCfg.Log.Format)

	log.Info("Starting Advisor Server",
		"version", version,
		"host", appCfg.Host,
		"port", appCfg.Port,
	)
	log.Debug("Effective configuration",
		"settings", security.MaskSensitiveMap(map[string]string{
			"gemini_api_key": appCfg.Gemini.APIKey,
			"admin_api_key":  appCfg.Security.AdminAPIKey,
			"qdrant_url":     appCfg.Qdrant.URL,
			"primary_model":  appCfg.Gemini.PrimaryModel,
			"fallback_model": appCfg.Gemini.FallbackModel,
			"bus_type":       appCfg.Bus.Type,
		}),
	)

	srvCfg := server.DefaultConfig()
	srvCfg.Host = appCfg.Host
	srvCfg.Port = appCfg.Port
	srvCfg.Version = version

	srv, err := server.New(srvCfg, *appCfg, log)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigCh:
		log.Info("Received signal, shutting down", "signal", sig.String())
	}

	return srv.Stop(context.Background())
}

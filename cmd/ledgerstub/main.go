package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dvloznov/ledgerx-smoke/internal/ledgerstub"
	"github.com/dvloznov/ledgerx-smoke/internal/logger"
)

func main() {
	// Parse command-line flags
	var (
		port           = flag.String("port", "8080", "HTTP server port")
		exportDir      = flag.String("export-dir", "./tmp/exports", "Directory export files are written to")
		reportDir      = flag.String("report-dir", "", "Directory reported in file paths instead of -export-dir")
		keyStyle       = flag.String("keys", string(ledgerstub.KeyStyleSnake), "Response key style: snake or pascal")
		nullable       = flag.Bool("nullable-paths", false, "Report file paths as {String, Valid} objects")
		failExports    = flag.Bool("fail-exports", false, "Make every export end in status error")
		exportDelay    = flag.Duration("export-delay", 2*time.Second, "How long each export takes")
		statusFailures = flag.Int("status-failures", 0, "Answer the first N status requests with 503")
		workers        = flag.Int("workers", 2, "Number of export workers")
		logLevel       = flag.String("log-level", "info", "Log level")
	)
	flag.Parse()

	log := logger.NewWithLevel(*logLevel)

	secret := os.Getenv("JWT_SIGNING_KEY")

	srv, err := ledgerstub.New(ledgerstub.Options{
		Secret:           []byte(secret),
		ExportDir:        *exportDir,
		ReportDir:        *reportDir,
		KeyStyle:         ledgerstub.KeyStyle(*keyStyle),
		NullableFilePath: *nullable,
		FailExports:      *failExports,
		ExportDelay:      *exportDelay,
		StatusFailures:   *statusFailures,
		Workers:          *workers,
		Log:              log,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create ledger stub")
	}

	// Start export workers in background
	workerCtx, cancelWorker := context.WithCancel(context.Background())
	defer cancelWorker()
	if err := srv.Start(workerCtx); err != nil {
		log.Fatal().Err(err).Msg("Failed to start export workers")
	}

	server := &http.Server{
		Addr:         ":" + *port,
		Handler:      srv.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		log.Info().Str("port", *port).Msg("Starting ledger stub")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down ledger stub...")

	cancelWorker()

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	// Stop export workers and wait for in-flight jobs
	if err := srv.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error stopping export workers")
	}

	log.Info().Msg("Ledger stub exited")
}

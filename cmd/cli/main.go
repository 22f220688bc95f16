package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/dvloznov/ledgerx-smoke/internal/app"
	"github.com/dvloznov/ledgerx-smoke/internal/artifact"
	"github.com/dvloznov/ledgerx-smoke/internal/config"
	"github.com/dvloznov/ledgerx-smoke/internal/jsonkeys"
	"github.com/dvloznov/ledgerx-smoke/internal/ledgerclient"
	"github.com/dvloznov/ledgerx-smoke/internal/logger"
	"github.com/dvloznov/ledgerx-smoke/internal/token"
)

func main() {
	log := logger.New()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "run":
		runSmoke(log)
	case "poll":
		runPoll(log)
	case "inspect":
		runInspect(log)
	case "history":
		runHistory(log)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Ledger Smoke CLI")
	fmt.Println("\nUsage:")
	fmt.Println("  cli <command> [options]")
	fmt.Println("\nCommands:")
	fmt.Println("  run       Run the smoke scenario against a ledger")
	fmt.Println("  poll      Poll an existing export until it finishes")
	fmt.Println("  inspect   Decode a session token or check an export file")
	fmt.Println("  history   List recorded smoke runs from BigQuery")
	fmt.Println("  help      Show this help message")
	fmt.Println("\nRun 'cli <command> -h' for more information on a command.")
	fmt.Printf("\nConfiguration is read from -config, .env and %s* variables.\n", config.EnvPrefix)
}

// loadConfig loads the config file named by -config (or the environment)
// and applies the flags that were set explicitly.
func loadConfig(log zerolog.Logger, fs *flag.FlagSet, path string, apply func(cfg *config.Config, set map[string]bool)) (*config.Config, zerolog.Logger) {
	if path == "" {
		path = config.FileFromEnv()
	}
	cfg, err := config.Load(path)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	set := map[string]bool{}
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })
	apply(cfg, set)

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}
	return cfg, logger.NewWithLevel(cfg.LogLevel)
}

func runSmoke(log zerolog.Logger) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to a TOML config file")
	baseURL := fs.String("base-url", "", "Ledger base URL")
	pollAttempts := fs.Int("poll-attempts", 0, "Export status polls before giving up")
	pollInterval := fs.Duration("poll-interval", 0, "Delay between export status polls")
	healthAttempts := fs.Int("health-attempts", 0, "Wait for /healthz this many times before starting")
	fallbackDir := fs.String("fallback-dir", "", "Directory whose exports/ subdirectory is searched for the file")
	verifyCSV := fs.Bool("verify-csv", false, "Parse the export and look for the smoke transaction")
	strictCSV := fs.Bool("strict-csv", false, "Fail the run when the CSV check fails")
	download := fs.Bool("download", false, "Also fetch the export through /exports/{id}/download")
	archiveBucket := fs.String("archive-bucket", "", "GCS bucket to archive the export to")
	logLevel := fs.String("log-level", "", "Log level (debug, info, warn, error)")
	fs.Parse(os.Args[2:])

	cfg, log := loadConfig(log, fs, *configPath, func(cfg *config.Config, set map[string]bool) {
		if set["base-url"] {
			cfg.BaseURL = *baseURL
		}
		if set["poll-attempts"] {
			cfg.PollAttempts = *pollAttempts
		}
		if set["poll-interval"] {
			cfg.PollInterval = *pollInterval
		}
		if set["health-attempts"] {
			cfg.HealthAttempts = *healthAttempts
		}
		if set["fallback-dir"] {
			cfg.FallbackDir = *fallbackDir
		}
		if set["verify-csv"] {
			cfg.VerifyCSV = *verifyCSV
		}
		if set["strict-csv"] {
			cfg.StrictCSV = *strictCSV
			if *strictCSV {
				cfg.VerifyCSV = true
			}
		}
		if set["download"] {
			cfg.CheckDownload = *download
		}
		if set["archive-bucket"] {
			cfg.ArchiveBucket = *archiveBucket
		}
		if set["log-level"] {
			cfg.LogLevel = *logLevel
		}
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	report, err := app.Run(ctx, cfg, log, app.Options{Out: os.Stdout})
	if err != nil {
		log.Fatal().Err(err).Msg("Smoke run setup failed")
	}
	if !report.OK() {
		stop()
		os.Exit(1)
	}

	fmt.Printf("Run %s finished in %s\n", report.RunID, report.FinishedAt.Sub(report.StartedAt).Round(time.Millisecond))
	fmt.Println("SMOKE OK")
}

func runPoll(log zerolog.Logger) {
	fs := flag.NewFlagSet("poll", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to a TOML config file")
	baseURL := fs.String("base-url", "", "Ledger base URL")
	exportID := fs.String("id", "", "Export ID to poll")
	attempts := fs.Int("attempts", 0, "Number of polls (defaults to poll_attempts)")
	interval := fs.Duration("interval", 0, "Delay between polls (defaults to poll_interval)")
	validate := fs.Bool("validate", false, "Locate the file once the export is done and print its head")
	fs.Parse(os.Args[2:])

	if *exportID == "" {
		log.Fatal().Msg("Error: --id is required")
	}

	cfg, log := loadConfig(log, fs, *configPath, func(cfg *config.Config, set map[string]bool) {
		if set["base-url"] {
			cfg.BaseURL = *baseURL
		}
		if set["attempts"] {
			cfg.PollAttempts = *attempts
		}
		if set["interval"] {
			cfg.PollInterval = *interval
		}
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx = logger.WithContext(ctx, log)

	client := ledgerclient.NewClient(cfg.BaseURL, cfg.RequestTimeout, "", log)

	var final jsonkeys.Object
	for i := 0; i < cfg.PollAttempts && final == nil; i++ {
		res := client.ExportStatus(ctx, *exportID)
		log.Info().Int("attempt", i).Str("status", res.StatusText()).Str("body", res.Body).Msg("poll")

		if res.StatusCode == http.StatusOK {
			obj, err := jsonkeys.Decode(res.Body)
			if err != nil {
				log.Fatal().Err(err).Msg("Invalid export status response")
			}
			st, _ := obj.String("status", "Status")
			if strings.EqualFold(st, "done") || strings.EqualFold(st, "error") {
				final = obj
				break
			}
		}
		if i < cfg.PollAttempts-1 {
			select {
			case <-time.After(cfg.PollInterval):
			case <-ctx.Done():
				log.Fatal().Err(ctx.Err()).Msg("Interrupted")
			}
		}
	}

	if final == nil {
		log.Fatal().Int("attempts", cfg.PollAttempts).Msg("Export not finished in time")
	}

	status, _ := final.String("status", "Status")
	filePath, _ := final.String("file_path", "FilePath", "filePath")
	fmt.Printf("Export %s: %s\n", *exportID, status)
	if filePath != "" {
		fmt.Printf("File:      %s\n", filePath)
	}
	if strings.EqualFold(status, "error") {
		os.Exit(1)
	}

	if !*validate {
		return
	}
	locator := artifact.NewLocator(cfg.ResolveFallbackDir(), nil, log)
	a, err := locator.Locate(ctx, filePath)
	if err != nil {
		log.Fatal().Err(err).Msg("Export file not found")
	}
	preview, err := a.Preview(cfg.PreviewBytes)
	if err != nil {
		log.Fatal().Err(err).Msg("Export file unreadable")
	}
	fmt.Printf("--- file content (first %d bytes) ---\n%s\n", cfg.PreviewBytes, preview)
}

func runInspect(log zerolog.Logger) {
	fs := flag.NewFlagSet("inspect", flag.ExitOnError)
	tok := fs.String("token", "", "Session token to decode")
	file := fs.String("file", "", "Export file path to check")
	fallbackDir := fs.String("fallback-dir", "", "Directory whose exports/ subdirectory is searched for the file")
	accountID := fs.String("account-id", "", "Account the expected row is booked on")
	amount := fs.Int64("amount-minor", 500, "Expected amount in minor units")
	currency := fs.String("currency", "USD", "Expected currency")
	fs.Parse(os.Args[2:])

	if *tok == "" && *file == "" {
		log.Fatal().Msg("Usage: cli inspect -token TOKEN | -file PATH")
	}

	if *tok != "" {
		info := token.Inspect(*tok)
		fmt.Println("\n=== Token ===")
		fmt.Printf("User ID:  %d\n", info.UserID)
		if info.Decoded {
			fmt.Println("Source:   token payload")
		} else {
			fmt.Println("Source:   default (payload unreadable or has no user_id)")
		}
		if info.ExpiresAt != nil {
			fmt.Printf("Expires:  %s\n", info.ExpiresAt.Format(time.RFC3339))
		}
	}

	if *file == "" {
		return
	}

	ctx := logger.WithContext(context.Background(), log)
	dir := *fallbackDir
	if dir == "" {
		dir = config.Default().ResolveFallbackDir()
	}
	a, err := artifact.NewLocator(dir, nil, log).Locate(ctx, *file)
	if err != nil {
		log.Fatal().Err(err).Msg("Export file not found")
	}

	rc, err := a.Open()
	if err != nil {
		log.Fatal().Err(err).Msg("Export file unreadable")
	}
	defer rc.Close()

	report, err := artifact.CheckCSV(rc, artifact.Expectation{
		AccountID:   *accountID,
		AmountMinor: *amount,
		Currency:    *currency,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Export is not a valid ledger CSV")
	}

	fmt.Println("\n=== Export ===")
	fmt.Printf("Path:     %s (%s)\n", a.Path, a.Source)
	fmt.Printf("Rows:     %d\n", report.Rows)
	if *accountID != "" {
		fmt.Printf("Matched:  %d\n", report.Matched)
	}
	for cur := range report.Totals {
		fmt.Printf("Total:    %s %s\n", report.Total(cur), cur)
	}
	fmt.Println()
}

func runHistory(log zerolog.Logger) {
	fs := flag.NewFlagSet("history", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to a TOML config file")
	project := fs.String("project", "", "GCP project holding the runs table")
	limit := fs.Int("limit", 20, "Number of runs to show")
	outcome := fs.String("outcome", "", "Only show runs with this outcome (ok, failed)")
	initTable := fs.Bool("init", false, "Create the runs table if it does not exist")
	fs.Parse(os.Args[2:])

	cfg, log := loadConfig(log, fs, *configPath, func(cfg *config.Config, set map[string]bool) {
		if set["project"] {
			cfg.RunsProject = *project
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	ctx = logger.WithContext(ctx, log)

	store, err := app.History(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open run history")
	}
	defer store.Close()

	if *initTable {
		if err := store.EnsureTable(ctx); err != nil {
			log.Fatal().Err(err).Msg("Failed to create runs table")
		}
		fmt.Printf("Runs table %s.%s is ready.\n", cfg.RunsDataset, cfg.RunsTable)
	}

	runs, err := store.ListRecent(ctx, *limit, *outcome)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to list runs")
	}

	fmt.Printf("\n=== Smoke runs (%d) ===\n", len(runs))
	for i, r := range runs {
		fmt.Printf("\n%d. %s  %s\n", i+1, r.RunID, strings.ToUpper(r.Outcome))
		fmt.Printf("   Started:  %s (%d ms)\n", r.StartedTS.Format(time.RFC3339), r.DurationMS)
		fmt.Printf("   Ledger:   %s\n", r.BaseURL)
		if r.FailedStep.Valid {
			fmt.Printf("   Failed:   %s (%s)\n", r.FailedStep.StringVal, r.FailureKind.StringVal)
		}
		if r.ErrorMessage.Valid {
			fmt.Printf("   Error:    %s\n", r.ErrorMessage.StringVal)
		}
		if r.ExportID.Valid {
			fmt.Printf("   Export:   %s after %d polls\n", r.ExportID.StringVal, r.PollAttempts)
		}
		if r.ArtifactPath.Valid {
			fmt.Printf("   Artifact: %s\n", r.ArtifactPath.StringVal)
		}
	}
	fmt.Println()
}

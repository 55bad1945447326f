// abctl is the operator CLI for the A/B testing gateway: experiment reports,
// data export, configuration validation and webhook secret generation.
package main

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"flag"
	"fmt"
	"math/big"
	"os"
	"time"

	"github.com/joho/godotenv"

	"ab-gateway/internal/config"
	"ab-gateway/internal/report"
	"ab-gateway/internal/storage"
)

func main() {
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() < 1 {
		usage()
		os.Exit(2)
	}

	_ = godotenv.Load()

	var err error
	switch flag.Arg(0) {
	case "report":
		err = runReport(flag.Args()[1:])
	case "export":
		err = runExport(flag.Args()[1:])
	case "validate":
		err = runValidate()
	case "secret":
		err = runSecret()
	default:
		usage()
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "abctl: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprint(os.Stderr, `Usage: abctl <command> [arguments]

Commands:
  report [-list] [experiment]  print per-variant statistics
  export [-o file]             write a full data export as JSON
  validate                     check configuration and database setup
  secret                       generate a webhook secret
`)
}

func openStore(cfg *config.Config) (storage.Store, error) {
	dsn := cfg.DatabasePath
	if cfg.DatabaseType == "postgres" || cfg.DatabaseType == "postgresql" {
		dsn = storage.PostgresDSN(cfg.PostgresHost, cfg.PostgresPort, cfg.PostgresDB,
			cfg.PostgresUser, cfg.PostgresPassword, cfg.PostgresSSLMode)
	}
	return storage.Open(cfg.DatabaseType, dsn)
}

func runReport(args []string) error {
	fs := flag.NewFlagSet("report", flag.ExitOnError)
	list := fs.Bool("list", false, "list experiments in database")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg := config.Load()
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := context.Background()
	service := report.NewService(store)

	if *list {
		summaries, err := service.List(ctx)
		if err != nil {
			return err
		}
		return prettyPrint(summaries)
	}

	if experiment := fs.Arg(0); experiment != "" {
		stats, err := service.Report(ctx, experiment)
		if err != nil {
			return err
		}
		return prettyPrint(stats)
	}

	summaries, err := service.List(ctx)
	if err != nil {
		return err
	}
	all := make(map[string][]storage.VariantStat, len(summaries))
	for _, summary := range summaries {
		stats, err := service.Report(ctx, summary.Experiment)
		if err != nil {
			return err
		}
		all[summary.Experiment] = stats
	}
	return prettyPrint(all)
}

func runExport(args []string) error {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	output := fs.String("o", "", "output file (default ab_export_<timestamp>.json)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg := config.Load()
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	export, err := report.NewService(store).Export(context.Background())
	if err != nil {
		return err
	}

	filename := *output
	if filename == "" {
		filename = fmt.Sprintf("ab_export_%s.json", time.Now().Format("2006-01-02_15-04-05"))
	}

	data, err := json.MarshalIndent(export, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(filename, data, 0644); err != nil {
		return err
	}

	fmt.Printf("Exported to %s\n", filename)
	fmt.Printf("  Experiments: %d\n", len(export.Experiments))
	fmt.Printf("  Goals: %d\n", len(export.Goals))
	fmt.Printf("  Instances: %d\n", len(export.Instances))
	fmt.Printf("  Events: %d\n", len(export.Events))
	return nil
}

func runValidate() error {
	fmt.Println("Validating A/B testing configuration...")

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration invalid: %w", err)
	}
	fmt.Println("  ok: configuration")
	fmt.Printf("  ok: analytics driver: %s\n", cfg.AnalyticsDriver)
	fmt.Printf("  ok: report auth: %s\n", cfg.ReportAuth)
	if cfg.CacheEnabled {
		fmt.Printf("  ok: definition cache enabled (ttl %s)\n", cfg.CacheTTL)
	} else {
		fmt.Println("  ok: definition cache disabled")
	}

	store, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("database unreachable: %w", err)
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := store.Ping(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	fmt.Printf("  ok: database (%s)\n", cfg.DatabaseType)

	// Opening the store runs migrations, so the tables exist if these
	// queries succeed.
	experiments, err := store.ExportExperiments(ctx)
	if err != nil {
		return fmt.Errorf("ab_experiments check failed: %w", err)
	}
	instances, err := store.ExportInstances(ctx)
	if err != nil {
		return fmt.Errorf("ab_instances check failed: %w", err)
	}
	events, err := store.ExportEvents(ctx)
	if err != nil {
		return fmt.Errorf("ab_events check failed: %w", err)
	}
	goals, err := store.ExportGoals(ctx)
	if err != nil {
		return fmt.Errorf("ab_goals check failed: %w", err)
	}

	fmt.Printf("  Experiments: %d\n", len(experiments))
	fmt.Printf("  Instances: %d\n", len(instances))
	fmt.Printf("  Events: %d\n", len(events))
	fmt.Printf("  Goals: %d\n", len(goals))

	fmt.Println("Validation complete, everything looks good.")
	return nil
}

const secretAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

func runSecret() error {
	secret := make([]byte, 64)
	for i := range secret {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(secretAlphabet))))
		if err != nil {
			return err
		}
		secret[i] = secretAlphabet[n.Int64()]
	}

	fmt.Println("Webhook secret generated successfully!")
	fmt.Println()
	fmt.Println("Add this to your .env file:")
	fmt.Println()
	fmt.Printf("AB_WEBHOOK_SECRET=%s\n", secret)
	fmt.Println()
	fmt.Println("Also set these optional configuration values:")
	fmt.Println("AB_WEBHOOK_ENABLED=true")
	fmt.Println("AB_WEBHOOK_RATE_LIMIT=60")
	fmt.Println("AB_WEBHOOK_PATH=/ab/webhook/goal")
	fmt.Println()
	fmt.Println("Keep this secret safe! Anyone holding it can register goals.")
	return nil
}

func prettyPrint(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/jwaldner/chainsense/internal/app"
	"github.com/jwaldner/chainsense/internal/config"
	"github.com/jwaldner/chainsense/internal/logger"
	"github.com/jwaldner/chainsense/internal/report"
	"github.com/jwaldner/chainsense/internal/utils"
)

var (
	ticker     = flag.String("ticker", "", "Underlying symbol, e.g. AAPL (required)")
	expiry     = flag.String("expiry", "", "Expiry date YYYY-MM-DD (default: first listed expiry)")
	monthly    = flag.Bool("monthly", false, "Without -expiry, use the listed expiry nearest the next monthly cycle")
	asJSON     = flag.Bool("json", false, "Print the analysis as JSON")
	list       = flag.Bool("list", false, "Only print the listed expiries")
	configFile = flag.String("config", config.DefaultConfigFile, "Configuration file path")
	timeout    = flag.Duration("timeout", 2*time.Minute, "Overall deadline")
)

func main() {
	flag.Parse()
	if *ticker == "" {
		fmt.Fprintln(os.Stderr, "usage: report -ticker AAPL [-expiry 2024-06-21] [-json]")
		flag.PrintDefaults()
		os.Exit(2)
	}

	cfg := config.LoadFrom(*configFile)
	if err := logger.InitWithOptions(logger.Options{
		Level:      cfg.Logging.LogLevel,
		File:       cfg.Logging.LogFile,
		Format:     cfg.Logging.Format,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logging: %v\n", err)
		os.Exit(1)
	}

	a, err := app.New(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	code := run(ctx, a)
	cancel()
	a.Close()
	os.Exit(code)
}

func run(ctx context.Context, a *app.App) int {
	date := *expiry
	if date == "" || *list {
		dates := a.Reports.Expiries(ctx, *ticker)
		if len(dates) == 0 {
			fmt.Fprintf(os.Stderr, "❌ no valid expiries found for %s\n", *ticker)
			return 1
		}
		if *list {
			for _, d := range dates {
				fmt.Println(d)
			}
			return 0
		}
		date = dates[0]
		if *monthly {
			date = utils.PickExpiry(dates, time.Now())
		}
		logger.Info.Printf("📅 %s: using expiry %s", *ticker, date)
	}

	result, err := a.Reports.Analyze(ctx, *ticker, date)
	if err != nil {
		fmt.Fprintln(os.Stderr, report.RenderError(err, report.FormatText))
		return 1
	}

	if *asJSON {
		generatedAt := time.Now().UTC()
		result.GeneratedAt = &generatedAt
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(result); err != nil {
			fmt.Fprintf(os.Stderr, "❌ %v\n", err)
			return 1
		}
		return 0
	}

	fmt.Println(report.Render(result, report.FormatText))
	return 0
}

// Command ingest manages the historical bar database: schema creation,
// symbol and bar loading from vendor files, and basic statistics.
//
// Usage:
//
//	ingest init-db
//	ingest load-symbols -file symbols.csv
//	ingest load-bars -s AAPL -r minute --from 2024-01-02 --to 2024-01-31 -data ./data
//	ingest stats
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"market-replay-broker/internal/bars"
	"market-replay-broker/internal/logging"
	"market-replay-broker/internal/models"
)

const dateLayout = "2006-01-02"

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	logger := logging.New(&logging.Config{Level: "info", Component: "ingest", JSONFormat: false})

	connString := os.Getenv("POSTGRES_CONNECTION_STRING")
	if connString == "" {
		logger.Error("POSTGRES_CONNECTION_STRING is not set")
		os.Exit(1)
	}

	ctx := context.Background()
	store, err := bars.NewPostgresBarStore(ctx, connString)
	if err != nil {
		logger.Error("failed to connect", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	var cmdErr error
	switch os.Args[1] {
	case "init-db":
		cmdErr = runInitDB(ctx, store, logger)
	case "load-symbols":
		cmdErr = runLoadSymbols(ctx, store, logger, os.Args[2:])
	case "load-bars":
		cmdErr = runLoadBars(ctx, store, logger, os.Args[2:])
	case "stats":
		cmdErr = runStats(ctx, store)
	default:
		usage()
		os.Exit(1)
	}

	if cmdErr != nil {
		logger.Error("command failed", "command", os.Args[1], "error", cmdErr)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: ingest <command> [flags]

commands:
  init-db       create the bar database schema
  load-symbols  load the symbol list from a CSV file
  load-bars     load bars for one symbol from vendor data files
  stats         print per-symbol bar counts`)
}

func runInitDB(ctx context.Context, store *bars.PostgresBarStore, logger *logging.Logger) error {
	if err := store.Migrate(ctx); err != nil {
		return err
	}
	logger.Info("schema created")
	return nil
}

func runLoadSymbols(ctx context.Context, store *bars.PostgresBarStore, logger *logging.Logger, args []string) error {
	fs := flag.NewFlagSet("load-symbols", flag.ExitOnError)
	file := fs.String("file", "", "CSV file with symbol,name,exchange rows")
	fs.Parse(args)

	if *file == "" {
		return fmt.Errorf("-file is required")
	}

	symbols, err := ReadSymbolsCSV(*file)
	if err != nil {
		return err
	}

	n, err := UpsertSymbols(ctx, store.Pool(), symbols)
	if err != nil {
		return err
	}
	logger.Info("symbols loaded", "count", n, "file", *file)
	return nil
}

func runLoadBars(ctx context.Context, store *bars.PostgresBarStore, logger *logging.Logger, args []string) error {
	fs := flag.NewFlagSet("load-bars", flag.ExitOnError)
	symbol := fs.String("s", "", "symbol to load")
	resFlag := fs.String("r", "minute", "resolution: minute or daily")
	from := fs.String("from", "", "start date (YYYY-MM-DD)")
	to := fs.String("to", "", "end date (YYYY-MM-DD)")
	dataDir := fs.String("data", ".", "directory containing <SYMBOL>.csv vendor files")
	fs.Parse(args)

	if *symbol == "" {
		return fmt.Errorf("-s is required")
	}

	var res models.Resolution
	switch *resFlag {
	case "minute":
		res = models.ResolutionMinute
	case "daily":
		res = models.ResolutionDay
	default:
		return fmt.Errorf("-r must be minute or daily")
	}

	start := time.Time{}
	end := time.Now().UTC()
	if *from != "" {
		t, err := time.Parse(dateLayout, *from)
		if err != nil {
			return fmt.Errorf("invalid --from date: %w", err)
		}
		start = t
	}
	if *to != "" {
		t, err := time.Parse(dateLayout, *to)
		if err != nil {
			return fmt.Errorf("invalid --to date: %w", err)
		}
		// inclusive end of day
		end = t.Add(24*time.Hour - time.Nanosecond)
	}

	vendor := NewCSVVendor(*dataDir)
	loaded, err := vendor.FetchBars(ctx, bars.NormalizeSymbol(*symbol), start, end)
	if err != nil {
		return err
	}
	if len(loaded) == 0 {
		logger.Warn("no bars in range", "symbol", *symbol, "from", *from, "to", *to)
		return nil
	}

	n, err := InsertBars(ctx, store.Pool(), res, loaded)
	if err != nil {
		return err
	}
	logger.Info("bars loaded", "symbol", *symbol, "resolution", string(res), "inserted", n, "read", len(loaded))
	return nil
}

func runStats(ctx context.Context, store *bars.PostgresBarStore) error {
	rows, err := store.Pool().Query(ctx, `
		SELECT symbol, resolution, COUNT(*), MIN(ts), MAX(ts)
		FROM bars GROUP BY symbol, resolution ORDER BY symbol, resolution`)
	if err != nil {
		return err
	}
	defer rows.Close()

	fmt.Printf("%-10s %-10s %10s  %-20s %-20s\n", "SYMBOL", "RES", "BARS", "FIRST", "LAST")
	for rows.Next() {
		var symbol, res string
		var count int64
		var first, last time.Time
		if err := rows.Scan(&symbol, &res, &count, &first, &last); err != nil {
			return err
		}
		fmt.Printf("%-10s %-10s %10d  %-20s %-20s\n",
			symbol, res, count,
			first.Format(time.RFC3339), last.Format(time.RFC3339))
	}
	return rows.Err()
}

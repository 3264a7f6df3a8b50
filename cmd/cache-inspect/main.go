// Command cache-inspect lists the descriptor cache buckets and the recorded
// experiment runs, and can drop a stale bucket.
package main

import (
	"flag"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"scene-bench/internal/common"
	"scene-bench/internal/learn"
	"scene-bench/internal/storage"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.uber.org/multierr"
)

func main() {
	var (
		cachePath = flag.String("cache_path", common.DefaultCachePath, "Descriptor cache directory")
		runs      = flag.String("runs", "", "List the runs of this experiment name")
		days      = flag.Int("days", 30, "How far back to list runs")
		drop      = flag.String("drop", "", "Delete this bucket")
	)
	flag.Parse()

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	if err := run(*cachePath, *runs, *days, *drop); err != nil {
		log.Fatal().Err(err).Msg("Cache inspection failed")
	}
}

func run(cachePath, runs string, days int, drop string) (err error) {
	fmt.Printf("Inspecting cache in: %s\n", cachePath)

	store, err := storage.New(cachePath)
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}
	defer func() {
		err = multierr.Append(err, store.Close())
	}()

	if drop != "" {
		if err := store.Drop(drop); err != nil {
			return fmt.Errorf("failed to drop bucket %s: %w", drop, err)
		}
		log.Info().Str("bucket", drop).Msg("Bucket dropped")
	}

	if err := printBuckets(store); err != nil {
		return fmt.Errorf("failed to list buckets: %w", err)
	}

	if runs != "" {
		end := time.Now()
		records, err := store.GetRuns(runs, end.AddDate(0, 0, -days), end)
		if err != nil {
			return fmt.Errorf("failed to list runs: %w", err)
		}
		printRuns(runs, records)
	}
	return nil
}

func printBuckets(store *storage.Store) error {
	buckets, err := store.Buckets()
	if err != nil {
		return err
	}

	fmt.Println("\nBUCKETS")
	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "name\tentries")
	for _, b := range buckets {
		n, err := store.Count(b)
		if err != nil {
			return fmt.Errorf("count %s: %w", b, err)
		}
		fmt.Fprintf(tw, "%s\t%d\n", b, n)
	}
	return tw.Flush()
}

func printRuns(name string, records []storage.RunRecord) {
	fmt.Printf("\nRUNS OF %s\n", name)
	if len(records) == 0 {
		fmt.Println("none")
		return
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "started\trun id\tbest cv\taccuracy\tbest params\toutput")
	for _, r := range records {
		fmt.Fprintf(tw, "%s\t%s\t%.4f\t%.4f\t%s\t%s\n",
			r.Timestamp.Format("2006-01-02 15:04:05"), r.RunID, r.BestScore, r.Accuracy,
			learn.FormatParams(r.BestParams), r.OutputDir)
	}
	tw.Flush()
}

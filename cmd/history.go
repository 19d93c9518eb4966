package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/MimeLyc/contextual-book-translator/internal/persistence"
)

var (
	flagHistoryLimit int
	flagPruneAge     time.Duration
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recent translation runs recorded in the cache database",
	Args:  cobra.NoArgs,
	RunE:  runHistory,
}

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Drop cached batch translations not used for a while",
	Args:  cobra.NoArgs,
	RunE:  runPrune,
}

func init() {
	rootCmd.AddCommand(historyCmd, pruneCmd)
	historyCmd.Flags().IntVarP(&flagHistoryLimit, "limit", "n", 20, "number of runs to show")
	pruneCmd.Flags().DurationVar(&flagPruneAge, "older-than", 30*24*time.Hour, "age of entries to drop")
}

func openStore() (*persistence.SQLiteStore, func(), error) {
	cfg, closeLog, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	if cfg.Cache.Path == "" {
		closeLog()
		return nil, nil, fmt.Errorf("no cache database configured (set CACHE_DB or --cache)")
	}
	store, err := persistence.NewSQLiteStore(cfg.Cache.Path)
	if err != nil {
		closeLog()
		return nil, nil, err
	}
	return store, func() {
		_ = store.Close()
		closeLog()
	}, nil
}

func runHistory(cmd *cobra.Command, _ []string) error {
	store, cleanup, err := openStore()
	if err != nil {
		return err
	}
	defer cleanup()

	runs, err := store.LoadRuns(cmd.Context(), flagHistoryLimit)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "STARTED\tSTATUS\tBATCHES\tCACHED\tFAILED\tINPUT\tOUTPUT")
	for _, r := range runs {
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%s\t%s\n",
			r.StartedAt.Local().Format("2006-01-02 15:04:05"), r.Status,
			r.Batches, r.CachedBatches, r.FailedBatches, r.InputPath, r.OutputPath)
	}
	return w.Flush()
}

func runPrune(cmd *cobra.Command, _ []string) error {
	store, cleanup, err := openStore()
	if err != nil {
		return err
	}
	defer cleanup()

	removed, err := store.PurgeBatchesBefore(cmd.Context(), time.Now().Add(-flagPruneAge))
	if err != nil {
		return err
	}
	left, err := store.CountBatches(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Printf("Removed %d cached batches, %d left\n", removed, left)
	return nil
}

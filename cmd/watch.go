package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/MimeLyc/contextual-book-translator/internal/service"
	"github.com/MimeLyc/contextual-book-translator/pkg/icron"
	"github.com/MimeLyc/contextual-book-translator/pkg/log"
)

var flagRunNow bool

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Translate new books in WATCH_DIR on the CRON_EXPR schedule",
	Args:  cobra.NoArgs,
	RunE:  runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
	watchCmd.Flags().BoolVar(&flagRunNow, "now", false, "scan once immediately before waiting for the schedule")
}

func runWatch(cmd *cobra.Command, _ []string) error {
	cfg, closeLog, err := loadConfig()
	if err != nil {
		return err
	}
	defer closeLog()

	runner, cleanup, err := newRunner(cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c := icron.New()
	svc, err := service.NewWatchService(*cfg, runner, c)
	if err != nil {
		return err
	}
	if err := svc.Schedule(ctx); err != nil {
		return err
	}

	if flagRunNow {
		if _, err := svc.RunOnce(ctx); err != nil {
			log.Error("Initial scan failed: %v", err)
		}
	}

	c.Start()
	<-ctx.Done()
	log.Info("Stopping watch service")
	<-c.Stop().Done()
	return nil
}

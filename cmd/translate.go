package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/MimeLyc/contextual-book-translator/internal/service"
	"github.com/MimeLyc/contextual-book-translator/pkg/log"
)

var flagOutput string

var translateCmd = &cobra.Command{
	Use:   "translate <input.md|input.epub>",
	Short: "Translate one Markdown or EPUB book",
	Long: `Translate reads a Markdown file (EPUB books are converted first), translates
its prose lines in batches and writes <input>.<target>.md unless -o is given.

Examples:
  booktrans translate book.md
  booktrans translate book.epub --target ja --mode overwrite -o book.ja.md`,
	Args: cobra.ExactArgs(1),
	RunE: runTranslate,
}

func init() {
	rootCmd.AddCommand(translateCmd)
	translateCmd.Flags().StringVarP(&flagOutput, "output", "o", "", "output file")
}

func runTranslate(cmd *cobra.Command, args []string) error {
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

	report, err := runner.TranslateFile(ctx, args[0], flagOutput)
	if err != nil {
		if service.IsEmptyDocument(err) {
			log.Error("%s is empty, nothing to translate", args[0])
			return nil
		}
		return err
	}
	if report.Failed > 0 {
		log.Warn("%d of %d batches were left untranslated in %s", report.Failed, report.Batches, report.OutputPath)
	}
	return nil
}

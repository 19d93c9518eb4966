package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/MimeLyc/contextual-book-translator/internal/epub"
)

var (
	flagConvertOutput string
	flagImagesDir     string
	flagDebugDir      string
)

var convertCmd = &cobra.Command{
	Use:   "convert <book.epub>",
	Short: "Convert an EPUB book to Markdown without translating it",
	Args:  cobra.ExactArgs(1),
	RunE:  runConvert,
}

func init() {
	rootCmd.AddCommand(convertCmd)
	convertCmd.Flags().StringVarP(&flagConvertOutput, "output", "o", "", "Markdown output (default: <book>.md)")
	convertCmd.Flags().StringVar(&flagImagesDir, "images-dir", "", "image directory (default: <book>_Images)")
	convertCmd.Flags().StringVar(&flagDebugDir, "debug-dir", "", "write intermediate HTML and Markdown here")
}

func runConvert(cmd *cobra.Command, args []string) error {
	_, closeLog, err := loadConfig()
	if err != nil {
		return err
	}
	defer closeLog()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	_, err = epub.Convert(ctx, args[0], epub.Options{
		OutputPath: flagConvertOutput,
		ImagesDir:  flagImagesDir,
		DebugDir:   flagDebugDir,
	})
	return err
}

package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pavelmac/faceshare/internal/config"
	"github.com/pavelmac/faceshare/internal/detect"
)

var matchCmd = &cobra.Command{
	Use:   "match <image>",
	Short: "Match a face photo against the known identities",
	Long: `Match the strongest face in a photo against the known identities and
print the best match with its confidence, or report that nobody cleared
the confidence threshold.

Examples:
  faceshare match unknown_person.jpg`,
	Args: cobra.ExactArgs(1),
	RunE: runMatch,
}

func init() {
	rootCmd.AddCommand(matchCmd)
}

func runMatch(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	cfg := config.Load()

	raw, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("reading image: %w", err)
	}

	extractor, err := newExtractor(cfg)
	if err != nil {
		return err
	}

	crop, err := cropBestFace(ctx, detect.NewClient(cfg.Model.URL), raw)
	if err != nil {
		return err
	}

	emb, err := extractor.Extract(ctx, crop)
	if err != nil {
		return fmt.Errorf("extracting embedding: %w", err)
	}

	reg, pool, err := openRegistry(ctx, cfg)
	if err != nil {
		return err
	}
	if pool != nil {
		defer pool.Close()
	}

	result := reg.FindMatch(emb)
	if result == nil {
		fmt.Println("No match")
		return nil
	}

	fmt.Printf("Matched %s\n", result.DisplayName)
	fmt.Printf("  Confidence: %.3f\n", result.Confidence)
	fmt.Printf("  Tier:       %s\n", result.Tier)
	return nil
}

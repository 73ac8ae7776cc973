package cmd

import (
	"context"
	"fmt"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/pavelmac/faceshare/internal/config"
	"github.com/pavelmac/faceshare/internal/detect"
	"github.com/pavelmac/faceshare/internal/grouping"
	"github.com/pavelmac/faceshare/internal/scanner"
	"github.com/pavelmac/faceshare/internal/similarity"
)

var scanCmd = &cobra.Command{
	Use:   "scan <directory>",
	Short: "Scan a photo library for faces and group them by person",
	Long: `Scan a photo directory: detect faces, extract embeddings, group the
faces that belong to the same person, and store the groups in the photo
database. Already-scanned photos are skipped.

Requires DATABASE_URL to be set.

Examples:
  # Scan the default library
  faceshare scan ~/Pictures

  # Scan more photos per pass with higher parallelism
  faceshare scan ~/Pictures --limit 500 --concurrency 10`,
	Args: cobra.ExactArgs(1),
	RunE: runScan,
}

func init() {
	rootCmd.AddCommand(scanCmd)

	scanCmd.Flags().Int("limit", 100, "Maximum photos to process in one pass")
	scanCmd.Flags().Int("concurrency", 5, "Number of photos processed in parallel")
}

func runScan(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	cfg := config.Load()

	extractor, err := newExtractor(cfg)
	if err != nil {
		return err
	}

	reg, pool, err := openRegistry(ctx, cfg)
	if err != nil {
		return err
	}
	if pool != nil {
		defer pool.Close()
	}

	store, err := openPhotoStore(ctx, cfg, pool)
	if err != nil {
		return err
	}

	scorer := similarity.NewScorer(cfg.Calibration.Scorer)
	engine := grouping.NewEngine(scorer, cfg.Calibration.Grouping.SimilarityThreshold)

	scn := scanner.New(
		scanner.NewDirLibrary(args[0]),
		detect.NewClient(cfg.Model.URL),
		extractor,
		engine,
		store,
		registryMatcher{reg: reg},
		nil,
	)

	var bar *progressbar.ProgressBar
	report, err := scn.Scan(ctx, scanner.Options{
		Concurrency: mustGetInt(cmd, "concurrency"),
		BatchLimit:  mustGetInt(cmd, "limit"),
		OnProgress: func(done, total int) {
			if bar == nil {
				bar = progressbar.Default(int64(total), "scanning photos")
			}
			_ = bar.Set(done)
		},
	})
	if err != nil {
		return fmt.Errorf("scanning library: %w", err)
	}

	fmt.Printf("\nScanned %d photos (%d skipped, %d failed)\n",
		report.PhotosScanned, report.PhotosSkipped, report.PhotosFailed)
	fmt.Printf("Found %d faces, stored %d groups\n",
		report.FacesFound, report.GroupsStored)
	return nil
}

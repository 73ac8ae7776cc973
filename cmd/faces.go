package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pavelmac/faceshare/internal/config"
)

var facesCmd = &cobra.Command{
	Use:   "faces",
	Short: "Manage known identities",
}

var facesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the known identities",
	RunE:  runFacesList,
}

var facesClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove all known identities",
	RunE:  runFacesClear,
}

func init() {
	rootCmd.AddCommand(facesCmd)
	facesCmd.AddCommand(facesListCmd)
	facesCmd.AddCommand(facesClearCmd)
}

func runFacesList(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	cfg := config.Load()

	reg, pool, err := openRegistry(ctx, cfg)
	if err != nil {
		return err
	}
	if pool != nil {
		defer pool.Close()
	}

	known := reg.KnownFaces()
	if len(known) == 0 {
		fmt.Println("No known identities")
		return nil
	}

	fmt.Printf("%d known identities:\n", len(known))
	for _, k := range known {
		marker := ""
		if k.FamilyRelation {
			marker = " (family)"
		}
		fmt.Printf("  %-30s %-12s trust %.2f%s\n", k.DisplayName, k.Tier, k.TrustScore, marker)
	}
	return nil
}

func runFacesClear(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	cfg := config.Load()

	reg, pool, err := openRegistry(ctx, cfg)
	if err != nil {
		return err
	}
	if pool != nil {
		defer pool.Close()
	}

	count := reg.Len()
	reg.Clear()
	if err := reg.Persist(ctx); err != nil {
		return fmt.Errorf("persisting registry: %w", err)
	}

	fmt.Printf("Cleared %d known identities\n", count)
	return nil
}

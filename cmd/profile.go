package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pavelmac/faceshare/internal/config"
	"github.com/pavelmac/faceshare/internal/detect"
	"github.com/pavelmac/faceshare/internal/identity"
	"github.com/pavelmac/faceshare/internal/profile"
	"github.com/pavelmac/faceshare/internal/registry"
)

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Manage the user's own face profile",
}

var profileEnrollCmd = &cobra.Command{
	Use:   "enroll <image>",
	Short: "Enroll your face from a portrait photo",
	Long: `Enroll your own face from a portrait photo.

The strongest detected face is cropped, embedded, and stored as the
self profile. The profile is also registered as a known identity with
full trust, replacing any previous enrollment.

Examples:
  # Enroll with the device name
  faceshare profile enroll portrait.jpg

  # Enroll under an explicit name
  faceshare profile enroll portrait.jpg --name "Pavel Novak"`,
	Args: cobra.ExactArgs(1),
	RunE: runProfileEnroll,
}

var profileShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the enrolled profile",
	RunE:  runProfileShow,
}

var profileDeleteCmd = &cobra.Command{
	Use:   "delete",
	Short: "Delete the enrolled profile",
	RunE:  runProfileDelete,
}

func init() {
	rootCmd.AddCommand(profileCmd)
	profileCmd.AddCommand(profileEnrollCmd)
	profileCmd.AddCommand(profileShowCmd)
	profileCmd.AddCommand(profileDeleteCmd)

	profileEnrollCmd.Flags().String("name", "", "Display name for the profile (defaults to the device name)")
}

func runProfileEnroll(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	cfg := config.Load()

	name := mustGetString(cmd, "name")
	if name == "" {
		name = cfg.Peer.DisplayName
	}

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

	store := profile.NewStore(cfg.Profile.Path)
	if err := store.Save(&profile.Profile{
		Name:      name,
		Embedding: emb,
		ImagePath: args[0],
	}); err != nil {
		return fmt.Errorf("saving profile: %w", err)
	}

	reg, pool, err := openRegistry(ctx, cfg)
	if err != nil {
		return err
	}
	if pool != nil {
		defer pool.Close()
	}

	reg.AddFace(registry.AddFaceParams{
		Embedding:   emb,
		DisplayName: name,
		Tier:        identity.SelfProfile,
	})
	if err := reg.Persist(ctx); err != nil {
		return fmt.Errorf("persisting registry: %w", err)
	}

	fmt.Printf("Profile enrolled for %s (%d-dim embedding)\n", name, len(emb))
	return nil
}

func runProfileShow(cmd *cobra.Command, args []string) error {
	cfg := config.Load()

	p, err := profile.NewStore(cfg.Profile.Path).Load()
	if errors.Is(err, profile.ErrNotFound) {
		fmt.Println("No profile enrolled")
		return nil
	}
	if err != nil {
		return fmt.Errorf("loading profile: %w", err)
	}

	fmt.Printf("Name:      %s\n", p.Name)
	fmt.Printf("Embedding: %d dimensions\n", len(p.Embedding))
	if p.ImagePath != "" {
		fmt.Printf("Image:     %s\n", p.ImagePath)
	}
	fmt.Printf("Updated:   %s\n", p.UpdatedAt.Format("2006-01-02 15:04:05"))
	return nil
}

func runProfileDelete(cmd *cobra.Command, args []string) error {
	cfg := config.Load()

	if err := profile.NewStore(cfg.Profile.Path).Delete(); err != nil {
		return fmt.Errorf("deleting profile: %w", err)
	}
	fmt.Println("Profile deleted")
	return nil
}

package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/pavelmac/faceshare/internal/config"
	"github.com/pavelmac/faceshare/internal/contacts"
	"github.com/pavelmac/faceshare/internal/detect"
	"github.com/pavelmac/faceshare/internal/embedding"
	"github.com/pavelmac/faceshare/internal/identity"
	"github.com/pavelmac/faceshare/internal/registry"
)

var contactsCmd = &cobra.Command{
	Use:   "contacts",
	Short: "Manage address-book identities",
}

var contactsImportCmd = &cobra.Command{
	Use:   "import",
	Short: "Import contacts with portrait photos as known identities",
	Long: `Import every contact with a portrait photo from the address-book
directory (CONTACTS_DIR) as a known identity.

Contacts sharing your configured family name (PROFILE_FAMILY_NAME) get
elevated trust. Portraits that fail the quality gate are skipped.

Examples:
  # Import all contacts
  faceshare contacts import

  # Import from an explicit directory
  faceshare contacts import --dir ~/contacts`,
	RunE: runContactsImport,
}

func init() {
	rootCmd.AddCommand(contactsCmd)
	contactsCmd.AddCommand(contactsImportCmd)

	contactsImportCmd.Flags().String("dir", "", "Address-book directory (overrides CONTACTS_DIR)")
}

func runContactsImport(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	cfg := config.Load()

	dir := mustGetString(cmd, "dir")
	if dir == "" {
		dir = cfg.Contacts.Dir
	}
	if dir == "" {
		return errors.New("CONTACTS_DIR environment variable or --dir is required")
	}

	book := contacts.NewDirBook(dir)
	list, err := book.ContactsWithPhotos(ctx)
	if err != nil {
		return fmt.Errorf("listing contacts: %w", err)
	}
	if len(list) == 0 {
		fmt.Println("No contacts with portrait photos found")
		return nil
	}

	extractor, err := newExtractor(cfg)
	if err != nil {
		return err
	}
	detector := detect.NewClient(cfg.Model.URL)

	reg, pool, err := openRegistry(ctx, cfg)
	if err != nil {
		return err
	}
	if pool != nil {
		defer pool.Close()
	}

	bar := progressbar.Default(int64(len(list)), "importing contacts")

	imported := 0
	skipped := 0
	family := 0
	for _, contact := range list {
		_ = bar.Add(1)

		raw, err := os.ReadFile(contact.PhotoPath)
		if err != nil {
			skipped++
			continue
		}

		crop, err := cropBestFace(ctx, detector, raw)
		if err != nil {
			skipped++
			continue
		}

		emb, err := extractor.Extract(ctx, crop)
		if errors.Is(err, embedding.ErrInvalidImage) {
			skipped++
			continue
		}
		if err != nil {
			return fmt.Errorf("extracting embedding for %s: %w", contact.FullName(), err)
		}

		isFamily := contacts.IsFamily(contact, cfg.Profile.FamilyName)
		if isFamily {
			family++
		}

		reg.AddFace(registry.AddFaceParams{
			Embedding:      emb,
			DisplayName:    contact.FullName(),
			Tier:           identity.Contact,
			ExternalRef:    contact.Ref,
			FamilyRelation: isFamily,
		})
		imported++
	}

	if err := reg.Persist(ctx); err != nil {
		return fmt.Errorf("persisting registry: %w", err)
	}

	fmt.Printf("\nImported %d contacts (%d family, %d skipped)\n", imported, family, skipped)
	return nil
}

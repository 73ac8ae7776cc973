// Package contacts imports address-book photos as known identities.
package contacts

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Contact is one address-book entry with an attached photo.
type Contact struct {
	Ref        string // opaque identifier, stays stable across imports
	GivenName  string
	FamilyName string
	PhotoPath  string
}

// FullName returns the display name used for registry entries.
func (c Contact) FullName() string {
	name := strings.TrimSpace(c.GivenName + " " + c.FamilyName)
	if name == "" {
		return c.Ref
	}
	return name
}

// Book lists contacts that carry a photo.
type Book interface {
	ContactsWithPhotos(ctx context.Context) ([]Contact, error)
}

// DirBook reads contacts from a directory of photo files named
// "Given_Family.jpg". It stands in for a platform address book.
type DirBook struct {
	dir string
}

// NewDirBook creates a directory-backed contact book.
func NewDirBook(dir string) *DirBook {
	return &DirBook{dir: dir}
}

var photoExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
}

// ContactsWithPhotos scans the directory and returns one contact per
// photo file, sorted by filename for stable import order.
func (b *DirBook) ContactsWithPhotos(ctx context.Context) ([]Contact, error) {
	entries, err := os.ReadDir(b.dir)
	if err != nil {
		return nil, fmt.Errorf("read contacts directory: %w", err)
	}

	var contacts []Contact
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if !photoExtensions[ext] {
			continue
		}

		base := strings.TrimSuffix(e.Name(), filepath.Ext(e.Name()))
		given, family := splitName(base)
		contacts = append(contacts, Contact{
			Ref:        e.Name(),
			GivenName:  given,
			FamilyName: family,
			PhotoPath:  filepath.Join(b.dir, e.Name()),
		})
	}

	sort.Slice(contacts, func(i, j int) bool { return contacts[i].Ref < contacts[j].Ref })
	return contacts, nil
}

// splitName parses "Given_Family" or "Given Family" file names. A single
// token becomes the given name.
func splitName(base string) (given, family string) {
	base = strings.ReplaceAll(base, "_", " ")
	parts := strings.Fields(base)
	switch len(parts) {
	case 0:
		return "", ""
	case 1:
		return parts[0], ""
	default:
		return strings.Join(parts[:len(parts)-1], " "), parts[len(parts)-1]
	}
}

// IsFamily reports whether the contact shares the configured family name.
// Comparison ignores case and diacritics so "Novák" matches "novak".
func IsFamily(c Contact, familyName string) bool {
	if familyName == "" || c.FamilyName == "" {
		return false
	}
	return NormalizeName(c.FamilyName) == NormalizeName(familyName)
}

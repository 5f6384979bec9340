package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Entry is one catalog item. Name is unique within a category, ignoring case.
type Entry struct {
	Name         string `json:"name"`
	Rating       string `json:"rating"`
	Description  string `json:"description"`
	Creator      string `json:"creator"`
	Contributors string `json:"contributors"`
}

// PromptFields are the attributes an item's embedding is generated from, in order.
func (e Entry) PromptFields() []string {
	return []string{e.Creator, e.Contributors}
}

// Prompt joins PromptFields with single spaces.
func (e Entry) Prompt() string {
	return strings.Join(e.PromptFields(), " ")
}

// Catalog resolves items within a category.
type Catalog interface {
	// Lookup finds name case-insensitively. ok is false when the item or the
	// whole category does not exist.
	Lookup(ctx context.Context, category, name string) (entry Entry, ok bool, err error)
	// ListAll returns every entry of the category in file order.
	ListAll(ctx context.Context, category string) ([]Entry, error)
}

var ErrInvalidCategory = errors.New("invalid category")

const maxCategoryLen = 100

// ValidateCategory rejects names that could not be a plain file stem inside
// the data directory.
func ValidateCategory(category string) error {
	switch {
	case strings.TrimSpace(category) == "":
		return fmt.Errorf("%w: empty", ErrInvalidCategory)
	case len(category) > maxCategoryLen:
		return fmt.Errorf("%w: longer than %d bytes", ErrInvalidCategory, maxCategoryLen)
	case strings.ContainsAny(category, "/\\\x00"):
		return fmt.Errorf("%w: %q contains a path separator", ErrInvalidCategory, category)
	case strings.HasPrefix(category, "."):
		return fmt.Errorf("%w: %q starts with a dot", ErrInvalidCategory, category)
	case strings.HasSuffix(strings.ToLower(category), "_embeddings"):
		return fmt.Errorf("%w: %q is reserved", ErrInvalidCategory, category)
	}
	return nil
}

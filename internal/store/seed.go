package store

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
)

// SeedData is the on-disk format accepted by the -seed flag.
type SeedData struct {
	Keywords []KeywordDefinition `json:"keywords"`
	Contents []Content           `json:"contents"`
}

// SeedTarget is the part of a Store that seeding writes to.
type SeedTarget interface {
	KeywordStore
	ContentStore
}

// Seed reads SeedData from r and upserts every keyword and content item.
// Records without an id get a freshly generated document id.
func Seed(ctx context.Context, target SeedTarget, r io.Reader) (keywords, contents int, err error) {
	var data SeedData
	if err := json.NewDecoder(r).Decode(&data); err != nil {
		return 0, 0, fmt.Errorf("failed to decode seed data: %w", err)
	}

	for _, kw := range data.Keywords {
		if len(kw.Name) == 0 {
			return keywords, contents, fmt.Errorf("keyword %q has no name", kw.ID)
		}
		if kw.ID == "" {
			kw.ID = NewID()
		}
		if err := target.UpsertKeyword(ctx, kw); err != nil {
			return keywords, contents, err
		}
		keywords++
	}

	for _, c := range data.Contents {
		if c.Title == "" {
			return keywords, contents, fmt.Errorf("content %q has no title", c.ID)
		}
		if c.ID == "" {
			c.ID = NewID()
		}
		if err := target.UpsertContent(ctx, c); err != nil {
			return keywords, contents, err
		}
		contents++
	}
	return keywords, contents, nil
}

package offer

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/noah-isme/toko-offers/internal/catalog"
)

var skuSeparators = regexp.MustCompile(`[\s,;]+`)

// ParseSKUList splits an uploaded list of UPCs or partner SKUs. Entries may
// be separated by whitespace, commas or semicolons; repeats are dropped while
// keeping first-seen order.
func ParseSKUList(text string) []string {
	var out []string
	seen := make(map[string]struct{})
	for _, raw := range skuSeparators.Split(text, -1) {
		code := strings.TrimSpace(raw)
		if code == "" {
			continue
		}
		if _, ok := seen[code]; ok {
			continue
		}
		seen[code] = struct{}{}
		out = append(out, code)
	}
	return out
}

// UploadResult summarises a bulk range upload.
type UploadResult struct {
	Added      []string `json:"added"`
	Duplicates []string `json:"duplicates"`
	Missing    []string `json:"missing"`
}

// ItemLookup resolves a UPC or partner SKU to an item.
type ItemLookup interface {
	ItemByCode(ctx context.Context, code string) (*catalog.Item, error)
}

// AddBySKU includes every item named in text. Codes already included are
// reported as duplicates and unknown codes as missing.
func (r *Range) AddBySKU(ctx context.Context, lookup ItemLookup, text string) (UploadResult, error) {
	result := UploadResult{Added: []string{}, Duplicates: []string{}, Missing: []string{}}
	added := make(map[uuid.UUID]struct{})
	for _, code := range ParseSKUList(text) {
		item, err := lookup.ItemByCode(ctx, code)
		if err != nil {
			if errors.Is(err, catalog.ErrNotFound) {
				result.Missing = append(result.Missing, code)
				continue
			}
			return result, fmt.Errorf("offer: resolve %q: %w", code, err)
		}
		_, dup := added[item.ID]
		if dup || r.isIncluded(item.ID) {
			result.Duplicates = append(result.Duplicates, code)
			continue
		}
		r.AddItem(item, nil)
		added[item.ID] = struct{}{}
		result.Added = append(result.Added, code)
	}
	return result, nil
}

func (r *Range) isIncluded(id uuid.UUID) bool {
	for _, included := range r.Included {
		if included == id {
			return true
		}
	}
	return false
}

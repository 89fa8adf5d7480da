package catalog

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// pathStep is the width of one level of a materialized category path.
const pathStep = 4

// Category is a node of the category tree addressed by a materialized path.
type Category struct {
	ID    uuid.UUID `json:"id"`
	Name  string    `json:"name"`
	Slug  string    `json:"slug"`
	Path  string    `json:"path"`
	Depth int       `json:"depth"`
}

// IsDescendantOrSelf reports whether c sits within the subtree rooted at other.
func (c *Category) IsDescendantOrSelf(other *Category) bool {
	if c == nil || other == nil || other.Path == "" {
		return false
	}
	return strings.HasPrefix(c.Path, other.Path)
}

// CategoryTree allocates materialized paths and answers subtree queries.
type CategoryTree struct {
	mu       sync.RWMutex
	byID     map[uuid.UUID]*Category
	bySlug   map[string]*Category
	children map[string]int
}

// NewCategoryTree returns an empty tree.
func NewCategoryTree() *CategoryTree {
	return &CategoryTree{
		byID:     make(map[uuid.UUID]*Category),
		bySlug:   make(map[string]*Category),
		children: make(map[string]int),
	}
}

// AddRoot appends a top-level category.
func (t *CategoryTree) AddRoot(name, slug string) (*Category, error) {
	return t.add(nil, name, slug)
}

// AddChild appends a category beneath parent.
func (t *CategoryTree) AddChild(parent *Category, name, slug string) (*Category, error) {
	if parent == nil {
		return nil, fmt.Errorf("category parent is required: %w", ErrNotFound)
	}
	return t.add(parent, name, slug)
}

// Insert registers a category whose path was allocated elsewhere (for example
// loaded from storage).
func (t *CategoryTree) Insert(c *Category) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.byID[c.ID] = c
	if c.Slug != "" {
		t.bySlug[c.Slug] = c
	}
	parent := ""
	if len(c.Path) > pathStep {
		parent = c.Path[:len(c.Path)-pathStep]
	}
	if n := stepNumber(c.Path); n > t.children[parent] {
		t.children[parent] = n
	}
}

func (t *CategoryTree) add(parent *Category, name, slug string) (*Category, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("category name is required: %w", ErrInvalidItem)
	}
	if slug == "" {
		slug = Slugify(name)
	}
	if _, exists := t.bySlug[slug]; exists {
		return nil, fmt.Errorf("category slug %q already exists: %w", slug, ErrInvalidItem)
	}
	prefix := ""
	depth := 1
	if parent != nil {
		prefix = parent.Path
		depth = parent.Depth + 1
	}
	t.children[prefix]++
	c := &Category{
		ID:    uuid.NewSHA1(uuid.NameSpaceURL, []byte("category:"+slug)),
		Name:  name,
		Slug:  slug,
		Path:  prefix + formatStep(t.children[prefix]),
		Depth: depth,
	}
	t.byID[c.ID] = c
	t.bySlug[slug] = c
	return c, nil
}

// BySlug looks a category up by slug.
func (t *CategoryTree) BySlug(slug string) (*Category, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	c, ok := t.bySlug[slug]
	return c, ok
}

// ByID looks a category up by id.
func (t *CategoryTree) ByID(id uuid.UUID) (*Category, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	c, ok := t.byID[id]
	return c, ok
}

// DescendantsOrSelf returns the subtree rooted at c ordered by path.
func (t *CategoryTree) DescendantsOrSelf(c *Category) []*Category {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []*Category
	for _, candidate := range t.byID {
		if candidate.IsDescendantOrSelf(c) {
			out = append(out, candidate)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// All returns every category ordered by path.
func (t *CategoryTree) All() []*Category {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*Category, 0, len(t.byID))
	for _, c := range t.byID {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

func formatStep(n int) string {
	s := strings.ToUpper(strconv.FormatInt(int64(n), 36))
	if len(s) < pathStep {
		s = strings.Repeat("0", pathStep-len(s)) + s
	}
	return s
}

func stepNumber(path string) int {
	if len(path) < pathStep {
		return 0
	}
	n, err := strconv.ParseInt(path[len(path)-pathStep:], 36, 64)
	if err != nil {
		return 0
	}
	return int(n)
}

// Slugify lowercases s and replaces runs of non-alphanumerics with dashes.
func Slugify(s string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			dash = false
		default:
			if !dash && b.Len() > 0 {
				b.WriteByte('-')
				dash = true
			}
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}

package catalog

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Fixture is the YAML representation of a seed catalogue.
type Fixture struct {
	Classes    []ItemClass       `yaml:"classes"`
	Categories []FixtureCategory `yaml:"categories"`
	Partners   []FixturePartner  `yaml:"partners"`
	Items      []FixtureItem     `yaml:"items"`
}

// FixtureCategory nests categories to describe the tree.
type FixtureCategory struct {
	Name     string            `yaml:"name"`
	Slug     string            `yaml:"slug"`
	Children []FixtureCategory `yaml:"children"`
}

// FixturePartner names a supplier referenced by stock records.
type FixturePartner struct {
	Slug string `yaml:"slug"`
	Name string `yaml:"name"`
}

// FixtureItem describes an item with its stock and (for parents) children.
type FixtureItem struct {
	ID           string            `yaml:"id"`
	UPC          string            `yaml:"upc"`
	Title        string            `yaml:"title"`
	Slug         string            `yaml:"slug"`
	Class        string            `yaml:"class"`
	Categories   []string          `yaml:"categories"`
	Discountable *bool             `yaml:"discountable"`
	Hidden       bool              `yaml:"hidden"`
	Attributes   map[string]string `yaml:"attributes"`
	Stock        []FixtureStock    `yaml:"stock"`
	Children     []FixtureItem     `yaml:"children"`
}

// FixtureStock describes one stock record.
type FixtureStock struct {
	Partner           string `yaml:"partner"`
	SKU               string `yaml:"sku"`
	Currency          string `yaml:"currency"`
	Price             string `yaml:"price"`
	NumInStock        *int   `yaml:"num_in_stock"`
	NumAllocated      int    `yaml:"num_allocated"`
	LowStockThreshold *int   `yaml:"low_stock_threshold"`
}

// fixtureEpoch anchors record timestamps so that file order is creation order.
var fixtureEpoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// LoadFixture decodes a YAML catalogue into a fresh MemoryStore. Identifiers
// not given in the file are derived from UPCs and SKUs so reloads are stable.
func LoadFixture(r io.Reader) (*MemoryStore, error) {
	var fx Fixture
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&fx); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode fixture: %w", err)
	}
	return fx.Build()
}

// Build materialises the fixture.
func (fx Fixture) Build() (*MemoryStore, error) {
	store := NewMemoryStore()
	seq := 0
	store.now = func() time.Time {
		seq++
		return fixtureEpoch.Add(time.Duration(seq) * time.Second)
	}
	for i := range fx.Classes {
		class := fx.Classes[i]
		if class.Slug == "" {
			class.Slug = Slugify(class.Name)
		}
		store.AddClass(&class)
	}
	for _, c := range fx.Categories {
		if err := addFixtureCategory(store.tree, nil, c); err != nil {
			return nil, err
		}
	}
	partners := make(map[string]FixturePartner, len(fx.Partners))
	for _, p := range fx.Partners {
		partners[p.Slug] = p
	}
	for _, fi := range fx.Items {
		structure := StructureStandalone
		if len(fi.Children) > 0 {
			structure = StructureParent
		}
		parent, err := addFixtureItem(store, partners, fi, structure, nil)
		if err != nil {
			return nil, err
		}
		for _, child := range fi.Children {
			if _, err := addFixtureItem(store, partners, child, StructureChild, parent); err != nil {
				return nil, err
			}
		}
	}
	store.now = time.Now
	return store, nil
}

func addFixtureCategory(tree *CategoryTree, parent *Category, fc FixtureCategory) error {
	var (
		c   *Category
		err error
	)
	if parent == nil {
		c, err = tree.AddRoot(fc.Name, fc.Slug)
	} else {
		c, err = tree.AddChild(parent, fc.Name, fc.Slug)
	}
	if err != nil {
		return err
	}
	for _, child := range fc.Children {
		if err := addFixtureCategory(tree, c, child); err != nil {
			return err
		}
	}
	return nil
}

func addFixtureItem(store *MemoryStore, partners map[string]FixturePartner, fi FixtureItem, structure Structure, parent *Item) (*Item, error) {
	id, err := fixtureID(fi)
	if err != nil {
		return nil, err
	}
	item := &Item{
		ID:           id,
		Structure:    structure,
		UPC:          fi.UPC,
		Title:        fi.Title,
		Slug:         fi.Slug,
		Parent:       parent,
		Discountable: fi.Discountable,
		IsPublic:     !fi.Hidden,
		Attributes:   fi.Attributes,
	}
	if fi.Class != "" {
		class, ok := store.Class(fi.Class)
		if !ok {
			return nil, fmt.Errorf("item %q: class %q: %w", fi.Title, fi.Class, ErrNotFound)
		}
		item.Class = class
	}
	for _, slug := range fi.Categories {
		c, ok := store.tree.BySlug(slug)
		if !ok {
			return nil, fmt.Errorf("item %q: category %q: %w", fi.Title, slug, ErrNotFound)
		}
		item.Categories = append(item.Categories, c)
	}
	if err := store.AddItem(item); err != nil {
		return nil, fmt.Errorf("item %q: %w", fi.Title, err)
	}
	for _, fs := range fi.Stock {
		sr, err := fixtureStockRecord(item, partners, fs)
		if err != nil {
			return nil, err
		}
		if err := store.AddStockRecord(sr); err != nil {
			return nil, fmt.Errorf("item %q: %w", fi.Title, err)
		}
	}
	return item, nil
}

func fixtureID(fi FixtureItem) (uuid.UUID, error) {
	if strings.TrimSpace(fi.ID) != "" {
		id, err := uuid.Parse(fi.ID)
		if err != nil {
			return uuid.Nil, fmt.Errorf("item %q id: %w", fi.Title, err)
		}
		return id, nil
	}
	key := fi.UPC
	if key == "" {
		key = fi.Slug
	}
	if key == "" {
		key = fi.Title
	}
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("item:"+key)), nil
}

func fixtureStockRecord(item *Item, partners map[string]FixturePartner, fs FixtureStock) (*StockRecord, error) {
	partner, ok := partners[fs.Partner]
	if !ok {
		return nil, fmt.Errorf("item %q: partner %q: %w", item.Title, fs.Partner, ErrNotFound)
	}
	sr := &StockRecord{
		ID:                uuid.NewSHA1(uuid.NameSpaceURL, []byte("stock:"+fs.Partner+":"+fs.SKU)),
		ItemID:            item.ID,
		PartnerID:         uuid.NewSHA1(uuid.NameSpaceURL, []byte("partner:"+partner.Slug)),
		PartnerName:       partner.Name,
		PartnerSKU:        fs.SKU,
		Currency:          strings.ToUpper(fs.Currency),
		NumInStock:        fs.NumInStock,
		NumAllocated:      fs.NumAllocated,
		LowStockThreshold: fs.LowStockThreshold,
	}
	if strings.TrimSpace(fs.Price) != "" {
		price, err := decimal.NewFromString(fs.Price)
		if err != nil {
			return nil, fmt.Errorf("item %q price %q: %w", item.Title, fs.Price, err)
		}
		sr.Price = decimal.NewNullDecimal(price)
	}
	return sr, nil
}

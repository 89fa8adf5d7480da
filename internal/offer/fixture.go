package offer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/noah-isme/toko-offers/internal/catalog"
)

// Fixture is the YAML representation of seeded ranges, offers and vouchers.
// Items are referenced by UPC or partner SKU, classes and categories by slug
// and offers by slug.
type Fixture struct {
	Ranges   []FixtureRange   `yaml:"ranges"`
	Offers   []FixtureOffer   `yaml:"offers"`
	Vouchers []FixtureVoucher `yaml:"vouchers"`
}

// FixtureRange describes a range.
type FixtureRange struct {
	Name        string   `yaml:"name"`
	Slug        string   `yaml:"slug"`
	Description string   `yaml:"description"`
	Public      bool     `yaml:"public"`
	IncludesAll bool     `yaml:"includes_all"`
	Items       []string `yaml:"items"`
	Excluded    []string `yaml:"excluded"`
	Classes     []string `yaml:"classes"`
	Categories  []string `yaml:"categories"`
}

// FixturePart describes a condition or a benefit.
type FixturePart struct {
	Type             string `yaml:"type"`
	Range            string `yaml:"range"`
	Value            string `yaml:"value"`
	MaxAffectedItems int    `yaml:"max_affected_items"`
}

// FixtureOffer describes a conditional offer.
type FixtureOffer struct {
	Name                  string      `yaml:"name"`
	Slug                  string      `yaml:"slug"`
	Description           string      `yaml:"description"`
	Type                  string      `yaml:"type"`
	Status                string      `yaml:"status"`
	Exclusive             *bool       `yaml:"exclusive"`
	Priority              int         `yaml:"priority"`
	StartsAt              *time.Time  `yaml:"starts_at"`
	EndsAt                *time.Time  `yaml:"ends_at"`
	MaxBasketApplications int         `yaml:"max_basket_applications"`
	MaxGlobalApplications int         `yaml:"max_global_applications"`
	Condition             FixturePart `yaml:"condition"`
	Benefit               FixturePart `yaml:"benefit"`
}

// FixtureVoucher describes a voucher and the offers it unlocks.
type FixtureVoucher struct {
	Name       string     `yaml:"name"`
	Code       string     `yaml:"code"`
	Usage      string     `yaml:"usage"`
	UsageLimit *int       `yaml:"usage_limit"`
	StartsAt   *time.Time `yaml:"starts_at"`
	EndsAt     *time.Time `yaml:"ends_at"`
	Offers     []string   `yaml:"offers"`
}

// LoadFixture decodes YAML offers against cat into a fresh MemoryRepository.
func LoadFixture(ctx context.Context, r io.Reader, cat catalog.Repository) (*MemoryRepository, error) {
	var fx Fixture
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&fx); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode offer fixture: %w", err)
	}
	return fx.Build(ctx, cat)
}

// Build materialises the fixture. Identifiers derive from slugs and codes so
// repeated loads produce the same records.
func (fx Fixture) Build(ctx context.Context, cat catalog.Repository) (*MemoryRepository, error) {
	repo := NewMemoryRepository()
	categories, err := cat.Categories(ctx)
	if err != nil {
		return nil, err
	}
	bySlug := make(map[string]*catalog.Category, len(categories))
	for _, c := range categories {
		bySlug[c.Slug] = c
	}

	ranges := make(map[string]*Range, len(fx.Ranges))
	for _, fr := range fx.Ranges {
		r, err := fr.build(ctx, cat, bySlug)
		if err != nil {
			return nil, err
		}
		if err := repo.SaveRange(ctx, r); err != nil {
			return nil, fmt.Errorf("range %q: %w", fr.Name, err)
		}
		ranges[r.Slug] = r
	}

	offers := make(map[string]uuid.UUID, len(fx.Offers))
	for _, fo := range fx.Offers {
		o, err := fo.build(ranges)
		if err != nil {
			return nil, err
		}
		if err := repo.SaveOffer(ctx, o); err != nil {
			return nil, fmt.Errorf("offer %q: %w", fo.Name, err)
		}
		offers[o.Slug] = o.ID
	}

	for _, fv := range fx.Vouchers {
		v := &Voucher{
			ID:         uuid.NewSHA1(uuid.NameSpaceURL, []byte("voucher:"+NormalizeCode(fv.Code))),
			Name:       fv.Name,
			Code:       fv.Code,
			Usage:      VoucherUsage(fv.Usage),
			UsageLimit: fv.UsageLimit,
			StartsAt:   fv.StartsAt,
			EndsAt:     fv.EndsAt,
		}
		if v.Usage == "" {
			v.Usage = MultiUse
		}
		for _, slug := range fv.Offers {
			id, ok := offers[slug]
			if !ok {
				return nil, fmt.Errorf("voucher %q: offer %q: %w", fv.Code, slug, ErrNotFound)
			}
			v.OfferIDs = append(v.OfferIDs, id)
		}
		if err := repo.SaveVoucher(ctx, v); err != nil {
			return nil, err
		}
	}
	return repo, nil
}

func (fr FixtureRange) build(ctx context.Context, cat catalog.Repository, categories map[string]*catalog.Category) (*Range, error) {
	slug := fr.Slug
	if slug == "" {
		slug = catalog.Slugify(fr.Name)
	}
	r := &Range{
		ID:          uuid.NewSHA1(uuid.NameSpaceURL, []byte("range:"+slug)),
		Name:        fr.Name,
		Slug:        slug,
		Description: fr.Description,
		IsPublic:    fr.Public,
		IncludesAll: fr.IncludesAll,
	}
	resolve := func(codes []string) ([]uuid.UUID, error) {
		out := make([]uuid.UUID, 0, len(codes))
		for _, code := range codes {
			item, err := cat.ItemByCode(ctx, code)
			if err != nil {
				return nil, fmt.Errorf("range %q item %q: %w", fr.Name, code, err)
			}
			out = append(out, item.ID)
		}
		return out, nil
	}
	var err error
	if r.Included, err = resolve(fr.Items); err != nil {
		return nil, err
	}
	if r.Excluded, err = resolve(fr.Excluded); err != nil {
		return nil, err
	}
	for _, class := range fr.Classes {
		r.Classes = append(r.Classes, catalog.ClassID(class))
	}
	for _, slug := range fr.Categories {
		c, ok := categories[slug]
		if !ok {
			return nil, fmt.Errorf("range %q category %q: %w", fr.Name, slug, catalog.ErrNotFound)
		}
		r.Categories = append(r.Categories, c)
	}
	return r, nil
}

func (fo FixtureOffer) build(ranges map[string]*Range) (*ConditionalOffer, error) {
	slug := fo.Slug
	if slug == "" {
		slug = catalog.Slugify(fo.Name)
	}
	o := &ConditionalOffer{
		ID:                    uuid.NewSHA1(uuid.NameSpaceURL, []byte("offer:"+slug)),
		Name:                  fo.Name,
		Slug:                  slug,
		Description:           fo.Description,
		Type:                  OfferType(fo.Type),
		Status:                Status(fo.Status),
		Exclusive:             fo.Exclusive == nil || *fo.Exclusive,
		Priority:              fo.Priority,
		StartsAt:              fo.StartsAt,
		EndsAt:                fo.EndsAt,
		MaxBasketApplications: fo.MaxBasketApplications,
		MaxGlobalApplications: fo.MaxGlobalApplications,
	}
	condValue, condRange, err := fo.Condition.resolve(fo.Name, ranges)
	if err != nil {
		return nil, err
	}
	o.Condition = &Condition{
		ID:    uuid.NewSHA1(uuid.NameSpaceURL, []byte("condition:"+slug)),
		Type:  ConditionType(fo.Condition.Type),
		Range: condRange,
		Value: condValue,
	}
	benefitValue, benefitRange, err := fo.Benefit.resolve(fo.Name, ranges)
	if err != nil {
		return nil, err
	}
	o.Benefit = &Benefit{
		ID:               uuid.NewSHA1(uuid.NameSpaceURL, []byte("benefit:"+slug)),
		Type:             BenefitType(fo.Benefit.Type),
		Range:            benefitRange,
		Value:            benefitValue,
		MaxAffectedItems: fo.Benefit.MaxAffectedItems,
	}
	return o, nil
}

func (fp FixturePart) resolve(offerName string, ranges map[string]*Range) (decimal.Decimal, *Range, error) {
	var r *Range
	if fp.Range != "" {
		found, ok := ranges[fp.Range]
		if !ok {
			return decimal.Zero, nil, fmt.Errorf("offer %q range %q: %w", offerName, fp.Range, ErrNotFound)
		}
		r = found
	}
	value := decimal.Zero
	if strings.TrimSpace(fp.Value) != "" {
		v, err := decimal.NewFromString(fp.Value)
		if err != nil {
			return decimal.Zero, nil, fmt.Errorf("offer %q value %q: %w", offerName, fp.Value, err)
		}
		value = v
	}
	return value, r, nil
}

// Vouchers lists every voucher ordered by code.
func (m *MemoryRepository) Vouchers(context.Context) ([]*Voucher, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Voucher, 0, len(m.vouchers))
	for _, v := range m.vouchers {
		cp := *v
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

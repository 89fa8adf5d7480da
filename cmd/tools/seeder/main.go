// Command seeder loads the YAML catalogue and offer fixtures into Postgres.
// Identifiers derive from codes and slugs, so seeding twice updates rows in
// place instead of duplicating them.
package main

import (
	"context"
	"flag"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/noah-isme/toko-offers/internal/app"
	"github.com/noah-isme/toko-offers/internal/catalog"
	"github.com/noah-isme/toko-offers/internal/config"
	"github.com/noah-isme/toko-offers/internal/db"
	"github.com/noah-isme/toko-offers/internal/obs"
	"github.com/noah-isme/toko-offers/internal/offer"
	"github.com/noah-isme/toko-offers/internal/repo"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	catalogPath := flag.String("catalog", cfg.CatalogFixture, "catalogue fixture")
	offersPath := flag.String("offers", cfg.OffersFixture, "offers fixture")
	migrate := flag.Bool("migrate", true, "apply migrations first")
	flag.Parse()

	logger := obs.NewLogger(cfg.LogFormat, cfg.LogLevel).With().Str("component", "seeder").Logger()
	if cfg.DatabaseURL == "" {
		logger.Fatal().Msg("DATABASE_URL is not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if err := run(ctx, cfg.DatabaseURL, *catalogPath, *offersPath, *migrate, logger); err != nil {
		logger.Error().Err(err).Msg("seeding failed")
		cancel()
		os.Exit(1)
	}
	logger.Info().Msg("seeding completed")
}

func run(ctx context.Context, databaseURL, catalogPath, offersPath string, migrate bool, logger zerolog.Logger) error {
	if migrate {
		if err := db.Up(databaseURL, logger); err != nil {
			return err
		}
	}
	cat, offers, err := app.LoadFixtures(ctx, catalogPath, offersPath)
	if err != nil {
		return err
	}
	pool, err := app.OpenPostgres(ctx, databaseURL, "toko-offers-seeder")
	if err != nil {
		return err
	}
	defer pool.Close()

	snapshot, err := catalogSnapshot(ctx, cat)
	if err != nil {
		return err
	}
	if err := repo.NewCatalogStore(pool).ImportCatalog(ctx, snapshot); err != nil {
		return err
	}
	logger.Info().Int("classes", len(snapshot.Classes)).Int("categories", len(snapshot.Categories)).Int("items", len(snapshot.Items)).Msg("catalogue imported")

	return importOffers(ctx, offers, repo.NewOfferStore(pool), logger)
}

func catalogSnapshot(ctx context.Context, cat *catalog.MemoryStore) (repo.CatalogSnapshot, error) {
	categories, err := cat.Categories(ctx)
	if err != nil {
		return repo.CatalogSnapshot{}, err
	}
	items, err := cat.Items(ctx)
	if err != nil {
		return repo.CatalogSnapshot{}, err
	}
	return repo.CatalogSnapshot{Classes: cat.Classes(), Categories: categories, Items: items}, nil
}

func importOffers(ctx context.Context, src *offer.MemoryRepository, dst offer.Repository, logger zerolog.Logger) error {
	ranges, err := src.Ranges(ctx)
	if err != nil {
		return err
	}
	for _, r := range ranges {
		if err := dst.SaveRange(ctx, r); err != nil {
			return err
		}
	}
	offers, err := src.Offers(ctx)
	if err != nil {
		return err
	}
	for _, o := range offers {
		if err := dst.SaveOffer(ctx, o); err != nil {
			return err
		}
	}
	vouchers, err := src.Vouchers(ctx)
	if err != nil {
		return err
	}
	for _, v := range vouchers {
		if err := dst.SaveVoucher(ctx, v); err != nil {
			return err
		}
	}
	logger.Info().Int("ranges", len(ranges)).Int("offers", len(offers)).Int("vouchers", len(vouchers)).Msg("offers imported")
	return nil
}

package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"strings"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-checkout/internal/domain/auth"
	"github.com/xenking/kart-checkout/internal/domain/coupon"
	"github.com/xenking/kart-checkout/internal/domain/product"
	"github.com/xenking/kart-checkout/internal/storage/postgres"
)

type catalogJSON []struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Variations []struct {
		Color string `json:"color"`
		Sizes []struct {
			Size      string          `json:"size"`
			SKU       string          `json:"sku"`
			Price     decimal.Decimal `json:"price"`
			SalePrice decimal.Decimal `json:"sale_price"`
			Stock     int             `json:"stock"`
		} `json:"sizes"`
	} `json:"variations"`
}

func main() {
	var (
		databaseURL  string
		catalogFile  string
		apiKey       string
		apiKeyPepper string
		scopes       string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&catalogFile, "catalog-file", "db/seed/catalog.json", "path to catalog JSON file")
	flag.StringVar(&apiKey, "api-key", "", "API key to seed (or CHECKOUT_SEED_API_KEY env)")
	flag.StringVar(&apiKeyPepper, "api-key-pepper", "", "HMAC pepper for API key hashing (or CHECKOUT_APIKEYPEPPER env)")
	flag.StringVar(&scopes, "scopes", strings.Join([]string{
		auth.ScopeCarrierWebhook, auth.ScopeOrdersAdmin, auth.ScopeCouponsAdmin,
	}, ","), "comma separated scopes granted to the seeded key")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	if apiKey == "" {
		apiKey = os.Getenv("CHECKOUT_SEED_API_KEY")
	}
	if apiKey == "" {
		slog.Error("API key is required: set --api-key or CHECKOUT_SEED_API_KEY")
		os.Exit(1)
	}
	if apiKeyPepper == "" {
		apiKeyPepper = os.Getenv("CHECKOUT_APIKEYPEPPER")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, catalogFile, apiKey, apiKeyPepper, strings.Split(scopes, ",")); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, databaseURL, catalogFile, apiKey, pepper string, scopes []string) error {
	slog.Info("connecting to database")

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	slog.Info("running migrations")

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	if err := seedCatalog(ctx, postgres.NewProductRepository(pool), catalogFile); err != nil {
		return errors.Wrap(err, "seed catalog")
	}

	if err := seedCoupons(ctx, coupon.NewService(postgres.NewCouponRepository(pool))); err != nil {
		return errors.Wrap(err, "seed coupons")
	}

	if err := seedAPIKey(ctx, postgres.NewAPIKeyRepository(pool), apiKey, pepper, scopes); err != nil {
		return errors.Wrap(err, "seed api key")
	}

	return nil
}

func seedCatalog(ctx context.Context, repo *postgres.ProductRepository, catalogFile string) error {
	slog.Info("reading catalog file", slog.String("path", catalogFile))

	data, err := os.ReadFile(catalogFile)
	if err != nil {
		return errors.Wrap(err, "read catalog file")
	}

	var catalog catalogJSON
	if err := json.Unmarshal(data, &catalog); err != nil {
		return errors.Wrap(err, "parse catalog JSON")
	}

	slog.Info("upserting products", slog.Int("count", len(catalog)))

	for _, p := range catalog {
		var sizes int
		for _, v := range p.Variations {
			for _, s := range v.Sizes {
				key := product.Key{ProductID: p.ID, Color: v.Color, Size: s.Size}
				if err := repo.UpsertSize(ctx, key, product.SizeFacts{
					SKU:       s.SKU,
					Name:      p.Name,
					Price:     s.Price,
					SalePrice: s.SalePrice,
					Stock:     s.Stock,
				}); err != nil {
					return errors.Wrapf(err, "upsert product %s", p.ID)
				}
				sizes++
			}
		}

		slog.Info("upserted product", slog.String("id", p.ID), slog.String("name", p.Name), slog.Int("sizes", sizes))
	}

	return nil
}

func seedCoupons(ctx context.Context, svc *coupon.Service) error {
	slog.Info("seeding default coupons")

	rules := []coupon.Rule{
		{
			Code:   "HAPPYHOURS",
			Kind:   coupon.KindPercentage,
			Value:  decimal.NewFromInt(18),
			Active: true,
		},
		{
			Code:           "FLAT200",
			Kind:           coupon.KindFixed,
			Value:          decimal.NewFromInt(200),
			MinOrderAmount: decimal.NewFromInt(1499),
			PerUserLimit:   1,
			Active:         true,
		},
		{
			Code:         "WELCOME10",
			Kind:         coupon.KindPercentage,
			Value:        decimal.NewFromInt(10),
			PerUserLimit: 1,
			UserClass:    coupon.ClassNormal,
			Active:       true,
		},
		{
			Code:      "PREMIUM25",
			Kind:      coupon.KindPercentage,
			Value:     decimal.NewFromInt(25),
			UserClass: coupon.ClassPremium,
			Active:    true,
		},
	}

	for _, r := range rules {
		if _, err := svc.Create(ctx, r); err != nil {
			if errors.Is(err, coupon.ErrDuplicateCode) {
				slog.Info("coupon exists, skipping", slog.String("code", r.Code))
				continue
			}
			return errors.Wrapf(err, "create coupon %s", r.Code)
		}

		slog.Info("created coupon", slog.String("code", r.Code), slog.String("kind", string(r.Kind)))
	}

	return nil
}

func seedAPIKey(ctx context.Context, repo *postgres.APIKeyRepository, apiKey, pepper string, scopes []string) error {
	slog.Info("seeding default API key")

	if err := repo.Save(ctx, auth.APIKeyInfo{
		ID:      "default",
		KeyHash: auth.HashKey([]byte(pepper), apiKey),
		Name:    "Default service key",
		Scopes:  scopes,
	}); err != nil {
		return errors.Wrap(err, "save default API key")
	}

	slog.Info("saved API key", slog.String("id", "default"), slog.Any("scopes", scopes))

	return nil
}

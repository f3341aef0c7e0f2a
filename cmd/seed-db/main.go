// Command seed-db applies migrations and loads a demo cafe with a menu,
// coupons and an admin API key.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/cafe-orders/internal/domain/auth"
	"github.com/xenking/cafe-orders/internal/domain/cafe"
	"github.com/xenking/cafe-orders/internal/domain/coupon"
	"github.com/xenking/cafe-orders/internal/domain/menu"
	"github.com/xenking/cafe-orders/internal/domain/pricing"
	"github.com/xenking/cafe-orders/internal/handler"
	"github.com/xenking/cafe-orders/internal/storage/postgres"
)

const demoCafeID = "demo"

func main() {
	var (
		databaseURL  string
		apiKey       string
		apiKeyPepper string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&apiKey, "api-key", "", "Admin API key to seed (or CAFE_SEED_API_KEY env)")
	flag.StringVar(&apiKeyPepper, "api-key-pepper", "", "HMAC pepper for API key hashing (or CAFE_API_KEY_PEPPER env)")
	flag.Parse()

	lg := zap.Must(zap.NewProduction())
	defer func() { _ = lg.Sync() }()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		lg.Fatal("Database URL is required: set --database-url or DATABASE_URL")
	}
	if apiKey == "" {
		apiKey = os.Getenv("CAFE_SEED_API_KEY")
	}
	if apiKey == "" {
		lg.Fatal("API key is required: set --api-key or CAFE_SEED_API_KEY")
	}
	if apiKeyPepper == "" {
		apiKeyPepper = os.Getenv("CAFE_API_KEY_PEPPER")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, lg, databaseURL, apiKey, apiKeyPepper); err != nil {
		lg.Fatal("Seed failed", zap.Error(err))
	}
	lg.Info("Seed completed")
}

func run(ctx context.Context, lg *zap.Logger, databaseURL, apiKey, pepper string) error {
	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	if err := postgres.Migrate(ctx, pool, lg); err != nil {
		return errors.Wrap(err, "migrate")
	}

	demo := &cafe.Cafe{
		ID:   demoCafeID,
		Slug: "demo",
		Name: "Demo Cafe",
		Pricing: pricing.Config{
			TaxEnabled:      true,
			TaxRate:         decimal.NewFromInt(18),
			DeliveryEnabled: true,
			DeliveryCharge:  decimal.NewFromInt(40),
		},
	}
	if err := postgres.NewCafeRepository(pool).Upsert(ctx, demo); err != nil {
		return err
	}
	lg.Info("Upserted cafe", zap.String("id", demo.ID), zap.String("name", demo.Name))

	items := demoMenu()
	if err := postgres.NewMenuRepository(pool).UpsertItems(ctx, items); err != nil {
		return err
	}
	lg.Info("Upserted menu", zap.Int("items", len(items)))

	coupons := postgres.NewCouponRepository(pool)
	for _, c := range demoCoupons(time.Now()) {
		if err := coupons.Upsert(ctx, c); err != nil {
			return err
		}
		lg.Info("Upserted coupon", zap.String("code", c.Code), zap.String("type", string(c.DiscountType)))
	}

	key := &auth.APIKeyInfo{
		ID:      "demo-admin",
		KeyHash: handler.HashKey([]byte(pepper), apiKey),
		Name:    "Demo cafe admin",
		CafeID:  demoCafeID,
		Scopes:  []string{auth.ScopeOrdersRead, auth.ScopeOrdersWrite},
	}
	if err := postgres.NewAPIKeyRepository(pool).Upsert(ctx, key); err != nil {
		return err
	}
	lg.Info("Upserted API key", zap.String("id", key.ID), zap.Strings("scopes", key.Scopes))
	return nil
}

func demoMenu() []menu.Item {
	item := func(id, name string, price int64, veg bool) menu.Item {
		return menu.Item{
			ID:          id,
			CafeID:      demoCafeID,
			Name:        name,
			Price:       decimal.NewFromInt(price),
			IsVeg:       veg,
			IsAvailable: true,
		}
	}
	return []menu.Item{
		item("demo-masala-chai", "Masala Chai", 40, true),
		item("demo-cold-coffee", "Cold Coffee", 120, true),
		item("demo-paneer-wrap", "Paneer Wrap", 180, true),
		item("demo-chicken-sandwich", "Chicken Sandwich", 220, false),
		item("demo-brownie", "Walnut Brownie", 95, true),
	}
}

func demoCoupons(now time.Time) []*coupon.Coupon {
	maxDiscount := decimal.NewFromInt(100)
	once := 1
	until := now.AddDate(0, 3, 0)
	return []*coupon.Coupon{
		{
			ID:            "demo-welcome10",
			CafeID:        demoCafeID,
			Code:          "WELCOME10",
			DiscountType:  coupon.DiscountPercentage,
			DiscountValue: decimal.NewFromInt(10),
			MinOrderValue: decimal.NewFromInt(200),
			MaxDiscount:   &maxDiscount,
			IsActive:      true,
			ValidFrom:     now,
			ValidUntil:    &until,
		},
		{
			ID:            "demo-flat50",
			CafeID:        demoCafeID,
			Code:          "FLAT50",
			DiscountType:  coupon.DiscountFixed,
			DiscountValue: decimal.NewFromInt(50),
			MinOrderValue: decimal.NewFromInt(300),
			IsActive:      true,
			ValidFrom:     now,
		},
		{
			ID:            "demo-firstorder",
			CafeID:        demoCafeID,
			Code:          "FIRSTORDER",
			DiscountType:  coupon.DiscountFixed,
			DiscountValue: decimal.NewFromInt(75),
			UsageLimit:    &once,
			IsActive:      true,
			ValidFrom:     now,
		},
	}
}

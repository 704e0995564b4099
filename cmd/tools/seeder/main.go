package main

import (
	"context"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/kustom-promo/internal/obs"
	"github.com/noah-isme/kustom-promo/internal/promotion"
	"github.com/noah-isme/kustom-promo/internal/store"
)

func main() {
	logger := obs.NewLogger("console", "info").With().Str("component", "seeder").Logger()

	if err := godotenv.Load(); err != nil {
		logger.Info().Msg("no .env file found, relying on environment variables")
	}

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		logger.Fatal().Msg("DATABASE_URL is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := store.Migrate(ctx, dbURL); err != nil {
		logger.Fatal().Err(err).Msg("apply migrations")
	}
	pool, err := store.Connect(ctx, dbURL, nil)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect database")
	}
	defer pool.Close()

	s := store.New(pool)
	for i, p := range samplePromotions() {
		if err := s.UpsertPromotion(ctx, p, i+1); err != nil {
			logger.Error().Err(err).Str("code", p.Code).Msg("seed promotion")
			continue
		}
		logger.Info().Str("code", p.Code).Str("type", p.DiscountType.String()).Int("position", i+1).Msg("seeded promotion")
	}
	logger.Info().Msg("seeding completed")
}

// samplePromotions returns the demo catalog in auto-selection order.
func samplePromotions() []promotion.Promotion {
	return []promotion.Promotion{
		{
			Code:           "WELCOME10",
			IsActive:       true,
			DiscountType:   promotion.Percentage,
			DiscountValue:  decimal.NewFromInt(10),
			FirstOrderOnly: true,
		},
		{
			Code:          "HOODIE2",
			IsActive:      true,
			DiscountType:  promotion.Percentage,
			DiscountValue: decimal.NewFromInt(15),
			Category:      ptr("Hoodie"),
			MinQuantity:   ptr(2),
		},
		{
			Code:          "TEEDEAL",
			IsActive:      true,
			DiscountType:  promotion.PriceOverride,
			DiscountValue: decimal.NewFromInt(20000),
			Category:      ptr("T-Shirt"),
		},
		{
			Code:          "PERPIECE5K",
			IsActive:      true,
			DiscountType:  promotion.Fixed,
			DiscountValue: decimal.NewFromInt(5000),
			Category:      ptr("Sticker"),
			MinQuantity:   ptr(3),
			ApplyTo:       promotion.ApplyToItem,
		},
		{
			Code:          "BIGSPEND",
			IsActive:      true,
			DiscountType:  promotion.Fixed,
			DiscountValue: decimal.NewFromInt(50000),
			MinPrice:      ptr(decimal.NewFromInt(500000)),
		},
		{
			Code:          "FLASH20",
			IsActive:      false,
			DiscountType:  promotion.Percentage,
			DiscountValue: decimal.NewFromInt(20),
		},
	}
}

func ptr[T any](v T) *T { return &v }

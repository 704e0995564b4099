package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/noah-isme/kustom-promo/internal/obs"
	"github.com/noah-isme/kustom-promo/internal/promotion"
)

// Repository is the read-only promotion source backing the loader.
type Repository interface {
	ListActive(ctx context.Context) ([]promotion.Promotion, error)
	GetByCode(ctx context.Context, code string) (promotion.Promotion, error)
}

// Loader serves the promotion catalog with caching and at most one in-flight
// request per resource. Failed fetches are not remembered, so the next call
// retries.
type Loader struct {
	repo   Repository
	cache  *Cache
	logger zerolog.Logger
	group  singleflight.Group
}

// LoaderConfig groups Loader dependencies.
type LoaderConfig struct {
	Repository Repository
	Cache      *Cache
	Logger     *zerolog.Logger
}

// NewLoader constructs a Loader.
func NewLoader(cfg LoaderConfig) (*Loader, error) {
	if cfg.Repository == nil {
		return nil, errors.New("catalog: repository is required")
	}
	logger := zerolog.Nop()
	if cfg.Logger != nil {
		logger = cfg.Logger.With().Str("component", "promotion_catalog").Logger()
	}
	return &Loader{repo: cfg.Repository, cache: cfg.Cache, logger: logger}, nil
}

// ListActive returns the active promotions in catalog order.
func (l *Loader) ListActive(ctx context.Context) ([]promotion.Promotion, error) {
	var cached []promotion.Promotion
	if ok, err := l.cache.GetJSON(ctx, activeKey, &cached); err == nil && ok {
		obs.CountCatalogFetch("cache_hit")
		return cached, nil
	} else if err != nil {
		l.logger.Warn().Err(err).Msg("catalog cache read failed")
	}

	v, err, shared := l.group.Do(activeKey, func() (any, error) {
		fetchCtx := context.WithoutCancel(ctx)
		rows, err := l.repo.ListActive(fetchCtx)
		if err != nil {
			return nil, err
		}
		if err := l.cache.SetJSON(fetchCtx, activeKey, rows); err != nil {
			l.logger.Warn().Err(err).Msg("catalog cache write failed")
		}
		return rows, nil
	})
	if err != nil {
		obs.CountCatalogFetch("error")
		l.logger.Warn().Err(err).Bool("shared", shared).Msg("promotion catalog fetch failed")
		return nil, fmt.Errorf("list active promotions: %w: %w", promotion.ErrNetworkFailure, err)
	}
	obs.CountCatalogFetch("ok")
	rows := v.([]promotion.Promotion)
	out := make([]promotion.Promotion, len(rows))
	copy(out, rows)
	return out, nil
}

// GetByCode looks up a single promotion. An unknown code returns
// promotion.ErrInvalidCode; any other failure wraps promotion.ErrNetworkFailure.
func (l *Loader) GetByCode(ctx context.Context, code string) (promotion.Promotion, error) {
	normalized := promotion.NormalizeCode(code)
	if normalized == "" {
		return promotion.Promotion{}, promotion.ErrInvalidCode
	}
	key := codeKey(normalized)

	var cached promotion.Promotion
	if ok, err := l.cache.GetJSON(ctx, key, &cached); err == nil && ok {
		return cached, nil
	}

	v, err, _ := l.group.Do(key, func() (any, error) {
		fetchCtx := context.WithoutCancel(ctx)
		p, err := l.repo.GetByCode(fetchCtx, normalized)
		if err != nil {
			return nil, err
		}
		if err := l.cache.SetJSON(fetchCtx, key, p); err != nil {
			l.logger.Warn().Err(err).Str("code", normalized).Msg("catalog cache write failed")
		}
		return p, nil
	})
	if err != nil {
		if errors.Is(err, promotion.ErrInvalidCode) {
			return promotion.Promotion{}, err
		}
		l.logger.Warn().Err(err).Str("code", normalized).Msg("promotion lookup failed")
		return promotion.Promotion{}, fmt.Errorf("get promotion %s: %w: %w", normalized, promotion.ErrNetworkFailure, err)
	}
	return v.(promotion.Promotion), nil
}

// Invalidate drops cached catalog entries, e.g. after seeding.
func (l *Loader) Invalidate(ctx context.Context, codes ...string) error {
	return l.cache.Invalidate(ctx, codes...)
}

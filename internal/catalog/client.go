package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"go.uber.org/zap"
)

// ErrUnknownProvider is returned when no adapter is registered for a source.
var ErrUnknownProvider = errors.New("unknown catalog provider")

// Item is the canonical normalized catalog item. Every provider adapter
// maps its raw wire shape into this; call sites never see provider fields.
type Item struct {
	Source     string            `json:"source"`
	ExternalID string            `json:"externalId"`
	Title      string            `json:"title"`
	Price      float64           `json:"price"`
	Currency   string            `json:"currency,omitempty"`
	Rating     float64           `json:"rating,omitempty"`
	ImageURL   string            `json:"imageUrl,omitempty"`
	DetailURL  string            `json:"detailUrl,omitempty"`
	Extra      map[string]string `json:"extra,omitempty"`
}

// SearchResult is the uniform paged result shape.
type SearchResult struct {
	Items      []Item `json:"items"`
	TotalCount int    `json:"totalCount"`
	Page       int    `json:"page"`
	PageSize   int    `json:"pageSize"`
}

// SearchOpts carries the common knobs across providers.
type SearchOpts struct {
	Page     int
	PageSize int
	MinPrice float64
	MaxPrice float64
	Sort     string
}

// Provider is the uniform internal contract over one external search API.
type Provider interface {
	Name() string
	SearchByKeyword(ctx context.Context, keyword string, opts SearchOpts) (*SearchResult, error)
	// SearchByImage requires imageURL to be reachable by the provider.
	SearchByImage(ctx context.Context, imageURL string, opts SearchOpts) (*SearchResult, error)
	GetItemDetail(ctx context.Context, externalID string) (*Item, error)
}

// Aggregator fronts one or more providers with the cache: read-through on
// hit, best-effort write after a live call, stale fallback when the live
// call fails entirely.
type Aggregator struct {
	providers map[string]Provider
	cache     *Cache
	ttl       time.Duration
	retry     RetryConfig
	log       *zap.Logger
}

func NewAggregator(cache *Cache, ttl time.Duration, log *zap.Logger, providers ...Provider) *Aggregator {
	m := make(map[string]Provider, len(providers))
	for _, p := range providers {
		m[p.Name()] = p
	}
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &Aggregator{
		providers: m,
		cache:     cache,
		ttl:       ttl,
		retry:     DefaultRetryConfig(),
		log:       log,
	}
}

// SearchByKeyword searches one provider through the cache.
func (a *Aggregator) SearchByKeyword(ctx context.Context, source, keyword string, opts SearchOpts) (*SearchResult, error) {
	key := KeyFor(map[string]string{
		"op":   "keyword",
		"q":    keyword,
		"page": strconv.Itoa(opts.Page),
		"size": strconv.Itoa(opts.PageSize),
		"sort": opts.Sort,
	})
	return a.search(ctx, source, key, keyword, func(p Provider) (*SearchResult, error) {
		return p.SearchByKeyword(ctx, keyword, opts)
	})
}

// SearchByImage searches by a provider-reachable image URL through the cache.
func (a *Aggregator) SearchByImage(ctx context.Context, source, imageURL string, opts SearchOpts) (*SearchResult, error) {
	key := KeyFor(map[string]string{
		"op":   "image",
		"url":  imageURL,
		"page": strconv.Itoa(opts.Page),
		"size": strconv.Itoa(opts.PageSize),
	})
	return a.search(ctx, source, key, imageURL, func(p Provider) (*SearchResult, error) {
		return p.SearchByImage(ctx, imageURL, opts)
	})
}

func (a *Aggregator) search(ctx context.Context, source, key, query string, call func(Provider) (*SearchResult, error)) (*SearchResult, error) {
	p, ok := a.providers[source]
	if !ok {
		return nil, ErrUnknownProvider
	}

	// Read-through: always try the cache before going outbound.
	if snap, err := a.cache.Get(ctx, source, key); err == nil && snap != nil {
		var result SearchResult
		if json.Unmarshal(snap.Result, &result) == nil {
			return &result, nil
		}
	} else if err != nil {
		a.log.Warn("cache lookup failed", zap.String("source", source), zap.Error(err))
	}

	result, err := withRetry(ctx, a.retry, a.log, source+" search", func() (*SearchResult, error) {
		return call(p)
	})
	if err != nil {
		// Stale-while-error: an expired snapshot beats no data.
		if snap, serr := a.cache.GetStale(ctx, source, key); serr == nil && snap != nil {
			var stale SearchResult
			if json.Unmarshal(snap.Result, &stale) == nil {
				a.log.Warn("serving stale catalog snapshot",
					zap.String("source", source),
					zap.Time("cached_at", snap.CachedAt),
					zap.Error(err),
				)
				return &stale, nil
			}
		}
		return nil, err
	}

	a.cache.Put(ctx, source, key, query, result, a.ttl)
	return result, nil
}

// GetItemDetail fetches one normalized item, read-through cached.
func (a *Aggregator) GetItemDetail(ctx context.Context, source, externalID string) (*Item, error) {
	p, ok := a.providers[source]
	if !ok {
		return nil, ErrUnknownProvider
	}

	key := KeyFor(map[string]string{"op": "detail", "id": externalID})
	if snap, err := a.cache.Get(ctx, source, key); err == nil && snap != nil {
		var item Item
		if json.Unmarshal(snap.Result, &item) == nil {
			return &item, nil
		}
	}

	item, err := withRetry(ctx, a.retry, a.log, source+" detail", func() (*Item, error) {
		return p.GetItemDetail(ctx, externalID)
	})
	if err != nil {
		if snap, serr := a.cache.GetStale(ctx, source, key); serr == nil && snap != nil {
			var stale Item
			if json.Unmarshal(snap.Result, &stale) == nil {
				return &stale, nil
			}
		}
		return nil, err
	}
	if item != nil {
		a.cache.Put(ctx, source, key, externalID, item, a.ttl)
	}
	return item, nil
}

package repository

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"evolution-relay/internal/core/domain"
	"evolution-relay/internal/core/ports"
)

var _ ports.WhatsAppNumberRepository = (*CachedNumberRepository)(nil)

// CachedNumberRepository memoizes line lookups. Every inbound webhook and every
// outbox send resolves a line, and lines change rarely.
// Misses are not cached so a newly registered line is picked up at once.
type CachedNumberRepository struct {
	next  ports.WhatsAppNumberRepository
	cache *gocache.Cache
}

// NewCachedNumberRepository wraps next with a ttl cache
func NewCachedNumberRepository(next ports.WhatsAppNumberRepository, ttl time.Duration) *CachedNumberRepository {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &CachedNumberRepository{
		next:  next,
		cache: gocache.New(ttl, 2*ttl),
	}
}

func (r *CachedNumberRepository) FindByInstance(ctx context.Context, instanceName string) (*domain.WhatsAppNumber, error) {
	return r.lookup("instance:"+instanceName, func() (*domain.WhatsAppNumber, error) {
		return r.next.FindByInstance(ctx, instanceName)
	})
}

func (r *CachedNumberRepository) FindByID(ctx context.Context, id string) (*domain.WhatsAppNumber, error) {
	return r.lookup("id:"+id, func() (*domain.WhatsAppNumber, error) {
		return r.next.FindByID(ctx, id)
	})
}

// Flush drops every cached line
func (r *CachedNumberRepository) Flush() {
	r.cache.Flush()
}

func (r *CachedNumberRepository) lookup(key string, load func() (*domain.WhatsAppNumber, error)) (*domain.WhatsAppNumber, error) {
	if v, ok := r.cache.Get(key); ok {
		number := v.(domain.WhatsAppNumber)
		return &number, nil
	}

	number, err := load()
	if err != nil || number == nil {
		return number, err
	}
	r.cache.SetDefault(key, *number)
	return number, nil
}

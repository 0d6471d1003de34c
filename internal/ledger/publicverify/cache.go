package publicverify

import (
	"context"
	"sync"
	"time"

	"veriledger/internal/ledger/models"
	id "veriledger/pkg/domain"
)

// CacheRecord is what the cache keeps per code: the public answer plus the chain
// coordinates needed to cross-check a QR payload without touching the store.
type CacheRecord struct {
	Resolution *models.Resolution `json:"resolution"`
	CompanyID  id.CompanyID       `json:"company_id"`
	ChainType  id.ChainType       `json:"chain_type"`
	Seq        int64              `json:"seq"`
	Hash       string             `json:"hash"`
}

func (c *CacheRecord) entry(code string) *models.Entry {
	return &models.Entry{
		Scope: models.Scope{CompanyID: c.CompanyID, ChainType: c.ChainType},
		Seq:   c.Seq,
		Hash:  c.Hash,
		Code:  code,
	}
}

// Cache stores valid resolutions by verification code. Misses are never
// cached, so a code sealed after a failed lookup resolves immediately.
type Cache interface {
	Get(ctx context.Context, code string) (*CacheRecord, bool, error)
	Set(ctx context.Context, code string, value *CacheRecord) error
	Delete(ctx context.Context, codes ...string) error
}

type memoryItem struct {
	value     *CacheRecord
	expiresAt time.Time
}

// MemoryCache is a process-local Cache used when Redis is not configured.
type MemoryCache struct {
	mu    sync.RWMutex
	ttl   time.Duration
	items map[string]memoryItem
	now   func() time.Time
}

func NewMemoryCache(ttl time.Duration) *MemoryCache {
	return &MemoryCache{ttl: ttl, items: make(map[string]memoryItem), now: time.Now}
}

func (c *MemoryCache) Get(_ context.Context, code string) (*CacheRecord, bool, error) {
	c.mu.RLock()
	item, ok := c.items[code]
	c.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	if c.ttl > 0 && !c.now().Before(item.expiresAt) {
		c.mu.Lock()
		delete(c.items, code)
		c.mu.Unlock()
		return nil, false, nil
	}
	return item.value, true, nil
}

func (c *MemoryCache) Set(_ context.Context, code string, value *CacheRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[code] = memoryItem{value: value, expiresAt: c.now().Add(c.ttl)}
	return nil
}

func (c *MemoryCache) Delete(_ context.Context, codes ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, code := range codes {
		delete(c.items, code)
	}
	return nil
}

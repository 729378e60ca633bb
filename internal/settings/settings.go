// Package settings persists store-wide pricing policy and serves it through
// an explicit read-through cache.
package settings

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/Keoroanthony/go-checkout/internal/models"
	"github.com/Keoroanthony/go-checkout/internal/pricing"
)

const (
	KeyTaxRate               = "pricing.tax_rate"
	KeyFreeShippingThreshold = "pricing.free_shipping_threshold"
	KeyShippingFee           = "pricing.shipping_fee"
)

// Store reads and writes the settings table. Keys that were never written
// fall back to the values the process was configured with.
type Store struct {
	db       *gorm.DB
	defaults pricing.Policy
}

func NewStore(db *gorm.DB, defaults pricing.Policy) *Store {
	return &Store{db: db, defaults: defaults}
}

func (s *Store) LoadPricingPolicy(ctx context.Context) (pricing.Policy, error) {
	var rows []models.Setting
	err := s.db.WithContext(ctx).
		Where("name IN ?", []string{KeyTaxRate, KeyFreeShippingThreshold, KeyShippingFee}).
		Find(&rows).Error
	if err != nil {
		return pricing.Policy{}, fmt.Errorf("load pricing settings: %w", err)
	}

	values := map[string]string{
		KeyTaxRate:               s.defaults.TaxRate.String(),
		KeyFreeShippingThreshold: s.defaults.FreeShippingThreshold.String(),
		KeyShippingFee:           s.defaults.ShippingFee.String(),
	}
	for _, r := range rows {
		values[r.Key] = r.Value
	}
	return pricing.ParsePolicy(values[KeyTaxRate], values[KeyFreeShippingThreshold], values[KeyShippingFee])
}

func (s *Store) SavePricingPolicy(ctx context.Context, p pricing.Policy) error {
	if err := p.Validate(); err != nil {
		return err
	}
	rows := []models.Setting{
		{Key: KeyTaxRate, Value: p.TaxRate.String()},
		{Key: KeyFreeShippingThreshold, Value: p.FreeShippingThreshold.String()},
		{Key: KeyShippingFee, Value: p.ShippingFee.String()},
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&rows).Error
}

// Cache keeps the last loaded policy for ttl. Invalidate forces the next
// read to hit the loader, so a policy update is visible to the very next
// checkout.
type Cache struct {
	mu      sync.Mutex
	load    func(context.Context) (pricing.Policy, error)
	ttl     time.Duration
	now     func() time.Time
	policy  pricing.Policy
	expires time.Time
	valid   bool
}

func NewCache(load func(context.Context) (pricing.Policy, error), ttl time.Duration) *Cache {
	return &Cache{load: load, ttl: ttl, now: time.Now}
}

var errNoLoader = errors.New("settings cache has no loader")

func (c *Cache) Policy(ctx context.Context) (pricing.Policy, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.valid && c.now().Before(c.expires) {
		return c.policy, nil
	}
	if c.load == nil {
		return pricing.Policy{}, errNoLoader
	}

	p, err := c.load(ctx)
	if err != nil {
		return pricing.Policy{}, err
	}
	c.policy, c.expires, c.valid = p, c.now().Add(c.ttl), true
	return p, nil
}

func (c *Cache) Invalidate() {
	c.mu.Lock()
	c.valid = false
	c.mu.Unlock()
}

// Static serves a fixed policy.
type Static pricing.Policy

func (s Static) Policy(context.Context) (pricing.Policy, error) {
	return pricing.Policy(s), nil
}

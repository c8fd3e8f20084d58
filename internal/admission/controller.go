package admission

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"
)

var (
	// ErrRateLimited means the window counter crossed the tenant's
	// requests-per-minute ceiling. The attempt still counted.
	ErrRateLimited = errors.New("rate limit exceeded")

	// ErrBudgetExceeded means the daily cost ceiling would be (or was)
	// crossed, at pre-check or at commit.
	ErrBudgetExceeded = errors.New("daily budget exceeded")
)

// RateWindow is the fixed sliding window for the rate gate.
const RateWindow = 60 * time.Second

// Controller runs the two admission gates. It talks to the shared
// store and silently falls back to the in-process one when the shared
// backend errors, so the gate logic itself never changes.
type Controller struct {
	store    Store
	fallback Store
	loc      *time.Location
	now      func() time.Time
}

func NewController(store Store, loc *time.Location) *Controller {
	return &Controller{
		store:    store,
		fallback: NewLocalStore(),
		loc:      loc,
		now:      time.Now,
	}
}

func (c *Controller) incrWindow(ctx context.Context, key string) (int64, error) {
	count, err := c.store.IncrWindow(ctx, key, RateWindow)
	if err == nil {
		return count, nil
	}
	log.Printf("admission: shared store unavailable, using local window: %v", err)
	return c.fallback.IncrWindow(ctx, key, RateWindow)
}

func (c *Controller) readCost(ctx context.Context, key DayKey) (float64, error) {
	total, err := c.store.ReadCost(ctx, key)
	if err == nil {
		return total, nil
	}
	log.Printf("admission: shared store unavailable, using local ledger: %v", err)
	return c.fallback.ReadCost(ctx, key)
}

func (c *Controller) addCost(ctx context.Context, key DayKey, amount, ceiling float64, expireAt time.Time) (bool, float64, error) {
	committed, total, err := c.store.AddCost(ctx, key, amount, ceiling, expireAt)
	if err == nil {
		return committed, total, nil
	}
	log.Printf("admission: shared store unavailable, using local ledger: %v", err)
	return c.fallback.AddCost(ctx, key, amount, ceiling, expireAt)
}

// AllowRate increments the window for (client_ip, credential, route)
// and rejects when the count exceeds limit.
func (c *Controller) AllowRate(ctx context.Context, clientIP, credential, route string, limit int) error {
	if limit < 1 {
		limit = 1
	}
	key := fmt.Sprintf("rpm:%s:%s:%s", clientIP, credential, route)
	count, err := c.incrWindow(ctx, key)
	if err != nil {
		return fmt.Errorf("rate window: %w", err)
	}
	if count > int64(limit) {
		return ErrRateLimited
	}
	return nil
}

// PreCheck rejects before any generation work when the accumulated
// cost plus the conservative pre-estimate would cross the ceiling.
func (c *Controller) PreCheck(ctx context.Context, tenantID int, preEstimate, ceiling float64) error {
	if ceiling <= 0 {
		return nil
	}
	key := NewDayKey(tenantID, c.now(), c.loc)
	used, err := c.readCost(ctx, key)
	if err != nil {
		return fmt.Errorf("ledger read: %w", err)
	}
	if used+preEstimate > ceiling {
		return ErrBudgetExceeded
	}
	return nil
}

// Commit settles the measured cost against the day's ledger. Returns
// the ledger total after the call; ErrBudgetExceeded when the add was
// refused post-hoc.
func (c *Controller) Commit(ctx context.Context, tenantID int, actual, ceiling float64) (float64, error) {
	now := c.now()
	key := NewDayKey(tenantID, now, c.loc)
	committed, total, err := c.addCost(ctx, key, actual, ceiling, NextMidnight(now, c.loc))
	if err != nil {
		return 0, fmt.Errorf("ledger commit: %w", err)
	}
	if !committed {
		return total, ErrBudgetExceeded
	}
	return total, nil
}

package admission

import (
	"context"
	"fmt"
	"time"
)

// DayKey identifies one tenant's ledger entry for one calendar day.
// The day is always computed in the deployment's billing timezone so
// every instance agrees on where the midnight boundary falls.
type DayKey struct {
	TenantID int
	Day      string // YYYY-MM-DD
}

func NewDayKey(tenantID int, now time.Time, loc *time.Location) DayKey {
	return DayKey{TenantID: tenantID, Day: now.In(loc).Format("2006-01-02")}
}

func (k DayKey) String() string {
	return fmt.Sprintf("cost:%s:%d", k.Day, k.TenantID)
}

// NextMidnight returns the next local-midnight boundary, when the
// day's ledger entry expires.
func NextMidnight(now time.Time, loc *time.Location) time.Time {
	t := now.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day()+1, 0, 0, 0, 0, loc)
}

// Store is the shared mutable state behind admission control: the
// per-key rate windows and the per-(day, tenant) cost ledger. Both
// operations must be atomic against the backend; callers never do
// read-then-write without one.
type Store interface {
	// IncrWindow increments the counter for key, starting a fresh
	// window when none is active, and returns the new count. The
	// increment happens even when the caller will reject the request.
	IncrWindow(ctx context.Context, key string, window time.Duration) (int64, error)

	// ReadCost returns the day's accumulated cost, zero when no entry
	// exists yet.
	ReadCost(ctx context.Context, key DayKey) (float64, error)

	// AddCost atomically adds amount to the day's ledger unless the
	// result would exceed ceiling (ceiling <= 0 means unlimited). The
	// entry's expiry is armed to expireAt only when the add creates
	// it. Returns whether the add committed and the entry's value
	// after the call.
	AddCost(ctx context.Context, key DayKey, amount, ceiling float64, expireAt time.Time) (bool, float64, error)
}

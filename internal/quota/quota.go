// Package quota enforces the monthly render-unit ceiling per account.
package quota

import (
	"context"
	"sync"
	"time"

	apperrors "github.com/rcourtman/pdfforge/internal/errors"
	"github.com/rcourtman/pdfforge/internal/plans"
)

// Thresholds are the usage percentages that trigger a notification.
var Thresholds = []int{90, 95}

// Counter counts usage records for an account since an instant.
type Counter interface {
	CountUsageSince(ctx context.Context, accountID string, since time.Time) (int, error)
}

// Usage is an account's consumption in the current calendar month.
type Usage struct {
	Used  int `json:"current"`
	Limit int `json:"limit"`
}

// Remaining returns Limit-Used, floored at zero.
func (u Usage) Remaining() int {
	if u.Used >= u.Limit {
		return 0
	}
	return u.Limit - u.Used
}

// Tracker computes monthly usage against plan limits. Admission for one
// account is serialised, and units admitted but not yet recorded count as
// used until their Reservation is committed or released.
type Tracker struct {
	counter Counter
	plans   *plans.Table
	now     func() time.Time

	mu    sync.Mutex
	lanes map[string]*lane
}

// lane is the admission state of one account.
type lane struct {
	mu      sync.Mutex
	pending int
	refs    int
}

// NewTracker creates a Tracker.
func NewTracker(counter Counter, table *plans.Table) *Tracker {
	return &Tracker{
		counter: counter,
		plans:   table,
		now:     time.Now,
		lanes:   make(map[string]*lane),
	}
}

func (t *Tracker) acquire(principalID string) *lane {
	t.mu.Lock()
	defer t.mu.Unlock()
	l := t.lanes[principalID]
	if l == nil {
		l = &lane{}
		t.lanes[principalID] = l
	}
	l.refs++
	return l
}

func (t *Tracker) drop(principalID string, l *lane) {
	t.mu.Lock()
	defer t.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(t.lanes, principalID)
	}
}

// Remaining returns the account's usage for the current local calendar month,
// including units reserved by requests still in flight.
func (t *Tracker) Remaining(ctx context.Context, principalID string, tier plans.Tier) (Usage, error) {
	l := t.acquire(principalID)
	defer t.drop(principalID, l)

	l.mu.Lock()
	defer l.mu.Unlock()
	return t.usage(ctx, principalID, tier, l.pending)
}

func (t *Tracker) usage(ctx context.Context, principalID string, tier plans.Tier, pending int) (Usage, error) {
	used, err := t.counter.CountUsageSince(ctx, principalID, MonthStart(t.now()))
	if err != nil {
		return Usage{}, apperrors.Internal("count_usage", err)
	}
	return Usage{Used: used + pending, Limit: t.plans.Get(tier).MonthlyQuota}, nil
}

// Reserve admits requested units for the account or returns a
// quota_exceeded error. The returned Reservation must be committed once the
// units are recorded, or released if none were spent.
func (t *Tracker) Reserve(ctx context.Context, principalID string, tier plans.Tier, requested int) (*Reservation, error) {
	l := t.acquire(principalID)
	l.mu.Lock()

	u, err := t.usage(ctx, principalID, tier, l.pending)
	if err == nil {
		err = Admit(u, requested)
	}
	if err != nil {
		l.mu.Unlock()
		t.drop(principalID, l)
		return nil, err
	}
	l.pending += requested
	l.mu.Unlock()

	return &Reservation{
		Usage:       u,
		Units:       requested,
		tracker:     t,
		principalID: principalID,
		lane:        l,
	}, nil
}

// Reservation is a block of admitted units. Usage is the account's
// consumption immediately before the units were admitted.
type Reservation struct {
	Usage
	Units int

	tracker     *Tracker
	principalID string
	lane        *lane
	once        sync.Once
}

// Post returns the account's consumption once the reserved units are spent.
func (r *Reservation) Post() int {
	return r.Used + r.Units
}

// Commit runs record under the account's admission lock, then drops the
// reservation. record persists the units so that later admissions count them
// from the store. Only the first Commit or Release has any effect.
func (r *Reservation) Commit(record func()) {
	r.once.Do(func() {
		r.lane.mu.Lock()
		if record != nil {
			record()
		}
		r.lane.pending -= r.Units
		r.lane.mu.Unlock()
		r.tracker.drop(r.principalID, r.lane)
	})
}

// Release returns the units without recording them.
func (r *Reservation) Release() {
	r.Commit(nil)
}

// Admit rejects the whole request when used+requested exceeds the limit.
func Admit(u Usage, requested int) error {
	if u.Used+requested > u.Limit {
		return apperrors.New(apperrors.KindQuotaExceeded, "admit_quota",
			"Monthly quota exceeded. Upgrade your plan or wait for the next billing period.").
			WithDetail("current", u.Used).
			WithDetail("limit", u.Limit).
			WithDetail("requested", requested)
	}
	return nil
}

// Crossed returns the highest threshold crossed when usage moves from pre to
// post units, or 0 when none is crossed. A threshold p is crossed when
// pre < ceil(limit*p/100) <= post.
func Crossed(pre, post, limit int) int {
	if limit <= 0 || post <= pre {
		return 0
	}
	crossed := 0
	for _, p := range Thresholds {
		mark := (limit*p + 99) / 100
		if pre < mark && mark <= post {
			crossed = p
		}
	}
	return crossed
}

// MonthStart returns day 1, 00:00:00 of t's month in t's location.
func MonthStart(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
}

package ledger

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/matthewbaird/rentals/internal/apperr"
	"github.com/matthewbaird/rentals/internal/event"
	"github.com/matthewbaird/rentals/internal/notify"
	"github.com/matthewbaird/rentals/internal/store"
	"github.com/matthewbaird/rentals/internal/types"
)

// Service reads rent standing from the store and emits overdue notices.
type Service struct {
	store *store.Store
	sink  notify.Sink
	rec   event.Recorder
	loc   *time.Location
	now   func() time.Time
	log   zerolog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithRecorder attaches a domain event recorder.
func WithRecorder(rec event.Recorder) Option {
	return func(s *Service) { s.rec = rec }
}

// NewService creates a ledger service evaluating periods in loc.
func NewService(st *store.Store, sink notify.Sink, loc *time.Location, logger zerolog.Logger, opts ...Option) *Service {
	if loc == nil {
		loc = time.UTC
	}
	s := &Service{
		store: st,
		sink:  sink,
		loc:   loc,
		now:   time.Now,
		log:   logger.With().Str("component", "ledger").Logger(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// CurrentPeriod returns the billing period containing now.
func (s *Service) CurrentPeriod() types.Period {
	return types.PeriodOf(s.now().In(s.loc))
}

// Status returns the standing of leaseID for period. A zero period means the
// current one. viewer must be able to see the lease; a nil viewer is the
// system itself.
func (s *Service) Status(ctx context.Context, viewer *store.Account, leaseID string, period types.Period) (RentStatus, error) {
	lease, err := s.store.GetLease(ctx, leaseID)
	if err != nil {
		return RentStatus{}, err
	}
	if viewer != nil && !lease.VisibleTo(viewer) {
		return RentStatus{}, apperr.Forbidden("you cannot view this lease")
	}
	if period.IsZero() {
		period = s.CurrentPeriod()
	}
	return s.evaluate(ctx, lease, period)
}

// evaluate loads the attempts for (lease, period), computes the standing and
// emits the overdue notice when it applies.
func (s *Service) evaluate(ctx context.Context, lease *store.Lease, period types.Period) (RentStatus, error) {
	attempts, err := s.store.ListPayments(ctx, store.PaymentFilter{
		LeaseID: lease.ID,
		Period:  period.String(),
		Status:  types.PaymentSuccess,
	})
	if err != nil {
		return RentStatus{}, fmt.Errorf("loading payments for lease %s: %w", lease.ID, err)
	}
	st := ComputeStatus(lease, period, s.now().In(s.loc), attempts)
	if st.Overdue() {
		s.notifyOverdue(ctx, lease, st)
	}
	return st, nil
}

// notifyOverdue stores the overdue notice for the tenant. The sink's dedupe
// key makes repeated and concurrent calls store it once; only the call that
// created it records the event.
func (s *Service) notifyOverdue(ctx context.Context, lease *store.Lease, st RentStatus) {
	if s.sink == nil {
		return
	}
	period := st.Period.String()
	created, err := s.sink.Notify(ctx, notify.Notification{
		UserID:  lease.TenantID,
		Title:   "Rent overdue",
		Message: fmt.Sprintf("Rent for %s is overdue. Outstanding balance: %s.", period, st.Balance),
		Type:    types.NotificationOverdue,
		LeaseID: lease.ID,
		Period:  period,
	})
	if err != nil {
		s.log.Warn().Err(err).Str("lease_id", lease.ID).Str("period", period).Msg("overdue notification not stored")
		return
	}
	if !created {
		return
	}
	s.log.Info().Str("lease_id", lease.ID).Str("period", period).Int64("balance_cents", st.Balance.AmountCents).Msg("rent overdue")
	event.Emit(ctx, s.rec, s.log, event.NewRentOverdue(event.RentOverduePayload{
		LeaseID:  lease.ID,
		TenantID: lease.TenantID,
		Period:   period,
		Balance:  st.Balance,
		DueDay:   lease.DueDay,
	}))
}

// SummaryRow is one lease line of the dashboard summary.
type SummaryRow struct {
	Lease  *store.Lease `json:"lease"`
	Status RentStatus   `json:"rent_status"`
}

// Totals sums the leases of one currency.
type Totals struct {
	Currency    string      `json:"currency"`
	Expected    types.Money `json:"expected"`
	Collected   types.Money `json:"collected"`
	Outstanding types.Money `json:"outstanding"`
}

// Summary aggregates the standing of every active lease visible to a viewer.
// Amounts are never summed across currencies; Totals has one entry per
// currency, ordered by code.
type Summary struct {
	Period       types.Period `json:"period"`
	ActiveLeases int          `json:"active_leases"`
	Totals       []Totals     `json:"totals"`
	Overdue      int          `json:"overdue"`
	Rows         []SummaryRow `json:"rows"`
}

// Summary returns the dashboard summary of viewer's active leases for period
// (zero means current).
func (s *Service) Summary(ctx context.Context, viewer *store.Account, period types.Period) (*Summary, error) {
	if viewer == nil {
		return nil, apperr.Forbidden("authentication required")
	}
	if period.IsZero() {
		period = s.CurrentPeriod()
	}
	filter := store.LeaseFilter{Status: types.LeaseActive}
	switch viewer.Role {
	case types.RoleLandlord:
		filter.LandlordID = viewer.ID
	case types.RoleManager:
		filter.ManagerID = viewer.ID
	case types.RoleTenant:
		filter.TenantID = viewer.ID
	default:
		return nil, apperr.Forbidden("unknown role %q", viewer.Role)
	}
	leases, err := s.store.ListLeases(ctx, filter)
	if err != nil {
		return nil, err
	}

	out := &Summary{
		Period: period,
		Totals: []Totals{},
		Rows:   make([]SummaryRow, 0, len(leases)),
	}
	byCurrency := make(map[string]*Totals)
	for _, l := range leases {
		st, err := s.evaluate(ctx, l, period)
		if err != nil {
			return nil, err
		}
		cur := st.RentDue.Currency
		t, ok := byCurrency[cur]
		if !ok {
			t = &Totals{
				Currency:    cur,
				Expected:    types.Money{Currency: cur},
				Collected:   types.Money{Currency: cur},
				Outstanding: types.Money{Currency: cur},
			}
			byCurrency[cur] = t
		}
		out.ActiveLeases++
		t.Expected.AmountCents += st.RentDue.AmountCents
		t.Collected.AmountCents += st.PaidSum.AmountCents
		if st.Balance.AmountCents > 0 {
			t.Outstanding.AmountCents += st.Balance.AmountCents
		}
		if st.Overdue() {
			out.Overdue++
		}
		out.Rows = append(out.Rows, SummaryRow{Lease: l, Status: st})
	}
	for _, t := range byCurrency {
		out.Totals = append(out.Totals, *t)
	}
	sort.Slice(out.Totals, func(i, j int) bool { return out.Totals[i].Currency < out.Totals[j].Currency })
	return out, nil
}

// ScanOverdue evaluates the current period of every active lease so overdue
// notices go out even when nobody reads the ledger. It returns the number of
// overdue leases.
func (s *Service) ScanOverdue(ctx context.Context) (int, error) {
	leases, err := s.store.ListLeases(ctx, store.LeaseFilter{Status: types.LeaseActive})
	if err != nil {
		return 0, err
	}
	period := s.CurrentPeriod()
	overdue := 0
	for _, l := range leases {
		if err := ctx.Err(); err != nil {
			return overdue, err
		}
		st, err := s.evaluate(ctx, l, period)
		if err != nil {
			return overdue, err
		}
		if st.Overdue() {
			overdue++
		}
	}
	return overdue, nil
}

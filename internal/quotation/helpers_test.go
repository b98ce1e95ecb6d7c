package quotation

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-rfq/internal/notification"
	"github.com/odyssey-erp/odyssey-rfq/internal/shared"
)

var (
	admin = shared.Actor{ID: "admin-1", Role: shared.RoleAdmin}
	buyer = shared.Actor{ID: "buyer-1", Role: shared.RoleUser}
	other = shared.Actor{ID: "buyer-2", Role: shared.RoleUser}
)

// memState is the committed content of memRepo.
type memState struct {
	rows     map[uuid.UUID]*Quotation
	messages []Message
	// interfere runs inside Save before the stamp comparison, standing in for a concurrent writer.
	interfere func(stored *Quotation)
}

func (s *memState) snapshot() *memState {
	out := &memState{
		rows:      make(map[uuid.UUID]*Quotation, len(s.rows)),
		messages:  slices.Clone(s.messages),
		interfere: s.interfere,
	}
	for id, q := range s.rows {
		out.rows[id] = mustClone(q)
	}
	return out
}

func mustClone(q *Quotation) *Quotation {
	c, err := cloneQuotation(q)
	if err != nil {
		panic(err)
	}
	return c
}

func (s *memState) Get(_ context.Context, id uuid.UUID) (*Quotation, error) {
	q, ok := s.rows[id]
	if !ok {
		return nil, fmt.Errorf("%w: quotation %s", shared.ErrNotFound, id)
	}
	return mustClone(q), nil
}

func (s *memState) latest(match func(*Quotation) bool) *Quotation {
	var best *Quotation
	for _, q := range s.rows {
		if match(q) && (best == nil || q.Version > best.Version) {
			best = q
		}
	}
	return best
}

func (s *memState) GetLatestByNumber(_ context.Context, number string) (*Quotation, error) {
	q := s.latest(func(q *Quotation) bool { return q.QuotationNumber == number })
	if q == nil {
		return nil, fmt.Errorf("%w: quotation %s", shared.ErrNotFound, number)
	}
	return mustClone(q), nil
}

func (s *memState) GetLatestInChain(_ context.Context, rootID uuid.UUID) (*Quotation, error) {
	q := s.latest(func(q *Quotation) bool { return q.RootID == rootID })
	if q == nil {
		return nil, fmt.Errorf("%w: quotation chain %s", shared.ErrNotFound, rootID)
	}
	return mustClone(q), nil
}

func (s *memState) List(_ context.Context, filters ListFilters) ([]Quotation, int, error) {
	var out []Quotation
	for _, q := range s.rows {
		if filters.BuyerID != "" && q.Buyer.UserID != filters.BuyerID {
			continue
		}
		if filters.Status != "" && q.Status != filters.Status {
			continue
		}
		out = append(out, *mustClone(q))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].QuotationNumber < out[j].QuotationNumber })
	total := len(out)
	if filters.Offset >= total {
		return nil, total, nil
	}
	out = out[filters.Offset:]
	if filters.Limit > 0 && len(out) > filters.Limit {
		out = out[:filters.Limit]
	}
	return out, total, nil
}

func (s *memState) Insert(_ context.Context, q *Quotation) error {
	for _, existing := range s.rows {
		if existing.RootID == q.RootID && existing.Status != StatusRevised {
			return fmt.Errorf("%w: chain %s already has a live version", shared.ErrConflict, q.RootID)
		}
	}
	q.Stamp = 1
	s.rows[q.ID] = mustClone(q)
	return nil
}

func (s *memState) Save(_ context.Context, q *Quotation) error {
	stored, ok := s.rows[q.ID]
	if !ok {
		return fmt.Errorf("%w: quotation %s", shared.ErrNotFound, q.ID)
	}
	if s.interfere != nil {
		s.interfere(stored)
	}
	if stored.Stamp != q.Stamp {
		return fmt.Errorf("%w: quotation %s changed since stamp %d", shared.ErrConflict, q.ID, q.Stamp)
	}
	q.Stamp++
	s.rows[q.ID] = mustClone(q)
	return nil
}

func (s *memState) ListExpiryCandidates(_ context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	var due []*Quotation
	for _, q := range s.rows {
		if q.Status == StatusQuoted && q.Expired(now) {
			due = append(due, q)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].ValidUntil.Before(*due[j].ValidUntil) })
	ids := make([]uuid.UUID, 0, len(due))
	for i, q := range due {
		if i == limit {
			break
		}
		ids = append(ids, q.ID)
	}
	return ids, nil
}

func (s *memState) InsertMessage(_ context.Context, m *Message) error {
	s.messages = append(s.messages, *m)
	return nil
}

func (s *memState) ListMessages(_ context.Context, quotationID uuid.UUID) ([]Message, error) {
	var out []Message
	for _, m := range s.messages {
		if m.QuotationID == quotationID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *memState) MarkMessagesRead(_ context.Context, quotationID uuid.UUID, role shared.Role, at time.Time) (int64, error) {
	if _, err := readColumn(role); err != nil {
		return 0, err
	}
	var n int64
	for i := range s.messages {
		m := &s.messages[i]
		if m.QuotationID != quotationID {
			continue
		}
		flag := &m.IsReadByUser
		if role == shared.RoleAdmin {
			flag = &m.IsReadByAdmin
		}
		if !*flag {
			*flag = true
			m.UpdatedAt = at
			n++
		}
	}
	return n, nil
}

func (s *memState) CountUnread(_ context.Context, quotationID uuid.UUID, role shared.Role) (int, error) {
	if _, err := readColumn(role); err != nil {
		return 0, err
	}
	n := 0
	for _, m := range s.messages {
		if m.QuotationID != quotationID {
			continue
		}
		if (role == shared.RoleAdmin && !m.IsReadByAdmin) || (role == shared.RoleUser && !m.IsReadByUser) {
			n++
		}
	}
	return n, nil
}

// memTx is a Repository bound to a transaction snapshot.
type memTx struct {
	*memState
}

func (t memTx) WithTx(ctx context.Context, fn func(context.Context, Repository) error) error {
	return fn(ctx, t)
}

// memRepo is an in-memory Repository. Transactions run serially on a snapshot that is
// committed only when fn succeeds.
type memRepo struct {
	mu    sync.Mutex
	state *memState
}

func newMemRepo() *memRepo {
	return &memRepo{state: &memState{rows: map[uuid.UUID]*Quotation{}}}
}

func (r *memRepo) WithTx(ctx context.Context, fn func(context.Context, Repository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	tx := r.state.snapshot()
	if err := fn(ctx, memTx{tx}); err != nil {
		return err
	}
	r.state = tx
	return nil
}

func (r *memRepo) setInterfere(fn func(stored *Quotation)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state.interfere = fn
}

func (r *memRepo) Get(ctx context.Context, id uuid.UUID) (*Quotation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.Get(ctx, id)
}

func (r *memRepo) GetLatestByNumber(ctx context.Context, number string) (*Quotation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.GetLatestByNumber(ctx, number)
}

func (r *memRepo) GetLatestInChain(ctx context.Context, rootID uuid.UUID) (*Quotation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.GetLatestInChain(ctx, rootID)
}

func (r *memRepo) List(ctx context.Context, filters ListFilters) ([]Quotation, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.List(ctx, filters)
}

func (r *memRepo) Insert(ctx context.Context, q *Quotation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.Insert(ctx, q)
}

func (r *memRepo) Save(ctx context.Context, q *Quotation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.Save(ctx, q)
}

func (r *memRepo) ListExpiryCandidates(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.ListExpiryCandidates(ctx, now, limit)
}

func (r *memRepo) InsertMessage(ctx context.Context, m *Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.InsertMessage(ctx, m)
}

func (r *memRepo) ListMessages(ctx context.Context, quotationID uuid.UUID) ([]Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.ListMessages(ctx, quotationID)
}

func (r *memRepo) MarkMessagesRead(ctx context.Context, quotationID uuid.UUID, role shared.Role, at time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.MarkMessagesRead(ctx, quotationID, role, at)
}

func (r *memRepo) CountUnread(ctx context.Context, quotationID uuid.UUID, role shared.Role) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.CountUnread(ctx, quotationID, role)
}

type recordingSink struct {
	mu   sync.Mutex
	sent []notification.Notification
	err  error
}

func (s *recordingSink) Send(_ context.Context, n notification.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, n)
	return s.err
}

func (s *recordingSink) titles() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.sent))
	for _, n := range s.sent {
		out = append(out, n.Title)
	}
	return out
}

func (s *recordingSink) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = nil
}

type seqNumbers struct {
	mu  sync.Mutex
	seq int64
}

func (n *seqNumbers) Next(_ context.Context, at time.Time) (string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.seq++
	return FormatNumber(at.Year(), n.seq), nil
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	svc     *Service
	repo    *memRepo
	sink    *recordingSink
	clock   *fakeClock
	metrics *Metrics
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		repo:    newMemRepo(),
		sink:    &recordingSink{},
		clock:   &fakeClock{now: time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC)},
		metrics: NewMetrics(nil),
	}
	f.svc = NewService(ServiceParams{
		Repo:     f.repo,
		Numbers:  &seqNumbers{},
		Notifier: NewNotifier(f.sink, nil, f.metrics),
		Metrics:  f.metrics,
		Vendor:   VendorProfile{CompanyName: "Odyssey Trading Co.", State: "Karnataka"},
		Currency: "INR",
		Clock:    f.clock.Now,
	})
	return f
}

func sampleItems() []LineItem {
	return []LineItem{{
		ProductID: "P-100",
		Name:      "Steel bracket",
		Quantity:  2,
		Unit:      "pcs",
		UnitPrice: 100,
		TaxRate:   18,
	}}
}

// createPending opens a buyer request with one priced line item.
func (f *fixture) createPending(t *testing.T) *Quotation {
	t.Helper()
	res, err := f.svc.Create(context.Background(), buyer, CreateQuotationRequest{
		Buyer:     BuyerInfo{Name: "Asha Rao", Email: "asha@example.com", CompanyName: "Rao Metals"},
		LineItems: sampleItems(),
	}, "")
	require.NoError(t, err)
	q, err := f.repo.Get(context.Background(), res.ID)
	require.NoError(t, err)
	return q
}

// quoted returns a quotation that staff has quoted with the given amount.
func (f *fixture) quoted(t *testing.T, amount float64) *Quotation {
	t.Helper()
	q := f.createPending(t)
	out, err := f.svc.Apply(context.Background(), admin, q.ID, Quote{TotalAmount: &amount})
	require.NoError(t, err)
	return out
}

func ptr[T any](v T) *T {
	return &v
}

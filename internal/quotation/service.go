package quotation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/odyssey-rfq/internal/quotation/pricing"
	"github.com/odyssey-erp/odyssey-rfq/internal/shared"
)

const (
	// DefaultValidity applies when a quote is issued without a validity date.
	DefaultValidity = 30 * 24 * time.Hour

	idempotencyModule = "quotation.create"
	expiryBatchSize   = 500
	expiryConcurrency = 8
)

// IdempotencyGuard records processed request keys. *shared.IdempotencyStore satisfies it.
type IdempotencyGuard interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key, module string) error
}

// ServiceParams groups the service dependencies.
type ServiceParams struct {
	Repo            Repository
	Numbers         NumberGenerator
	Notifier        *Notifier
	Mailer          Mailer
	Idempotency     IdempotencyGuard
	Metrics         *Metrics
	Logger          *slog.Logger
	Vendor          VendorProfile
	Currency        string
	DefaultValidity time.Duration
	Clock           func() time.Time
}

// Service runs the quotation workflow.
type Service struct {
	repo     Repository
	numbers  NumberGenerator
	notifier *Notifier
	mailer   Mailer
	idem     IdempotencyGuard
	metrics  *Metrics
	logger   *slog.Logger
	vendor   VendorProfile
	currency string
	validity time.Duration
	validate *validator.Validate
	clock    func() time.Time
}

// NewService constructs the workflow service.
func NewService(p ServiceParams) *Service {
	s := &Service{
		repo:     p.Repo,
		numbers:  p.Numbers,
		notifier: p.Notifier,
		mailer:   p.Mailer,
		idem:     p.Idempotency,
		metrics:  p.Metrics,
		logger:   p.Logger,
		vendor:   p.Vendor,
		currency: strings.ToUpper(p.Currency),
		validity: p.DefaultValidity,
		validate: validator.New(),
		clock:    p.Clock,
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.numbers == nil {
		s.numbers = NewRedisNumberer(nil, s.logger)
	}
	if s.notifier == nil {
		s.notifier = NewNotifier(nil, s.logger, s.metrics)
	}
	if s.currency == "" {
		s.currency = "INR"
	}
	if s.validity <= 0 {
		s.validity = DefaultValidity
	}
	if s.clock == nil {
		s.clock = func() time.Time { return time.Now().UTC() }
	}
	return s
}

// ============================================================================
// CREATION
// ============================================================================

// Create opens a new request. Requests with priced or legacy items start pending, empty
// carts start as draft. A non-empty idempotency key makes the call safe to retry.
func (s *Service) Create(ctx context.Context, actor shared.Actor, req CreateQuotationRequest, idempotencyKey string) (*CreateResult, error) {
	if err := s.check(req); err != nil {
		return nil, err
	}
	buyer := req.Buyer
	if !actor.IsAdmin() {
		buyer.UserID = actor.ID
	}
	if buyer.UserID == "" {
		return nil, fmt.Errorf("%w: buyer user id required", shared.ErrValidation)
	}

	if idempotencyKey != "" && s.idem != nil {
		if err := s.idem.CheckAndInsert(ctx, idempotencyKey, idempotencyModule); err != nil {
			return nil, err
		}
	}
	q, err := s.create(ctx, actor, buyer, req)
	if err != nil {
		if idempotencyKey != "" && s.idem != nil {
			if delErr := s.idem.Delete(ctx, idempotencyKey, idempotencyModule); delErr != nil {
				s.logger.Warn("release idempotency key", slog.Any("error", delErr))
			}
		}
		return nil, err
	}

	s.metrics.status(q.Status)
	s.notifier.RequestCreated(ctx, q)
	return &CreateResult{ID: q.ID, QuotationNumber: q.QuotationNumber}, nil
}

func (s *Service) create(ctx context.Context, actor shared.Actor, buyer BuyerInfo, req CreateQuotationRequest) (*Quotation, error) {
	now := s.clock()
	number, err := s.numbers.Next(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("generate quotation number: %w", err)
	}

	items := append([]LineItem(nil), req.LineItems...)
	if len(items) == 0 {
		for _, p := range req.LegacyProducts {
			items = append(items, LineItem{ProductID: p.ProductID, Name: p.Name, Quantity: p.Quantity, Unit: p.Unit})
		}
	}
	status := StatusPending
	if len(items) == 0 {
		status = StatusDraft
	}
	currencyCode := s.currency
	if req.Currency != "" {
		currencyCode = strings.ToUpper(req.Currency)
	}

	id := uuid.New()
	q := &Quotation{
		ID:              id,
		QuotationNumber: number,
		Version:         1,
		RootID:          id,
		Buyer:           buyer,
		Vendor:          s.vendor,
		LineItems:       items,
		Status:          status,
		ThreadStatus:    ThreadActive,
		Notes:           req.Notes,
		CreatedBy:       actor.ID,
		LastModifiedBy:  actor.ID,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	recompute(q, currencyCode)

	if err := s.repo.Insert(ctx, q); err != nil {
		return nil, fmt.Errorf("create quotation: %w", err)
	}
	return q, nil
}

// Submit moves a draft into the staff queue.
func (s *Service) Submit(ctx context.Context, actor shared.Actor, id uuid.UUID) (*Quotation, error) {
	q, err := s.mutate(ctx, actor, id, s.clock(), func(_ context.Context, _ Repository, q *Quotation, _ time.Time) error {
		if !q.OwnedBy(actor.ID) && !actor.IsAdmin() {
			return fmt.Errorf("%w: only the buyer can submit", shared.ErrForbidden)
		}
		if err := checkTransition(q, StatusPending); err != nil {
			return err
		}
		if len(q.LineItems) == 0 {
			return fmt.Errorf("%w: add at least one item before submitting", shared.ErrValidation)
		}
		q.Status = StatusPending
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.afterStatus(ctx, q)
	return q, nil
}

// ============================================================================
// STAFF RESPONSE
// ============================================================================

// UpdateResponse edits pricing and terms. The summary and tax details are recomputed only
// when line items are supplied.
func (s *Service) UpdateResponse(ctx context.Context, actor shared.Actor, id uuid.UUID, req UpdateResponseRequest) (*Quotation, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	if err := s.check(req); err != nil {
		return nil, err
	}
	return s.mutate(ctx, actor, id, s.clock(), func(_ context.Context, _ Repository, q *Quotation, _ time.Time) error {
		if q.Status == StatusAccepted || q.Status == StatusClosed {
			return fmt.Errorf("%w: quotation %s is %s", shared.ErrInvalidState, q.QuotationNumber, q.Status)
		}
		if req.PaymentTerms != nil {
			q.PaymentTerms = *req.PaymentTerms
		}
		if req.DeliveryTerms != nil {
			q.DeliveryTerms = *req.DeliveryTerms
		}
		if req.Notes != nil {
			q.Notes = *req.Notes
		}
		currencyCode := q.FinancialSummary.Currency
		if req.Currency != nil {
			currencyCode = strings.ToUpper(*req.Currency)
		}
		if req.LineItems != nil {
			q.LineItems = append([]LineItem(nil), req.LineItems...)
			recompute(q, currencyCode)
		} else {
			q.FinancialSummary.Currency = currencyCode
		}
		return nil
	})
}

// UpdateStatus translates a status request into its typed command and applies it.
func (s *Service) UpdateStatus(ctx context.Context, actor shared.Actor, id uuid.UUID, req UpdateStatusRequest) (*Quotation, error) {
	if err := s.check(req); err != nil {
		return nil, err
	}
	cmd, err := CommandFromRequest(req)
	if err != nil {
		return nil, err
	}
	return s.Apply(ctx, actor, id, cmd)
}

// Apply runs one status command under compare-and-set.
func (s *Service) Apply(ctx context.Context, actor shared.Actor, id uuid.UUID, cmd Command) (*Quotation, error) {
	if err := authorize(actor, cmd); err != nil {
		return nil, err
	}
	q, err := s.mutate(ctx, actor, id, s.clock(), func(ctx context.Context, repo Repository, q *Quotation, now time.Time) error {
		if !q.VisibleTo(actor) {
			return fmt.Errorf("%w: quotation %s", shared.ErrNotFound, id)
		}
		if err := checkTransition(q, cmd.Target()); err != nil {
			return err
		}
		notes := ""
		switch c := cmd.(type) {
		case Claim:
			q.AssignedTo = actor.ID
			notes = c.Notes
		case Quote:
			if err := s.quote(q, c, actor, now); err != nil {
				return err
			}
		case Accept:
			if q.Expired(now) {
				return fmt.Errorf("%w: quotation %s validity has passed", shared.ErrInvalidState, q.QuotationNumber)
			}
			notes = c.Notes
		case Reject:
			if q.Expired(now) {
				return fmt.Errorf("%w: quotation %s validity has passed", shared.ErrInvalidState, q.QuotationNumber)
			}
			notes = c.Notes
		case Close:
			notes = c.Notes
		default:
			return fmt.Errorf("%w: unsupported command %T", shared.ErrValidation, cmd)
		}
		q.Status = cmd.Target()
		if notes != "" {
			return repo.InsertMessage(ctx, systemMessage(q, actor, MessageSystemNotification, notes, now))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.afterStatus(ctx, q)
	return q, nil
}

func (s *Service) quote(q *Quotation, c Quote, actor shared.Actor, now time.Time) error {
	if len(q.LineItems) == 0 {
		return fmt.Errorf("%w: quotation %s has no line items", shared.ErrValidation, q.QuotationNumber)
	}
	if c.TotalAmount == nil {
		return fmt.Errorf("%w: total amount required to quote", shared.ErrValidation)
	}
	if *c.TotalAmount < 0 {
		return fmt.Errorf("%w: total amount must not be negative", shared.ErrValidation)
	}
	validUntil := now.Add(s.validity)
	if c.ValidUntil != nil {
		if !c.ValidUntil.After(now) {
			return fmt.Errorf("%w: valid until must be in the future", shared.ErrValidation)
		}
		validUntil = c.ValidUntil.UTC()
	}

	recompute(q, q.FinancialSummary.Currency)
	gst := c.GSTDetails
	if len(gst) == 0 {
		gst = pricing.SplitGST(q.TaxDetails, c.InterState)
	}
	validFrom := now
	q.ValidFrom = &validFrom
	q.ValidUntil = &validUntil
	q.AdminResponse = &AdminResponse{
		Amount:        *c.TotalAmount,
		ValidUntil:    validUntil,
		TaxDetails:    append([]pricing.TaxDetail(nil), q.TaxDetails...),
		GSTDetails:    gst,
		Notes:         c.Notes,
		PaymentTerms:  q.PaymentTerms,
		DeliveryTerms: q.DeliveryTerms,
		QuotedBy:      actor.ID,
		QuotedAt:      now,
	}
	if q.AssignedTo == "" {
		q.AssignedTo = actor.ID
	}
	return nil
}

// Reopen returns a rejected quotation to processing. Pricing and the last quote are kept.
func (s *Service) Reopen(ctx context.Context, actor shared.Actor, id uuid.UUID) (*Quotation, error) {
	q, err := s.mutate(ctx, actor, id, s.clock(), func(_ context.Context, _ Repository, q *Quotation, _ time.Time) error {
		if !q.VisibleTo(actor) {
			return fmt.Errorf("%w: quotation %s", shared.ErrNotFound, id)
		}
		if q.Status != reopenable {
			return fmt.Errorf("%w: only rejected quotations can be reopened, %s is %s", shared.ErrInvalidState, q.QuotationNumber, q.Status)
		}
		q.Status = StatusProcessing
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.afterStatus(ctx, q)
	return q, nil
}

// ExpireDue moves every quoted quotation whose validity ended before now to expired and
// returns how many it moved. Rows that changed concurrently or were already handled are
// skipped, so repeated sweeps are harmless.
func (s *Service) ExpireDue(ctx context.Context, now time.Time) (int, error) {
	ids, err := s.repo.ListExpiryCandidates(ctx, now, expiryBatchSize)
	if err != nil {
		return 0, fmt.Errorf("list expiry candidates: %w", err)
	}
	system := shared.Actor{ID: "system", Role: shared.RoleAdmin}

	var (
		expired atomic.Int64
		mu      sync.Mutex
		errs    []error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(expiryConcurrency)
	for _, id := range ids {
		g.Go(func() error {
			q, err := s.mutate(gctx, system, id, now, func(_ context.Context, _ Repository, q *Quotation, now time.Time) error {
				if q.Status != StatusQuoted || !q.Expired(now) {
					return errSkip
				}
				q.Status = StatusExpired
				return nil
			})
			switch {
			case err == nil:
				expired.Add(1)
				s.afterStatus(ctx, q)
			case errors.Is(err, errSkip), errors.Is(err, shared.ErrConflict), errors.Is(err, shared.ErrInvalidState):
			default:
				mu.Lock()
				errs = append(errs, fmt.Errorf("expire %s: %w", id, err))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return int(expired.Load()), errors.Join(errs...)
}

var errSkip = errors.New("skip")

// ============================================================================
// GENERIC EDITS & LOOKUPS
// ============================================================================

// UpdateQuotation applies the closed set of contact and terms edits.
func (s *Service) UpdateQuotation(ctx context.Context, actor shared.Actor, id uuid.UUID, req UpdateQuotationRequest) (*Quotation, error) {
	if err := s.check(req); err != nil {
		return nil, err
	}
	if req.touchesTerms() && !actor.IsAdmin() {
		return nil, fmt.Errorf("%w: notes and terms are set by staff", shared.ErrForbidden)
	}
	return s.mutate(ctx, actor, id, s.clock(), func(_ context.Context, _ Repository, q *Quotation, _ time.Time) error {
		if !q.VisibleTo(actor) {
			return fmt.Errorf("%w: quotation %s", shared.ErrNotFound, id)
		}
		if q.Status == StatusAccepted || q.Status == StatusClosed {
			return fmt.Errorf("%w: quotation %s is %s", shared.ErrInvalidState, q.QuotationNumber, q.Status)
		}
		setIf(&q.Buyer.Name, req.BuyerName)
		setIf(&q.Buyer.Email, req.BuyerEmail)
		setIf(&q.Buyer.Phone, req.BuyerPhone)
		setIf(&q.Buyer.CompanyName, req.BuyerCompanyName)
		setIf(&q.Buyer.Address, req.BuyerAddress)
		setIf(&q.Buyer.GSTIN, req.BuyerGSTIN)
		setIf(&q.Notes, req.Notes)
		setIf(&q.PaymentTerms, req.PaymentTerms)
		setIf(&q.DeliveryTerms, req.DeliveryTerms)
		return nil
	})
}

// Get returns a quotation visible to actor.
func (s *Service) Get(ctx context.Context, actor shared.Actor, id uuid.UUID) (*Quotation, error) {
	q, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !q.VisibleTo(actor) {
		return nil, fmt.Errorf("%w: quotation %s", shared.ErrNotFound, id)
	}
	return q, nil
}

// GetByNumber returns the latest version carrying number.
func (s *Service) GetByNumber(ctx context.Context, actor shared.Actor, number string) (*Quotation, error) {
	q, err := s.repo.GetLatestByNumber(ctx, number)
	if err != nil {
		return nil, err
	}
	if !q.VisibleTo(actor) {
		return nil, fmt.Errorf("%w: quotation %s", shared.ErrNotFound, number)
	}
	return q, nil
}

// Latest resolves any version id to the newest version of its chain.
func (s *Service) Latest(ctx context.Context, actor shared.Actor, id uuid.UUID) (*Quotation, error) {
	q, err := s.Get(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	return s.repo.GetLatestInChain(ctx, q.RootID)
}

// List returns quotations visible to actor. Buyers only ever see their own.
func (s *Service) List(ctx context.Context, actor shared.Actor, filters ListFilters) ([]Quotation, int, error) {
	if !actor.IsAdmin() {
		filters.BuyerID = actor.ID
	}
	if filters.Status != "" && !filters.Status.Valid() {
		return nil, 0, fmt.Errorf("%w: unknown status %q", shared.ErrValidation, filters.Status)
	}
	return s.repo.List(ctx, filters)
}

// ============================================================================
// HELPERS
// ============================================================================

type mutation func(ctx context.Context, repo Repository, q *Quotation, now time.Time) error

// mutate loads, changes and saves one quotation inside a transaction. The save is a
// compare-and-set on the stamp read at load time, so a concurrent writer yields ErrConflict
// and fn's changes are discarded.
func (s *Service) mutate(ctx context.Context, actor shared.Actor, id uuid.UUID, now time.Time, fn mutation) (*Quotation, error) {
	var out *Quotation
	err := s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		q, err := repo.Get(ctx, id)
		if err != nil {
			return err
		}
		if q.Status == StatusRevised {
			return fmt.Errorf("%w: quotation %s v%d was superseded by a revision", shared.ErrInvalidState, q.QuotationNumber, q.Version)
		}
		if err := fn(ctx, repo, q, now); err != nil {
			return err
		}
		q.LastModifiedBy = actor.ID
		q.UpdatedAt = now
		if err := repo.Save(ctx, q); err != nil {
			return err
		}
		out = q
		return nil
	})
	if errors.Is(err, shared.ErrConflict) {
		s.metrics.conflict()
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Service) afterStatus(ctx context.Context, q *Quotation) {
	s.metrics.status(q.Status)
	s.logger.Info("quotation status changed",
		slog.String("quotation", q.QuotationNumber),
		slog.Int("version", q.Version),
		slog.String("status", string(q.Status)),
		slog.String("by", q.LastModifiedBy))
	s.notifier.StatusChanged(ctx, q)
}

func (s *Service) check(v any) error {
	if err := s.validate.Struct(v); err != nil {
		return fmt.Errorf("%w: %s", shared.ErrValidation, err.Error())
	}
	return nil
}

// recompute derives line totals, the summary and the tax breakdown from the line items.
func recompute(q *Quotation, currencyCode string) {
	items := make([]pricing.Item, len(q.LineItems))
	for i := range q.LineItems {
		li := &q.LineItems[i]
		items[i] = pricing.Item{Quantity: li.Quantity, UnitPrice: li.UnitPrice, TaxRate: li.TaxRate, Discount: li.Discount}
		li.LineTotal = pricing.ComputeLine(items[i]).LineTotal
	}
	q.FinancialSummary = pricing.ComputeSummary(items, currencyCode)
	q.TaxDetails = pricing.TaxBreakdown(items)
}

func authorize(actor shared.Actor, cmd Command) error {
	switch cmd.(type) {
	case Claim, Quote, Close:
		return requireAdmin(actor)
	}
	return nil
}

func requireAdmin(actor shared.Actor) error {
	if !actor.IsAdmin() {
		return fmt.Errorf("%w: staff only", shared.ErrForbidden)
	}
	return nil
}

func setIf(dst *string, v *string) {
	if v != nil {
		*dst = strings.TrimSpace(*v)
	}
}

func systemMessage(q *Quotation, actor shared.Actor, kind MessageType, content string, now time.Time) *Message {
	return &Message{
		ID:            uuid.New(),
		QuotationID:   q.ID,
		AuthorID:      actor.ID,
		AuthorRole:    actor.Role,
		Content:       content,
		MessageType:   kind,
		IsReadByUser:  actor.Role == shared.RoleUser,
		IsReadByAdmin: actor.Role == shared.RoleAdmin,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

package quotation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-rfq/internal/shared"
)

func TestCreateWithItemsStartsPending(t *testing.T) {
	f := newFixture(t)
	q := f.createPending(t)

	assert.Equal(t, StatusPending, q.Status)
	assert.Equal(t, ThreadActive, q.ThreadStatus)
	assert.Equal(t, "QT-2026-000001", q.QuotationNumber)
	assert.Equal(t, 1, q.Version)
	assert.Equal(t, q.ID, q.RootID)
	assert.Nil(t, q.ParentID)
	assert.Equal(t, "buyer-1", q.Buyer.UserID)
	assert.Equal(t, "Odyssey Trading Co.", q.Vendor.CompanyName)
	assert.InDelta(t, 236.0, q.FinancialSummary.GrandTotal, 0.001)
	assert.Equal(t, "INR", q.FinancialSummary.Currency)
	assert.InDelta(t, 236.0, q.LineItems[0].LineTotal, 0.001)
	require.Len(t, q.TaxDetails, 1)
	assert.Equal(t, "GST", q.TaxDetails[0].Label)

	assert.Equal(t, []string{"New Quotation Request"}, f.sink.titles())
	assert.Equal(t, shared.RoleAdmin, f.sink.sent[0].RecipientRole)
}

func TestCreateEmptyCartIsDraftAndSubmitRequiresItems(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.Create(ctx, buyer, CreateQuotationRequest{
		Buyer: BuyerInfo{Name: "Asha Rao", Email: "asha@example.com"},
	}, "")
	require.NoError(t, err)
	q, err := f.svc.Get(ctx, buyer, res.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusDraft, q.Status)

	_, err = f.svc.Submit(ctx, buyer, res.ID)
	assert.ErrorIs(t, err, shared.ErrValidation)
}

func TestCreateLegacyProductsBecomeZeroPricedItems(t *testing.T) {
	f := newFixture(t)

	res, err := f.svc.Create(context.Background(), buyer, CreateQuotationRequest{
		Buyer:          BuyerInfo{Name: "Asha Rao", Email: "asha@example.com"},
		LegacyProducts: []LegacyProduct{{ProductID: "P-7", Name: "Bolt", Quantity: 50, Unit: "pcs"}},
	}, "")
	require.NoError(t, err)

	q, err := f.repo.Get(context.Background(), res.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, q.Status)
	require.Len(t, q.LineItems, 1)
	assert.Equal(t, "Bolt", q.LineItems[0].Name)
	assert.Zero(t, q.LineItems[0].UnitPrice)
	assert.Zero(t, q.FinancialSummary.GrandTotal)
}

func TestCreateBuyerCannotImpersonate(t *testing.T) {
	f := newFixture(t)

	res, err := f.svc.Create(context.Background(), buyer, CreateQuotationRequest{
		Buyer:     BuyerInfo{UserID: "someone-else", Name: "Asha Rao", Email: "asha@example.com"},
		LineItems: sampleItems(),
	}, "")
	require.NoError(t, err)
	q, err := f.repo.Get(context.Background(), res.ID)
	require.NoError(t, err)
	assert.Equal(t, buyer.ID, q.Buyer.UserID)

	_, err = f.svc.Create(context.Background(), admin, CreateQuotationRequest{
		Buyer: BuyerInfo{Name: "Walk-in", Email: "walkin@example.com"},
	}, "")
	assert.ErrorIs(t, err, shared.ErrValidation)
}

func TestCreateValidatesInput(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Create(context.Background(), buyer, CreateQuotationRequest{
		Buyer:     BuyerInfo{Name: "Asha Rao", Email: "not-an-email"},
		LineItems: sampleItems(),
	}, "")
	assert.ErrorIs(t, err, shared.ErrValidation)

	_, err = f.svc.Create(context.Background(), buyer, CreateQuotationRequest{
		Buyer:     BuyerInfo{Name: "Asha Rao", Email: "asha@example.com"},
		LineItems: []LineItem{{ProductID: "P-1", Name: "Zero", Quantity: 0}},
	}, "")
	assert.ErrorIs(t, err, shared.ErrValidation)
}

type memIdempotency struct {
	keys    map[string]bool
	deleted []string
}

func (m *memIdempotency) CheckAndInsert(_ context.Context, key, module string) error {
	if m.keys[module+"/"+key] {
		return shared.ErrIdempotencyConflict
	}
	m.keys[module+"/"+key] = true
	return nil
}

func (m *memIdempotency) Delete(_ context.Context, key, module string) error {
	delete(m.keys, module+"/"+key)
	m.deleted = append(m.deleted, key)
	return nil
}

type failingNumbers struct{}

func (failingNumbers) Next(context.Context, time.Time) (string, error) {
	return "", errors.New("sequence offline")
}

func TestCreateIdempotencyKey(t *testing.T) {
	f := newFixture(t)
	idem := &memIdempotency{keys: map[string]bool{}}
	f.svc.idem = idem
	req := CreateQuotationRequest{
		Buyer:     BuyerInfo{Name: "Asha Rao", Email: "asha@example.com"},
		LineItems: sampleItems(),
	}

	_, err := f.svc.Create(context.Background(), buyer, req, "key-1")
	require.NoError(t, err)
	_, err = f.svc.Create(context.Background(), buyer, req, "key-1")
	assert.ErrorIs(t, err, shared.ErrIdempotencyConflict)

	f.svc.numbers = failingNumbers{}
	_, err = f.svc.Create(context.Background(), buyer, req, "key-2")
	require.Error(t, err)
	assert.Equal(t, []string{"key-2"}, idem.deleted)
	assert.False(t, idem.keys[idempotencyModule+"/key-2"])
}

func TestQuoteDefaultsValidityToThirtyDays(t *testing.T) {
	f := newFixture(t)
	now := f.clock.Now()

	q := f.quoted(t, 236)

	assert.Equal(t, StatusQuoted, q.Status)
	require.NotNil(t, q.ValidFrom)
	require.NotNil(t, q.ValidUntil)
	assert.True(t, q.ValidFrom.Equal(now))
	assert.True(t, q.ValidUntil.Equal(now.Add(30*24*time.Hour)))
	require.NotNil(t, q.AdminResponse)
	assert.InDelta(t, 236.0, q.AdminResponse.Amount, 0.001)
	assert.Equal(t, admin.ID, q.AdminResponse.QuotedBy)
	assert.Equal(t, admin.ID, q.AssignedTo)
	// Intra-state supply splits GST into CGST and SGST.
	require.Len(t, q.AdminResponse.GSTDetails, 2)
	assert.Equal(t, "CGST", q.AdminResponse.GSTDetails[0].Name)
	assert.Contains(t, f.sink.titles(), "Quotation Ready")
}

func TestQuoteWithExplicitValidity(t *testing.T) {
	f := newFixture(t)
	q := f.createPending(t)
	until := f.clock.Now().Add(7 * 24 * time.Hour)

	out, err := f.svc.UpdateStatus(context.Background(), admin, q.ID, UpdateStatusRequest{
		Status:      StatusQuoted,
		TotalAmount: ptr(200.0),
		ValidUntil:  &until,
		InterState:  true,
	})
	require.NoError(t, err)
	assert.True(t, out.ValidUntil.Equal(until))
	require.Len(t, out.AdminResponse.GSTDetails, 1)
	assert.Equal(t, "IGST", out.AdminResponse.GSTDetails[0].Name)

	past := f.clock.Now().Add(-time.Hour)
	_, err = f.svc.UpdateStatus(context.Background(), admin, q.ID, UpdateStatusRequest{
		Status:      StatusQuoted,
		TotalAmount: ptr(200.0),
		ValidUntil:  &past,
	})
	assert.ErrorIs(t, err, shared.ErrValidation)
}

func TestQuoteFailureLeavesRecordUnchanged(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.Create(ctx, buyer, CreateQuotationRequest{
		Buyer: BuyerInfo{Name: "Asha Rao", Email: "asha@example.com"},
	}, "")
	require.NoError(t, err)
	before, err := f.repo.Get(ctx, res.ID)
	require.NoError(t, err)

	_, err = f.svc.Apply(ctx, admin, res.ID, Quote{TotalAmount: ptr(100.0)})
	assert.ErrorIs(t, err, shared.ErrValidation)

	pending := f.createPending(t)
	_, err = f.svc.Apply(ctx, admin, pending.ID, Quote{})
	assert.ErrorIs(t, err, shared.ErrValidation)
	_, err = f.svc.Apply(ctx, admin, pending.ID, Quote{TotalAmount: ptr(-1.0)})
	assert.ErrorIs(t, err, shared.ErrValidation)

	after, err := f.repo.Get(ctx, res.ID)
	require.NoError(t, err)
	assert.Equal(t, before, after)

	stillPending, err := f.repo.Get(ctx, pending.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, stillPending.Status)
	assert.Nil(t, stillPending.AdminResponse)
	assert.Equal(t, pending.Stamp, stillPending.Stamp)
}

func TestStaffOnlyCommands(t *testing.T) {
	f := newFixture(t)
	q := f.createPending(t)

	_, err := f.svc.Apply(context.Background(), buyer, q.ID, Claim{})
	assert.ErrorIs(t, err, shared.ErrForbidden)
	_, err = f.svc.Apply(context.Background(), buyer, q.ID, Quote{TotalAmount: ptr(1.0)})
	assert.ErrorIs(t, err, shared.ErrForbidden)
	_, err = f.svc.Apply(context.Background(), buyer, q.ID, Close{})
	assert.ErrorIs(t, err, shared.ErrForbidden)
}

func TestClaimRecordsAssigneeAndNotes(t *testing.T) {
	f := newFixture(t)
	q := f.createPending(t)

	out, err := f.svc.Apply(context.Background(), admin, q.ID, Claim{Notes: "Checking stock"})
	require.NoError(t, err)
	assert.Equal(t, StatusProcessing, out.Status)
	assert.Equal(t, admin.ID, out.AssignedTo)

	msgs, err := f.svc.ListMessages(context.Background(), admin, q.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, MessageSystemNotification, msgs[0].MessageType)
	assert.Equal(t, "Checking stock", msgs[0].Content)
	assert.True(t, msgs[0].IsReadByAdmin)
	assert.False(t, msgs[0].IsReadByUser)
}

func TestAcceptNotifiesBothSides(t *testing.T) {
	f := newFixture(t)
	q := f.quoted(t, 236)
	f.sink.reset()

	out, err := f.svc.Apply(context.Background(), buyer, q.ID, Accept{})
	require.NoError(t, err)
	assert.Equal(t, StatusAccepted, out.Status)

	require.Len(t, f.sink.sent, 2)
	assert.Equal(t, buyer.ID, f.sink.sent[0].RecipientID)
	assert.Equal(t, shared.RoleAdmin, f.sink.sent[1].RecipientRole)
}

func TestAcceptAfterValidityIsInvalidState(t *testing.T) {
	f := newFixture(t)
	q := f.quoted(t, 236)

	f.clock.Advance(31 * 24 * time.Hour)
	_, err := f.svc.Apply(context.Background(), buyer, q.ID, Accept{})
	assert.ErrorIs(t, err, shared.ErrInvalidState)
	_, err = f.svc.Apply(context.Background(), buyer, q.ID, Reject{})
	assert.ErrorIs(t, err, shared.ErrInvalidState)

	stored, err := f.repo.Get(context.Background(), q.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusQuoted, stored.Status)
}

func TestAcceptRequiresQuoted(t *testing.T) {
	f := newFixture(t)
	q := f.createPending(t)

	_, err := f.svc.Apply(context.Background(), buyer, q.ID, Accept{})
	assert.ErrorIs(t, err, shared.ErrInvalidState)
}

func TestBuyerCannotTouchOthersQuotation(t *testing.T) {
	f := newFixture(t)
	q := f.quoted(t, 236)

	_, err := f.svc.Apply(context.Background(), other, q.ID, Accept{})
	assert.ErrorIs(t, err, shared.ErrNotFound)
	_, err = f.svc.Get(context.Background(), other, q.ID)
	assert.ErrorIs(t, err, shared.ErrNotFound)
}

func TestReopenKeepsPricing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	q := f.quoted(t, 236)

	rejected, err := f.svc.Apply(ctx, buyer, q.ID, Reject{Notes: "Too expensive"})
	require.NoError(t, err)
	assert.Equal(t, StatusRejected, rejected.Status)

	_, err = f.svc.Apply(ctx, admin, q.ID, Claim{})
	assert.ErrorIs(t, err, shared.ErrInvalidState)

	reopened, err := f.svc.Reopen(ctx, admin, q.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusProcessing, reopened.Status)
	assert.Equal(t, rejected.FinancialSummary, reopened.FinancialSummary)
	assert.Equal(t, rejected.AdminResponse, reopened.AdminResponse)

	_, err = f.svc.Reopen(ctx, admin, q.ID)
	assert.ErrorIs(t, err, shared.ErrInvalidState)
}

func TestUpdateResponseRecomputesOnlyWithItems(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	q := f.createPending(t)

	out, err := f.svc.UpdateResponse(ctx, admin, q.ID, UpdateResponseRequest{PaymentTerms: ptr("Net 30")})
	require.NoError(t, err)
	assert.Equal(t, "Net 30", out.PaymentTerms)
	assert.Equal(t, q.FinancialSummary, out.FinancialSummary)

	items := sampleItems()
	items[0].Quantity = 4
	out, err = f.svc.UpdateResponse(ctx, admin, q.ID, UpdateResponseRequest{LineItems: items})
	require.NoError(t, err)
	assert.InDelta(t, 472.0, out.FinancialSummary.GrandTotal, 0.001)

	_, err = f.svc.UpdateResponse(ctx, buyer, q.ID, UpdateResponseRequest{})
	assert.ErrorIs(t, err, shared.ErrForbidden)
}

func TestUpdateResponseRejectedOnceAccepted(t *testing.T) {
	f := newFixture(t)
	q := f.quoted(t, 236)
	_, err := f.svc.Apply(context.Background(), buyer, q.ID, Accept{})
	require.NoError(t, err)

	_, err = f.svc.UpdateResponse(context.Background(), admin, q.ID, UpdateResponseRequest{Notes: ptr("late edit")})
	assert.ErrorIs(t, err, shared.ErrInvalidState)
}

func TestUpdateStatusRejectsUnsettableTargets(t *testing.T) {
	f := newFixture(t)
	q := f.createPending(t)

	for _, status := range []Status{StatusDraft, StatusPending, StatusExpired, StatusRevised} {
		_, err := f.svc.UpdateStatus(context.Background(), admin, q.ID, UpdateStatusRequest{Status: status})
		assert.ErrorIs(t, err, shared.ErrValidation, status)
	}
}

func TestExpireDueIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first := f.quoted(t, 100)
	second := f.quoted(t, 200)
	fresh := f.createPending(t)

	sweepAt := f.clock.Now().Add(31 * 24 * time.Hour)
	expired, err := f.svc.ExpireDue(ctx, sweepAt)
	require.NoError(t, err)
	assert.Equal(t, 2, expired)

	for _, q := range []*Quotation{first, second} {
		stored, err := f.repo.Get(ctx, q.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusExpired, stored.Status)
	}
	stored, err := f.repo.Get(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, stored.Status)

	expired, err = f.svc.ExpireDue(ctx, sweepAt)
	require.NoError(t, err)
	assert.Zero(t, expired)
}

func TestExpireDueSkipsQuotesStillValid(t *testing.T) {
	f := newFixture(t)
	q := f.quoted(t, 100)

	expired, err := f.svc.ExpireDue(context.Background(), f.clock.Now().Add(24*time.Hour))
	require.NoError(t, err)
	assert.Zero(t, expired)

	stored, err := f.repo.Get(context.Background(), q.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusQuoted, stored.Status)
}

func TestExpiredQuotationCanBeRequoted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	q := f.quoted(t, 100)
	f.clock.Advance(31 * 24 * time.Hour)
	_, err := f.svc.ExpireDue(ctx, f.clock.Now())
	require.NoError(t, err)

	out, err := f.svc.Apply(ctx, admin, q.ID, Quote{TotalAmount: ptr(120.0)})
	require.NoError(t, err)
	assert.Equal(t, StatusQuoted, out.Status)
	assert.True(t, out.ValidUntil.After(f.clock.Now()))
}

func TestStaleStampIsConflict(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	q := f.createPending(t)

	f.repo.setInterfere(func(stored *Quotation) {
		stored.Stamp++
	})
	_, err := f.svc.Apply(ctx, admin, q.ID, Claim{Notes: "lost race"})
	assert.ErrorIs(t, err, shared.ErrConflict)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.conflicts))

	f.repo.setInterfere(nil)
	stored, err := f.repo.Get(ctx, q.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, stored.Status)
	assert.Equal(t, q.Stamp, stored.Stamp)

	msgs, err := f.repo.ListMessages(ctx, q.ID)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestUpdateQuotationEditsContactFields(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	q := f.createPending(t)

	out, err := f.svc.UpdateQuotation(ctx, buyer, q.ID, UpdateQuotationRequest{
		BuyerPhone: ptr(" +91 98450 00000 "),
	})
	require.NoError(t, err)
	assert.Equal(t, "+91 98450 00000", out.Buyer.Phone)
	assert.Equal(t, q.Stamp+1, out.Stamp)

	out, err = f.svc.UpdateQuotation(ctx, admin, q.ID, UpdateQuotationRequest{
		DeliveryTerms: ptr("Ex-works Pune"),
	})
	require.NoError(t, err)
	assert.Equal(t, "Ex-works Pune", out.DeliveryTerms)

	_, err = f.svc.Apply(ctx, admin, q.ID, Close{})
	require.NoError(t, err)
	_, err = f.svc.UpdateQuotation(ctx, admin, q.ID, UpdateQuotationRequest{Notes: ptr("again")})
	assert.ErrorIs(t, err, shared.ErrInvalidState)
}

func TestUpdateQuotationKeepsTermsWithStaff(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	q := f.createPending(t)

	for _, req := range []UpdateQuotationRequest{
		{PaymentTerms: ptr("pay in 365 days")},
		{DeliveryTerms: ptr("free delivery")},
		{Notes: ptr("discount agreed")},
	} {
		_, err := f.svc.UpdateQuotation(ctx, buyer, q.ID, req)
		assert.ErrorIs(t, err, shared.ErrForbidden)
	}

	stored, err := f.repo.Get(ctx, q.ID)
	require.NoError(t, err)
	assert.Empty(t, stored.PaymentTerms)
	assert.Empty(t, stored.DeliveryTerms)
	assert.Equal(t, q.Stamp, stored.Stamp)
}

func TestUpdateQuotationBlockedOnceAccepted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	q := f.quoted(t, 236)
	_, err := f.svc.Apply(ctx, buyer, q.ID, Accept{})
	require.NoError(t, err)

	_, err = f.svc.UpdateQuotation(ctx, admin, q.ID, UpdateQuotationRequest{PaymentTerms: ptr("pay in 365 days")})
	assert.ErrorIs(t, err, shared.ErrInvalidState)
	_, err = f.svc.UpdateQuotation(ctx, buyer, q.ID, UpdateQuotationRequest{BuyerPhone: ptr("+91 1")})
	assert.ErrorIs(t, err, shared.ErrInvalidState)

	stored, err := f.repo.Get(ctx, q.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusAccepted, stored.Status)
	assert.Empty(t, stored.PaymentTerms)
}

func TestListScopesBuyers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.createPending(t)
	_, err := f.svc.Create(ctx, other, CreateQuotationRequest{
		Buyer:     BuyerInfo{Name: "Other", Email: "other@example.com"},
		LineItems: sampleItems(),
	}, "")
	require.NoError(t, err)

	items, total, err := f.svc.List(ctx, buyer, ListFilters{BuyerID: other.ID})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, buyer.ID, items[0].Buyer.UserID)

	_, total, err = f.svc.List(ctx, admin, ListFilters{})
	require.NoError(t, err)
	assert.Equal(t, 2, total)

	_, _, err = f.svc.List(ctx, admin, ListFilters{Status: "bogus"})
	assert.ErrorIs(t, err, shared.ErrValidation)
}

func TestNotificationFailureDoesNotUndoTransition(t *testing.T) {
	f := newFixture(t)
	f.sink.err = errors.New("inbox down")

	q := f.createPending(t)
	out, err := f.svc.Apply(context.Background(), admin, q.ID, Claim{})
	require.NoError(t, err)
	assert.Equal(t, StatusProcessing, out.Status)
	assert.Equal(t, 2.0, testutil.ToFloat64(f.metrics.notifyFailures))
}

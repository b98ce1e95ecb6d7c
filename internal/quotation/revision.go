package quotation

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/jinzhu/copier"

	"github.com/odyssey-erp/odyssey-rfq/internal/shared"
)

// CreateRevision supersedes the quotation with a new draft version. The original flips to
// revised and the revision is inserted in the same transaction, so each chain keeps exactly
// one live row.
func (s *Service) CreateRevision(ctx context.Context, actor shared.Actor, id uuid.UUID) (*RevisionResult, error) {
	now := s.clock()
	var revision *Quotation
	err := s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		original, err := repo.Get(ctx, id)
		if err != nil {
			return err
		}
		if !original.VisibleTo(actor) {
			return fmt.Errorf("%w: quotation %s", shared.ErrNotFound, id)
		}
		if original.Status == StatusRevised {
			return fmt.Errorf("%w: quotation %s v%d is already revised", shared.ErrInvalidState, original.QuotationNumber, original.Version)
		}

		rev, err := newRevision(original, actor, now)
		if err != nil {
			return err
		}

		original.Status = StatusRevised
		original.LastModifiedBy = actor.ID
		original.UpdatedAt = now
		if err := repo.Save(ctx, original); err != nil {
			return err
		}
		if err := repo.Insert(ctx, rev); err != nil {
			return err
		}
		revision = rev
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.status(StatusRevised)
	s.logger.Info("quotation revised",
		slog.String("quotation", revision.QuotationNumber),
		slog.Int("version", revision.Version),
		slog.String("by", actor.ID))
	s.notifier.Revised(ctx, revision)
	return &RevisionResult{RevisionID: revision.ID, Version: revision.Version}, nil
}

// newRevision copies the negotiable content of original into a fresh draft version.
func newRevision(original *Quotation, actor shared.Actor, now time.Time) (*Quotation, error) {
	rev, err := cloneQuotation(original)
	if err != nil {
		return nil, err
	}
	parent := original.ID
	rev.ID = uuid.New()
	rev.Version = original.Version + 1
	rev.RootID = original.RootID
	rev.ParentID = &parent
	rev.Status = StatusDraft
	rev.ThreadStatus = ThreadActive
	rev.ValidFrom = nil
	rev.ValidUntil = nil
	rev.ClosureRequestedBy = ""
	rev.ClosureRequestedAt = nil
	rev.ThreadClosedBy = ""
	rev.ThreadClosedAt = nil
	rev.CreatedBy = actor.ID
	rev.LastModifiedBy = actor.ID
	rev.CreatedAt = now
	rev.UpdatedAt = now
	rev.Stamp = 0
	return rev, nil
}

// cloneQuotation returns a copy of src that shares no slices or pointers with it.
func cloneQuotation(src *Quotation) (*Quotation, error) {
	// copier cannot assign *uuid.UUID, ParentID is copied by hand.
	shallow := *src
	shallow.ParentID = nil

	dst := &Quotation{}
	if err := copier.Copy(dst, &shallow); err != nil {
		return nil, fmt.Errorf("copy quotation: %w", err)
	}
	if src.ParentID != nil {
		parent := *src.ParentID
		dst.ParentID = &parent
	}
	dst.LineItems = cloneLineItems(src.LineItems)
	dst.TaxDetails = slices.Clone(src.TaxDetails)
	dst.ValidFrom = cloneTime(src.ValidFrom)
	dst.ValidUntil = cloneTime(src.ValidUntil)
	dst.ClosureRequestedAt = cloneTime(src.ClosureRequestedAt)
	dst.ThreadClosedAt = cloneTime(src.ThreadClosedAt)
	dst.AdminResponse = nil
	if src.AdminResponse != nil {
		resp := *src.AdminResponse
		resp.TaxDetails = slices.Clone(src.AdminResponse.TaxDetails)
		resp.GSTDetails = slices.Clone(src.AdminResponse.GSTDetails)
		dst.AdminResponse = &resp
	}
	return dst, nil
}

func cloneLineItems(items []LineItem) []LineItem {
	if items == nil {
		return nil
	}
	out := make([]LineItem, len(items))
	for i, item := range items {
		out[i] = item
		if item.Discount != nil {
			d := *item.Discount
			out[i].Discount = &d
		}
	}
	return out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

package quotation

import (
	"fmt"
	"slices"
	"time"

	"github.com/odyssey-erp/odyssey-rfq/internal/quotation/pricing"
	"github.com/odyssey-erp/odyssey-rfq/internal/shared"
)

// Command is one legal status transition requested by a caller.
type Command interface {
	Target() Status
}

// Claim moves a request into processing and assigns it to the acting staff member.
type Claim struct {
	Notes string
}

// Quote prices the quotation and opens its validity window.
type Quote struct {
	TotalAmount *float64
	ValidUntil  *time.Time
	Notes       string
	GSTDetails  []pricing.TaxComponent
	InterState  bool
}

// Accept records the buyer's acceptance of the current quote.
type Accept struct {
	Notes string
}

// Reject records the buyer's refusal of the current quote.
type Reject struct {
	Notes string
}

// Close ends the negotiation.
type Close struct {
	Notes string
}

func (Claim) Target() Status  { return StatusProcessing }
func (Quote) Target() Status  { return StatusQuoted }
func (Accept) Target() Status { return StatusAccepted }
func (Reject) Target() Status { return StatusRejected }
func (Close) Target() Status  { return StatusClosed }

// CommandFromRequest translates a status update into its typed command. Targets that are
// not caller-settable (draft, pending, expired, revised) are rejected.
func CommandFromRequest(req UpdateStatusRequest) (Command, error) {
	notes := ""
	if req.Notes != nil {
		notes = *req.Notes
	}
	switch req.Status {
	case StatusProcessing:
		return Claim{Notes: notes}, nil
	case StatusQuoted:
		return Quote{
			TotalAmount: req.TotalAmount,
			ValidUntil:  req.ValidUntil,
			Notes:       notes,
			GSTDetails:  req.GSTDetails,
			InterState:  req.InterState,
		}, nil
	case StatusAccepted:
		return Accept{Notes: notes}, nil
	case StatusRejected:
		return Reject{Notes: notes}, nil
	case StatusClosed:
		return Close{Notes: notes}, nil
	}
	return nil, fmt.Errorf("%w: status %q cannot be set directly", shared.ErrValidation, req.Status)
}

// transitions lists the source statuses each target may be entered from.
var transitions = map[Status][]Status{
	StatusPending:    {StatusDraft},
	StatusProcessing: {StatusDraft, StatusPending, StatusProcessing},
	StatusQuoted:     {StatusDraft, StatusPending, StatusProcessing, StatusQuoted, StatusExpired},
	StatusAccepted:   {StatusQuoted},
	StatusRejected:   {StatusQuoted},
	StatusExpired:    {StatusQuoted},
	StatusClosed: {
		StatusDraft, StatusPending, StatusProcessing, StatusQuoted,
		StatusAccepted, StatusRejected, StatusExpired,
	},
}

// reopenable is the only backwards edge outside revisioning.
const reopenable = StatusRejected

// CanTransition reports whether from → to is a legal edge.
func CanTransition(from, to Status) bool {
	if from == StatusRejected && to == StatusProcessing {
		return true
	}
	return slices.Contains(transitions[to], from)
}

func checkTransition(q *Quotation, to Status) error {
	if to == StatusProcessing && q.Status == reopenable {
		return fmt.Errorf("%w: rejected quotation %s must be reopened", shared.ErrInvalidState, q.QuotationNumber)
	}
	if !slices.Contains(transitions[to], q.Status) {
		return fmt.Errorf("%w: cannot move quotation %s from %s to %s", shared.ErrInvalidState, q.QuotationNumber, q.Status, to)
	}
	return nil
}

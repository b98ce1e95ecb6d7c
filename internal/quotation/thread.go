package quotation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-rfq/internal/shared"
)

// threadStep describes one edge of the closure handshake.
type threadStep struct {
	from    ThreadStatus
	to      ThreadStatus
	kind    MessageType
	content string
	role    shared.Role
}

var (
	stepRequestClosure = threadStep{
		from:    ThreadActive,
		to:      ThreadAwaitingUserPermission,
		kind:    MessageClosureRequest,
		content: "Our team has requested to close this conversation.",
		role:    shared.RoleAdmin,
	}
	stepGrantClosure = threadStep{
		from:    ThreadAwaitingUserPermission,
		to:      ThreadUserApprovedClosure,
		kind:    MessageClosurePermissionGranted,
		content: "The buyer agreed to close this conversation.",
		role:    shared.RoleUser,
	}
	stepRejectClosure = threadStep{
		from:    ThreadAwaitingUserPermission,
		to:      ThreadActive,
		kind:    MessageClosurePermissionRejected,
		content: "The buyer declined to close this conversation. Negotiation continues.",
		role:    shared.RoleUser,
	}
	stepCloseThread = threadStep{
		from:    ThreadUserApprovedClosure,
		to:      ThreadClosed,
		kind:    MessageThreadClosed,
		content: "This conversation has been closed.",
		role:    shared.RoleAdmin,
	}
)

// RequestClosure asks the buyer for permission to close an active thread.
func (s *Service) RequestClosure(ctx context.Context, actor shared.Actor, id uuid.UUID) (*Message, error) {
	return s.threadTransition(ctx, actor, id, stepRequestClosure)
}

// GrantClosurePermission records the buyer's consent to close.
func (s *Service) GrantClosurePermission(ctx context.Context, actor shared.Actor, id uuid.UUID) (*Message, error) {
	return s.threadTransition(ctx, actor, id, stepGrantClosure)
}

// RejectClosureRequest returns the thread to active.
func (s *Service) RejectClosureRequest(ctx context.Context, actor shared.Actor, id uuid.UUID) (*Message, error) {
	return s.threadTransition(ctx, actor, id, stepRejectClosure)
}

// CloseThread closes a thread the buyer agreed to close.
func (s *Service) CloseThread(ctx context.Context, actor shared.Actor, id uuid.UUID) (*Message, error) {
	return s.threadTransition(ctx, actor, id, stepCloseThread)
}

func (s *Service) threadTransition(ctx context.Context, actor shared.Actor, id uuid.UUID, step threadStep) (*Message, error) {
	if actor.Role != step.role {
		return nil, fmt.Errorf("%w: %s requires the %s side", shared.ErrForbidden, step.to, step.role)
	}
	var msg *Message
	q, err := s.mutate(ctx, actor, id, s.clock(), func(ctx context.Context, repo Repository, q *Quotation, now time.Time) error {
		if !q.VisibleTo(actor) {
			return fmt.Errorf("%w: quotation %s", shared.ErrNotFound, id)
		}
		if q.ThreadStatus != step.from {
			return fmt.Errorf("%w: thread of %s is %s, expected %s", shared.ErrInvalidState, q.QuotationNumber, q.ThreadStatus, step.from)
		}
		q.ThreadStatus = step.to
		switch step.to {
		case ThreadAwaitingUserPermission:
			at := now
			q.ClosureRequestedBy = actor.ID
			q.ClosureRequestedAt = &at
		case ThreadActive:
			q.ClosureRequestedBy = ""
			q.ClosureRequestedAt = nil
		case ThreadClosed:
			at := now
			q.ThreadClosedBy = actor.ID
			q.ThreadClosedAt = &at
		}
		msg = systemMessage(q, actor, step.kind, step.content, now)
		return repo.InsertMessage(ctx, msg)
	})
	if err != nil {
		return nil, err
	}

	s.metrics.thread(q.ThreadStatus)
	s.logger.Info("quotation thread changed",
		slog.String("quotation", q.QuotationNumber),
		slog.String("thread_status", string(q.ThreadStatus)),
		slog.String("by", actor.ID))
	s.notifier.ThreadChanged(ctx, q)
	return msg, nil
}

// PostMessage appends a user-authored message. Messages are accepted only while the thread
// is active, and the stamp bump serialises them against closure transitions.
func (s *Service) PostMessage(ctx context.Context, actor shared.Actor, id uuid.UUID, req PostMessageRequest) (*Message, error) {
	req.Content = strings.TrimSpace(req.Content)
	if err := s.check(req); err != nil {
		return nil, err
	}
	var msg *Message
	q, err := s.mutate(ctx, actor, id, s.clock(), func(ctx context.Context, repo Repository, q *Quotation, now time.Time) error {
		if !q.VisibleTo(actor) {
			return fmt.Errorf("%w: quotation %s", shared.ErrNotFound, id)
		}
		if q.ThreadStatus != ThreadActive {
			return fmt.Errorf("%w: thread of %s is %s", shared.ErrInvalidState, q.QuotationNumber, q.ThreadStatus)
		}
		msg = systemMessage(q, actor, MessageText, req.Content, now)
		return repo.InsertMessage(ctx, msg)
	})
	if err != nil {
		return nil, err
	}
	s.notifier.MessagePosted(ctx, q, msg)
	return msg, nil
}

// ListMessages returns the thread in posting order.
func (s *Service) ListMessages(ctx context.Context, actor shared.Actor, id uuid.UUID) ([]Message, error) {
	if _, err := s.Get(ctx, actor, id); err != nil {
		return nil, err
	}
	return s.repo.ListMessages(ctx, id)
}

// MarkThreadRead sets the actor side's read flag on every message. Each side owns its own
// flag, so this write does not take part in the stamp check.
func (s *Service) MarkThreadRead(ctx context.Context, actor shared.Actor, id uuid.UUID) (int64, error) {
	if _, err := s.Get(ctx, actor, id); err != nil {
		return 0, err
	}
	return s.repo.MarkMessagesRead(ctx, id, actor.Role, s.clock())
}

// UnreadCount returns how many messages the actor's side has not read.
func (s *Service) UnreadCount(ctx context.Context, actor shared.Actor, id uuid.UUID) (int, error) {
	if _, err := s.Get(ctx, actor, id); err != nil {
		return 0, err
	}
	return s.repo.CountUnread(ctx, id, actor.Role)
}

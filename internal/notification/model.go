// Package notification persists in-app notifications and schedules their push delivery.
package notification

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-rfq/internal/shared"
)

// Type classifies a notification for client-side routing.
type Type string

const (
	TypeQuotationRequest Type = "quotation_request"
	TypeQuotationUpdate  Type = "quotation_update"
	TypeQuotationMessage Type = "quotation_message"
	TypeQuotationThread  Type = "quotation_thread"
)

// Priority orders notifications in the recipient's inbox.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

// Notification is addressed either to a single user or to every holder of a role.
type Notification struct {
	ID            uuid.UUID   `json:"id"`
	Type          Type        `json:"type"`
	Title         string      `json:"title"`
	Message       string      `json:"message"`
	RecipientID   string      `json:"recipient_id,omitempty"`
	RecipientRole shared.Role `json:"recipient_role,omitempty"`
	Priority      Priority    `json:"priority"`
	QuotationID   *uuid.UUID  `json:"quotation_id,omitempty"`
	CreatedAt     time.Time   `json:"created_at"`
	ReadAt        *time.Time  `json:"read_at,omitempty"`
}

// Audience returns the label used for metrics and logs.
func (n Notification) Audience() string {
	if n.RecipientID != "" {
		return "user"
	}
	return string(n.RecipientRole)
}

// Sink accepts notifications for delivery.
type Sink interface {
	Send(ctx context.Context, n Notification) error
}

// ListFilters narrows an inbox listing.
type ListFilters struct {
	UnreadOnly bool
	Limit      int
	Offset     int
}

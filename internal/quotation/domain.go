// Package quotation implements the RFQ negotiation workflow: the quotation status machine,
// revisioning, the message thread with its two-party closure handshake, and the
// notifications each outcome produces.
package quotation

import (
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-rfq/internal/quotation/pricing"
	"github.com/odyssey-erp/odyssey-rfq/internal/shared"
)

// ============================================================================
// STATUS
// ============================================================================

type Status string

const (
	StatusDraft      Status = "draft"
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusQuoted     Status = "quoted"
	StatusAccepted   Status = "accepted"
	StatusRejected   Status = "rejected"
	StatusExpired    Status = "expired"
	StatusClosed     Status = "closed"
	StatusRevised    Status = "revised"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusDraft, StatusPending, StatusProcessing, StatusQuoted, StatusAccepted,
		StatusRejected, StatusExpired, StatusClosed, StatusRevised:
		return true
	}
	return false
}

type ThreadStatus string

const (
	ThreadActive                 ThreadStatus = "active"
	ThreadAwaitingUserPermission ThreadStatus = "awaiting_user_permission"
	ThreadUserApprovedClosure    ThreadStatus = "user_approved_closure"
	ThreadClosed                 ThreadStatus = "closed"
)

type MessageType string

const (
	MessageText                      MessageType = "message"
	MessageSystemNotification        MessageType = "system_notification"
	MessageClosureRequest            MessageType = "closure_request"
	MessageClosurePermissionGranted  MessageType = "closure_permission_granted"
	MessageClosurePermissionRejected MessageType = "closure_permission_rejected"
	MessageThreadClosed              MessageType = "thread_closed"
)

// ============================================================================
// QUOTATION
// ============================================================================

type BuyerInfo struct {
	UserID      string `json:"user_id" validate:"omitempty,max=100"`
	Name        string `json:"name" validate:"required,max=200"`
	Email       string `json:"email" validate:"required,email"`
	Phone       string `json:"phone,omitempty" validate:"omitempty,max=50"`
	CompanyName string `json:"company_name,omitempty" validate:"omitempty,max=200"`
	Address     string `json:"address,omitempty" validate:"omitempty,max=500"`
	GSTIN       string `json:"gstin,omitempty" validate:"omitempty,len=15"`
}

// VendorProfile is the seller snapshot copied onto every quotation at creation.
type VendorProfile struct {
	CompanyName string `json:"company_name"`
	Address     string `json:"address,omitempty"`
	GSTIN       string `json:"gstin,omitempty"`
	PAN         string `json:"pan,omitempty"`
	Email       string `json:"email,omitempty"`
	Phone       string `json:"phone,omitempty"`
	State       string `json:"state,omitempty"`
}

type LineItem struct {
	ProductID string            `json:"product_id" validate:"required,max=100"`
	Name      string            `json:"name" validate:"required,max=200"`
	Quantity  float64           `json:"quantity" validate:"gt=0"`
	Unit      string            `json:"unit,omitempty" validate:"omitempty,max=20"`
	UnitPrice float64           `json:"unit_price" validate:"gte=0"`
	TaxRate   float64           `json:"tax_rate" validate:"gte=0,lte=100"`
	Discount  *pricing.Discount `json:"discount,omitempty" validate:"omitempty"`
	LineTotal float64           `json:"line_total"`
}

// LegacyProduct is the unpriced cart entry older clients submit instead of line items.
type LegacyProduct struct {
	ProductID string  `json:"product_id" validate:"required,max=100"`
	Name      string  `json:"name" validate:"required,max=200"`
	Quantity  float64 `json:"quantity" validate:"gt=0"`
	Unit      string  `json:"unit,omitempty" validate:"omitempty,max=20"`
}

// AdminResponse is the snapshot of the last quote offered to the buyer.
type AdminResponse struct {
	Amount        float64                `json:"amount"`
	ValidUntil    time.Time              `json:"valid_until"`
	TaxDetails    []pricing.TaxDetail    `json:"tax_details"`
	GSTDetails    []pricing.TaxComponent `json:"gst_details"`
	Notes         string                 `json:"notes,omitempty"`
	PaymentTerms  string                 `json:"payment_terms,omitempty"`
	DeliveryTerms string                 `json:"delivery_terms,omitempty"`
	QuotedBy      string                 `json:"quoted_by"`
	QuotedAt      time.Time              `json:"quoted_at"`
}

type Quotation struct {
	ID               uuid.UUID           `json:"id"`
	QuotationNumber  string              `json:"quotation_number"`
	Version          int                 `json:"version"`
	RootID           uuid.UUID           `json:"root_id"`
	ParentID         *uuid.UUID          `json:"parent_id,omitempty"`
	Buyer            BuyerInfo           `json:"buyer"`
	Vendor           VendorProfile       `json:"vendor"`
	LineItems        []LineItem          `json:"line_items"`
	FinancialSummary pricing.Summary     `json:"financial_summary"`
	TaxDetails       []pricing.TaxDetail `json:"tax_details"`
	Status           Status              `json:"status"`
	ThreadStatus     ThreadStatus        `json:"thread_status"`
	ValidFrom        *time.Time          `json:"valid_from,omitempty"`
	ValidUntil       *time.Time          `json:"valid_until,omitempty"`
	AdminResponse    *AdminResponse      `json:"admin_response,omitempty"`
	PaymentTerms     string              `json:"payment_terms,omitempty"`
	DeliveryTerms    string              `json:"delivery_terms,omitempty"`
	Notes            string              `json:"notes,omitempty"`
	AssignedTo       string              `json:"assigned_to,omitempty"`

	ClosureRequestedBy string     `json:"closure_requested_by,omitempty"`
	ClosureRequestedAt *time.Time `json:"closure_requested_at,omitempty"`
	ThreadClosedBy     string     `json:"thread_closed_by,omitempty"`
	ThreadClosedAt     *time.Time `json:"thread_closed_at,omitempty"`

	CreatedBy      string    `json:"created_by"`
	LastModifiedBy string    `json:"last_modified_by"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
	Stamp          int64     `json:"stamp"`
}

// OwnedBy reports whether the buyer side of q is userID.
func (q *Quotation) OwnedBy(userID string) bool {
	return q != nil && userID != "" && q.Buyer.UserID == userID
}

// VisibleTo reports whether actor may see q. Staff see everything, buyers their own.
func (q *Quotation) VisibleTo(actor shared.Actor) bool {
	return actor.IsAdmin() || q.OwnedBy(actor.ID)
}

// Expired reports whether the validity window closed before now.
func (q *Quotation) Expired(now time.Time) bool {
	return q.ValidUntil != nil && q.ValidUntil.Before(now)
}

type Message struct {
	ID            uuid.UUID   `json:"id"`
	QuotationID   uuid.UUID   `json:"quotation_id"`
	AuthorID      string      `json:"author_id"`
	AuthorRole    shared.Role `json:"author_role"`
	Content       string      `json:"content"`
	MessageType   MessageType `json:"message_type"`
	IsReadByUser  bool        `json:"is_read_by_user"`
	IsReadByAdmin bool        `json:"is_read_by_admin"`
	CreatedAt     time.Time   `json:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at"`
}

// ============================================================================
// REQUESTS
// ============================================================================

type CreateQuotationRequest struct {
	Buyer          BuyerInfo       `json:"buyer"`
	LineItems      []LineItem      `json:"line_items,omitempty" validate:"omitempty,dive"`
	LegacyProducts []LegacyProduct `json:"products,omitempty" validate:"omitempty,dive"`
	Currency       string          `json:"currency,omitempty" validate:"omitempty,len=3"`
	Notes          string          `json:"notes,omitempty" validate:"omitempty,max=2000"`
}

type CreateResult struct {
	ID              uuid.UUID `json:"id"`
	QuotationNumber string    `json:"quotation_number"`
}

// UpdateResponseRequest carries staff edits to pricing and terms. A nil LineItems leaves
// the items and the financial summary untouched.
type UpdateResponseRequest struct {
	LineItems     []LineItem `json:"line_items,omitempty" validate:"omitempty,dive"`
	PaymentTerms  *string    `json:"payment_terms,omitempty" validate:"omitempty,max=2000"`
	DeliveryTerms *string    `json:"delivery_terms,omitempty" validate:"omitempty,max=2000"`
	Notes         *string    `json:"notes,omitempty" validate:"omitempty,max=2000"`
	Currency      *string    `json:"currency,omitempty" validate:"omitempty,len=3"`
}

type UpdateStatusRequest struct {
	Status      Status                 `json:"status" validate:"required"`
	Notes       *string                `json:"notes,omitempty" validate:"omitempty,max=2000"`
	TotalAmount *float64               `json:"total_amount,omitempty" validate:"omitempty,gte=0"`
	ValidUntil  *time.Time             `json:"valid_until,omitempty"`
	GSTDetails  []pricing.TaxComponent `json:"gst_details,omitempty"`
	InterState  bool                   `json:"inter_state,omitempty"`
}

// UpdateQuotationRequest is the closed set of fields editable outside the status machine.
type UpdateQuotationRequest struct {
	BuyerName        *string `json:"buyer_name,omitempty" validate:"omitempty,min=1,max=200"`
	BuyerEmail       *string `json:"buyer_email,omitempty" validate:"omitempty,email"`
	BuyerPhone       *string `json:"buyer_phone,omitempty" validate:"omitempty,max=50"`
	BuyerCompanyName *string `json:"buyer_company_name,omitempty" validate:"omitempty,max=200"`
	BuyerAddress     *string `json:"buyer_address,omitempty" validate:"omitempty,max=500"`
	BuyerGSTIN       *string `json:"buyer_gstin,omitempty" validate:"omitempty,len=15"`
	Notes            *string `json:"notes,omitempty" validate:"omitempty,max=2000"`
	PaymentTerms     *string `json:"payment_terms,omitempty" validate:"omitempty,max=2000"`
	DeliveryTerms    *string `json:"delivery_terms,omitempty" validate:"omitempty,max=2000"`
}

// touchesTerms reports whether the patch edits staff-owned fields.
func (r UpdateQuotationRequest) touchesTerms() bool {
	return r.Notes != nil || r.PaymentTerms != nil || r.DeliveryTerms != nil
}

type PostMessageRequest struct {
	Content string `json:"content" validate:"required,max=5000"`
}

type ListFilters struct {
	BuyerID string
	Status  Status
	Limit   int
	Offset  int
}

type RevisionResult struct {
	RevisionID uuid.UUID `json:"revision_id"`
	Version    int       `json:"version"`
}

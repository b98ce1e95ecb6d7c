package quotation

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/odyssey-erp/odyssey-rfq/internal/notification"
	"github.com/odyssey-erp/odyssey-rfq/internal/shared"
)

// Notifier turns workflow outcomes into notifications. Delivery failures are logged and
// counted, never returned, so a failed notification cannot undo a committed transition.
type Notifier struct {
	sink    notification.Sink
	logger  *slog.Logger
	metrics *Metrics
	printer *message.Printer
}

// NewNotifier builds a notifier over sink. A nil sink disables notifications.
func NewNotifier(sink notification.Sink, logger *slog.Logger, metrics *Metrics) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{
		sink:    sink,
		logger:  logger,
		metrics: metrics,
		printer: message.NewPrinter(language.English),
	}
}

// RequestCreated tells every admin about a new or newly submitted request.
func (n *Notifier) RequestCreated(ctx context.Context, q *Quotation) {
	who := q.Buyer.CompanyName
	if who == "" {
		who = q.Buyer.Name
	}
	n.send(ctx, q, notification.Notification{
		Type:          notification.TypeQuotationRequest,
		Title:         "New Quotation Request",
		Message:       n.printer.Sprintf("%s requested quotation %s for %d item(s).", who, q.QuotationNumber, len(q.LineItems)),
		RecipientRole: shared.RoleAdmin,
		Priority:      notification.PriorityHigh,
	})
}

// StatusChanged emits the copy for the status q just entered.
func (n *Notifier) StatusChanged(ctx context.Context, q *Quotation) {
	number := q.QuotationNumber
	switch q.Status {
	case StatusPending:
		n.RequestCreated(ctx, q)
	case StatusProcessing:
		n.toBuyer(ctx, q, "Quotation In Progress",
			n.printer.Sprintf("Our team has started working on quotation %s.", number), notification.PriorityNormal)
	case StatusQuoted:
		n.toBuyer(ctx, q, "Quotation Ready",
			n.printer.Sprintf("Quotation %s is ready: %s, valid until %s.", number, n.amount(q), formatDate(q.ValidUntil)),
			notification.PriorityHigh)
	case StatusAccepted:
		n.toBuyer(ctx, q, "Quotation Accepted",
			n.printer.Sprintf("Quotation %s has been accepted. Our team will contact you to arrange the order.", number),
			notification.PriorityHigh)
		n.toAdmins(ctx, q, "Quotation Accepted",
			n.printer.Sprintf("%s accepted quotation %s worth %s.", q.Buyer.Name, number, n.amount(q)), notification.PriorityHigh)
	case StatusRejected:
		n.toBuyer(ctx, q, "Quotation Rejected",
			n.printer.Sprintf("Quotation %s has been rejected. You can ask for it to be reconsidered.", number),
			notification.PriorityNormal)
		n.toAdmins(ctx, q, "Quotation Rejected",
			n.printer.Sprintf("%s rejected quotation %s.", q.Buyer.Name, number), notification.PriorityNormal)
	case StatusExpired:
		n.toBuyer(ctx, q, "Quotation Expired",
			n.printer.Sprintf("Quotation %s expired on %s. Request a revision to continue.", number, formatDate(q.ValidUntil)),
			notification.PriorityLow)
	case StatusClosed:
		n.toBuyer(ctx, q, "Quotation Closed",
			n.printer.Sprintf("Quotation %s has been closed.", number), notification.PriorityNormal)
	}
}

// Revised tells the buyer a new version of their quotation exists.
func (n *Notifier) Revised(ctx context.Context, revision *Quotation) {
	n.toBuyer(ctx, revision, "Quotation Revised",
		n.printer.Sprintf("Quotation %s has a new revision (v%d).", revision.QuotationNumber, revision.Version),
		notification.PriorityNormal)
}

// ThreadChanged emits the closure handshake copy for the thread state q just entered.
func (n *Notifier) ThreadChanged(ctx context.Context, q *Quotation) {
	number := q.QuotationNumber
	var title, body string
	var toBuyer bool
	priority := notification.PriorityNormal
	switch q.ThreadStatus {
	case ThreadAwaitingUserPermission:
		title, toBuyer, priority = "Closure Requested", true, notification.PriorityHigh
		body = n.printer.Sprintf("Our team asked to close the conversation on quotation %s. Please grant or decline.", number)
	case ThreadUserApprovedClosure:
		title = "Closure Approved"
		body = n.printer.Sprintf("%s agreed to close the conversation on quotation %s.", q.Buyer.Name, number)
	case ThreadActive:
		title = "Closure Declined"
		body = n.printer.Sprintf("%s wants to keep negotiating quotation %s.", q.Buyer.Name, number)
	case ThreadClosed:
		title, toBuyer = "Conversation Closed", true
		body = n.printer.Sprintf("The conversation on quotation %s has been closed.", number)
	default:
		return
	}
	out := notification.Notification{Type: notification.TypeQuotationThread, Title: title, Message: body, Priority: priority}
	if toBuyer {
		out.RecipientID = q.Buyer.UserID
	} else {
		out.RecipientRole = shared.RoleAdmin
	}
	n.send(ctx, q, out)
}

// MessagePosted notifies the counterparty of a new message.
func (n *Notifier) MessagePosted(ctx context.Context, q *Quotation, m *Message) {
	out := notification.Notification{
		Type:     notification.TypeQuotationMessage,
		Title:    "New Message",
		Message:  n.printer.Sprintf("New message on quotation %s: %s", q.QuotationNumber, preview(m.Content)),
		Priority: notification.PriorityNormal,
	}
	if m.AuthorRole == shared.RoleAdmin {
		out.RecipientID = q.Buyer.UserID
	} else {
		out.RecipientRole = shared.RoleAdmin
	}
	n.send(ctx, q, out)
}

func (n *Notifier) toBuyer(ctx context.Context, q *Quotation, title, body string, priority notification.Priority) {
	n.send(ctx, q, notification.Notification{
		Type:        notification.TypeQuotationUpdate,
		Title:       title,
		Message:     body,
		RecipientID: q.Buyer.UserID,
		Priority:    priority,
	})
}

func (n *Notifier) toAdmins(ctx context.Context, q *Quotation, title, body string, priority notification.Priority) {
	n.send(ctx, q, notification.Notification{
		Type:          notification.TypeQuotationUpdate,
		Title:         title,
		Message:       body,
		RecipientRole: shared.RoleAdmin,
		Priority:      priority,
	})
}

func (n *Notifier) send(ctx context.Context, q *Quotation, out notification.Notification) {
	if n == nil || n.sink == nil {
		return
	}
	if out.RecipientID == "" && out.RecipientRole == "" {
		n.logger.Warn("notification without recipient dropped",
			slog.String("quotation", q.QuotationNumber), slog.String("title", out.Title))
		return
	}
	id := q.ID
	out.QuotationID = &id
	out.ID = uuid.New()
	if err := n.sink.Send(ctx, out); err != nil {
		n.metrics.notifyFailed()
		n.logger.Error("send quotation notification",
			slog.String("quotation", q.QuotationNumber),
			slog.String("title", out.Title),
			slog.Any("error", err))
	}
}

func (n *Notifier) amount(q *Quotation) string {
	value := q.FinancialSummary.GrandTotal
	if q.AdminResponse != nil && q.AdminResponse.Amount > 0 {
		value = q.AdminResponse.Amount
	}
	return formatMoney(n.printer, q.FinancialSummary.Currency, value)
}

func formatMoney(p *message.Printer, code string, value float64) string {
	unit, err := currency.ParseISO(code)
	if err != nil {
		return p.Sprintf("%.2f %s", value, code)
	}
	return p.Sprint(currency.Symbol(unit.Amount(value)))
}

func formatDate(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Format("02 Jan 2006")
}

func preview(content string) string {
	runes := []rune(content)
	if len(runes) <= 80 {
		return content
	}
	return string(runes[:77]) + "..."
}

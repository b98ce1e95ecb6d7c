package quotation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"text/template"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/odyssey-erp/odyssey-rfq/internal/shared"
	"github.com/odyssey-erp/odyssey-rfq/jobs"
)

// Mailer enqueues outbound email. *jobs.Client satisfies it.
type Mailer interface {
	EnqueueSendEmail(ctx context.Context, payload jobs.SendEmailPayload) (*asynq.TaskInfo, error)
}

var quoteEmail = template.Must(template.New("quote").Parse(`Dear {{.BuyerName}},

Thank you for your enquiry. Please find our quotation {{.Number}} (version {{.Version}}) below.

{{range .Items}}- {{.Name}}: {{.Quantity}} {{.Unit}} x {{.UnitPrice}} = {{.LineTotal}}
{{end}}
Subtotal:       {{.Subtotal}}
Discount:       {{.Discount}}
Taxable amount: {{.Taxable}}
{{range .Taxes}}{{.Name}} @ {{.Rate}}%: {{.Amount}}
{{end}}Quoted amount:  {{.Amount}}
Valid until:    {{.ValidUntil}}
{{if .PaymentTerms}}
Payment terms:  {{.PaymentTerms}}{{end}}{{if .DeliveryTerms}}
Delivery terms: {{.DeliveryTerms}}{{end}}{{if .Notes}}

{{.Notes}}{{end}}

Regards,
{{.Vendor}}
`))

type emailLine struct {
	Name, Quantity, Unit, UnitPrice, LineTotal string
}

type emailTax struct {
	Name, Rate, Amount string
}

type emailView struct {
	BuyerName     string
	Number        string
	Version       int
	Vendor        string
	Items         []emailLine
	Taxes         []emailTax
	Subtotal      string
	Discount      string
	Taxable       string
	Amount        string
	ValidUntil    string
	PaymentTerms  string
	DeliveryTerms string
	Notes         string
}

// SendQuoteEmail renders the last quote offered on the quotation and queues it for delivery
// to the buyer.
func (s *Service) SendQuoteEmail(ctx context.Context, actor shared.Actor, id uuid.UUID) error {
	if err := requireAdmin(actor); err != nil {
		return err
	}
	if s.mailer == nil {
		return fmt.Errorf("%w: outbound email is not configured", shared.ErrInvalidState)
	}
	q, err := s.Get(ctx, actor, id)
	if err != nil {
		return err
	}
	if q.AdminResponse == nil {
		return fmt.Errorf("%w: quotation %s has not been quoted", shared.ErrInvalidState, q.QuotationNumber)
	}
	body, err := RenderQuoteEmail(q)
	if err != nil {
		return err
	}
	info, err := s.mailer.EnqueueSendEmail(ctx, jobs.SendEmailPayload{
		To:      q.Buyer.Email,
		Subject: fmt.Sprintf("Quotation %s from %s", q.QuotationNumber, q.Vendor.CompanyName),
		Body:    body,
	})
	if err != nil {
		return fmt.Errorf("enqueue quote email: %w", err)
	}
	taskID := ""
	if info != nil {
		taskID = info.ID
	}
	s.logger.Info("quote email queued",
		slog.String("quotation", q.QuotationNumber),
		slog.String("task_id", taskID))
	return nil
}

// RenderQuoteEmail renders the plain-text quote email from the admin response snapshot.
func RenderQuoteEmail(q *Quotation) (string, error) {
	if q.AdminResponse == nil {
		return "", fmt.Errorf("%w: no quote to render", shared.ErrInvalidState)
	}
	p := message.NewPrinter(language.English)
	code := q.FinancialSummary.Currency
	resp := q.AdminResponse

	view := emailView{
		BuyerName:     q.Buyer.Name,
		Number:        q.QuotationNumber,
		Version:       q.Version,
		Vendor:        q.Vendor.CompanyName,
		Subtotal:      formatMoney(p, code, q.FinancialSummary.Subtotal),
		Discount:      formatMoney(p, code, q.FinancialSummary.TotalDiscount),
		Taxable:       formatMoney(p, code, q.FinancialSummary.TaxableAmount),
		Amount:        formatMoney(p, code, resp.Amount),
		ValidUntil:    formatDate(&resp.ValidUntil),
		PaymentTerms:  resp.PaymentTerms,
		DeliveryTerms: resp.DeliveryTerms,
		Notes:         resp.Notes,
	}
	for _, li := range q.LineItems {
		view.Items = append(view.Items, emailLine{
			Name:      li.Name,
			Quantity:  p.Sprint(li.Quantity),
			Unit:      li.Unit,
			UnitPrice: formatMoney(p, code, li.UnitPrice),
			LineTotal: formatMoney(p, code, li.LineTotal),
		})
	}
	for _, c := range resp.GSTDetails {
		view.Taxes = append(view.Taxes, emailTax{
			Name:   c.Name,
			Rate:   p.Sprint(c.Rate),
			Amount: formatMoney(p, code, c.TaxAmount),
		})
	}

	var b strings.Builder
	if err := quoteEmail.Execute(&b, view); err != nil {
		return "", fmt.Errorf("render quote email: %w", err)
	}
	return b.String(), nil
}

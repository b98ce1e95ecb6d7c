package quotation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-rfq/internal/platform/db"
	"github.com/odyssey-erp/odyssey-rfq/internal/quotation/pricing"
	"github.com/odyssey-erp/odyssey-rfq/internal/shared"
)

// Repository is the quotation document store.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, Repository) error) error
	Get(ctx context.Context, id uuid.UUID) (*Quotation, error)
	GetLatestByNumber(ctx context.Context, number string) (*Quotation, error)
	GetLatestInChain(ctx context.Context, rootID uuid.UUID) (*Quotation, error)
	List(ctx context.Context, filters ListFilters) ([]Quotation, int, error)
	Insert(ctx context.Context, q *Quotation) error
	// Save writes q if its stamp still matches the stored row and advances q.Stamp.
	Save(ctx context.Context, q *Quotation) error
	ListExpiryCandidates(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error)

	InsertMessage(ctx context.Context, m *Message) error
	ListMessages(ctx context.Context, quotationID uuid.UUID) ([]Message, error)
	MarkMessagesRead(ctx context.Context, quotationID uuid.UUID, role shared.Role, at time.Time) (int64, error)
	CountUnread(ctx context.Context, quotationID uuid.UUID, role shared.Role) (int, error)
}

type dbtx interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

type repository struct {
	db   dbtx
	pool *pgxpool.Pool
}

// NewRepository returns the Postgres-backed repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{db: pool, pool: pool}
}

func (r *repository) WithTx(ctx context.Context, fn func(context.Context, Repository) error) error {
	if r.pool == nil {
		return fn(ctx, r)
	}
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &repository{db: tx, pool: r.pool})
	})
	return translatePgError(err)
}

const quotationColumns = `id, quotation_number, version, root_id, parent_id, buyer, vendor, line_items,
    financial_summary, tax_details, status, thread_status, valid_from, valid_until, admin_response,
    COALESCE(payment_terms, ''), COALESCE(delivery_terms, ''), COALESCE(notes, ''), COALESCE(assigned_to, ''),
    COALESCE(closure_requested_by, ''), closure_requested_at, COALESCE(thread_closed_by, ''), thread_closed_at,
    created_by, last_modified_by, created_at, updated_at, stamp`

func (r *repository) Get(ctx context.Context, id uuid.UUID) (*Quotation, error) {
	row := r.db.QueryRow(ctx, `SELECT `+quotationColumns+` FROM quotations WHERE id = $1`, id)
	q, err := scanQuotation(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: quotation %s", shared.ErrNotFound, id)
	}
	return q, err
}

func (r *repository) GetLatestByNumber(ctx context.Context, number string) (*Quotation, error) {
	row := r.db.QueryRow(ctx, `SELECT `+quotationColumns+` FROM quotations
        WHERE quotation_number = $1 ORDER BY version DESC LIMIT 1`, number)
	q, err := scanQuotation(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: quotation %s", shared.ErrNotFound, number)
	}
	return q, err
}

func (r *repository) GetLatestInChain(ctx context.Context, rootID uuid.UUID) (*Quotation, error) {
	row := r.db.QueryRow(ctx, `SELECT `+quotationColumns+` FROM quotations
        WHERE root_id = $1 ORDER BY version DESC LIMIT 1`, rootID)
	q, err := scanQuotation(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: quotation chain %s", shared.ErrNotFound, rootID)
	}
	return q, err
}

func (r *repository) List(ctx context.Context, filters ListFilters) ([]Quotation, int, error) {
	limit := filters.Limit
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	where := ` WHERE ($1 = '' OR buyer_id = $1) AND ($2 = '' OR status = $2)`

	var total int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM quotations`+where, filters.BuyerID, string(filters.Status)).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.db.Query(ctx, `SELECT `+quotationColumns+` FROM quotations`+where+`
        ORDER BY created_at DESC, id LIMIT $3 OFFSET $4`, filters.BuyerID, string(filters.Status), limit, filters.Offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []Quotation
	for rows.Next() {
		q, err := scanQuotation(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, *q)
	}
	return out, total, rows.Err()
}

func (r *repository) Insert(ctx context.Context, q *Quotation) error {
	doc, err := encodeDocument(q)
	if err != nil {
		return err
	}
	q.Stamp = 1
	_, err = r.db.Exec(ctx, `INSERT INTO quotations (
        id, quotation_number, version, root_id, parent_id, buyer_id, buyer, vendor, line_items,
        financial_summary, tax_details, currency, status, thread_status, valid_from, valid_until,
        admin_response, payment_terms, delivery_terms, notes, assigned_to,
        closure_requested_by, closure_requested_at, thread_closed_by, thread_closed_at,
        created_by, last_modified_by, created_at, updated_at, stamp)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19,
                $20, $21, $22, $23, $24, $25, $26, $27, $28, $29, $30)`,
		q.ID, q.QuotationNumber, q.Version, q.RootID, q.ParentID, q.Buyer.UserID, doc.buyer, doc.vendor,
		doc.lineItems, doc.summary, doc.taxDetails, q.FinancialSummary.Currency, string(q.Status),
		string(q.ThreadStatus), q.ValidFrom, q.ValidUntil, doc.adminResponse, q.PaymentTerms,
		q.DeliveryTerms, q.Notes, nullIfEmpty(q.AssignedTo), nullIfEmpty(q.ClosureRequestedBy),
		q.ClosureRequestedAt, nullIfEmpty(q.ThreadClosedBy), q.ThreadClosedAt, q.CreatedBy,
		q.LastModifiedBy, q.CreatedAt, q.UpdatedAt, q.Stamp)
	if err != nil {
		return translatePgError(fmt.Errorf("insert quotation: %w", err))
	}
	return nil
}

func (r *repository) Save(ctx context.Context, q *Quotation) error {
	doc, err := encodeDocument(q)
	if err != nil {
		return err
	}
	tag, err := r.db.Exec(ctx, `UPDATE quotations SET
        buyer_id = $3, buyer = $4, line_items = $5, financial_summary = $6, tax_details = $7,
        currency = $8, status = $9, thread_status = $10, valid_from = $11, valid_until = $12,
        admin_response = $13, payment_terms = $14, delivery_terms = $15, notes = $16,
        assigned_to = $17, closure_requested_by = $18, closure_requested_at = $19,
        thread_closed_by = $20, thread_closed_at = $21, last_modified_by = $22, updated_at = $23,
        stamp = stamp + 1
        WHERE id = $1 AND stamp = $2`,
		q.ID, q.Stamp, q.Buyer.UserID, doc.buyer, doc.lineItems, doc.summary, doc.taxDetails,
		q.FinancialSummary.Currency, string(q.Status), string(q.ThreadStatus), q.ValidFrom,
		q.ValidUntil, doc.adminResponse, q.PaymentTerms, q.DeliveryTerms, q.Notes,
		nullIfEmpty(q.AssignedTo), nullIfEmpty(q.ClosureRequestedBy), q.ClosureRequestedAt,
		nullIfEmpty(q.ThreadClosedBy), q.ThreadClosedAt, q.LastModifiedBy, q.UpdatedAt)
	if err != nil {
		return translatePgError(fmt.Errorf("save quotation: %w", err))
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: quotation %s changed since stamp %d", shared.ErrConflict, q.ID, q.Stamp)
	}
	q.Stamp++
	return nil
}

func (r *repository) ListExpiryCandidates(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	rows, err := r.db.Query(ctx, `SELECT id FROM quotations
        WHERE status = 'quoted' AND valid_until < $1
        ORDER BY valid_until LIMIT $2`, now, limit)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
}

func (r *repository) InsertMessage(ctx context.Context, m *Message) error {
	_, err := r.db.Exec(ctx, `INSERT INTO quotation_messages
        (id, quotation_id, author_id, author_role, content, message_type, is_read_by_user, is_read_by_admin, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		m.ID, m.QuotationID, m.AuthorID, string(m.AuthorRole), m.Content, string(m.MessageType),
		m.IsReadByUser, m.IsReadByAdmin, m.CreatedAt, m.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

func (r *repository) ListMessages(ctx context.Context, quotationID uuid.UUID) ([]Message, error) {
	rows, err := r.db.Query(ctx, `SELECT id, quotation_id, author_id, author_role, content, message_type,
        is_read_by_user, is_read_by_admin, created_at, updated_at
        FROM quotation_messages WHERE quotation_id = $1 ORDER BY created_at, id`, quotationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var (
			m          Message
			role, kind string
		)
		if err := rows.Scan(&m.ID, &m.QuotationID, &m.AuthorID, &role, &m.Content, &kind,
			&m.IsReadByUser, &m.IsReadByAdmin, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, err
		}
		m.AuthorRole = shared.Role(role)
		m.MessageType = MessageType(kind)
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r *repository) MarkMessagesRead(ctx context.Context, quotationID uuid.UUID, role shared.Role, at time.Time) (int64, error) {
	column, err := readColumn(role)
	if err != nil {
		return 0, err
	}
	tag, err := r.db.Exec(ctx, `UPDATE quotation_messages SET `+column+` = TRUE, updated_at = $2
        WHERE quotation_id = $1 AND `+column+` = FALSE`, quotationID, at)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *repository) CountUnread(ctx context.Context, quotationID uuid.UUID, role shared.Role) (int, error) {
	column, err := readColumn(role)
	if err != nil {
		return 0, err
	}
	var n int
	err = r.db.QueryRow(ctx, `SELECT COUNT(*) FROM quotation_messages
        WHERE quotation_id = $1 AND `+column+` = FALSE`, quotationID).Scan(&n)
	return n, err
}

func readColumn(role shared.Role) (string, error) {
	switch role {
	case shared.RoleUser:
		return "is_read_by_user", nil
	case shared.RoleAdmin:
		return "is_read_by_admin", nil
	}
	return "", fmt.Errorf("%w: unknown role %q", shared.ErrValidation, role)
}

type document struct {
	buyer, vendor, lineItems, summary, taxDetails, adminResponse []byte
}

func encodeDocument(q *Quotation) (document, error) {
	var (
		doc document
		err error
	)
	if doc.buyer, err = json.Marshal(q.Buyer); err != nil {
		return doc, fmt.Errorf("encode buyer: %w", err)
	}
	if doc.vendor, err = json.Marshal(q.Vendor); err != nil {
		return doc, fmt.Errorf("encode vendor: %w", err)
	}
	items := q.LineItems
	if items == nil {
		items = []LineItem{}
	}
	if doc.lineItems, err = json.Marshal(items); err != nil {
		return doc, fmt.Errorf("encode line items: %w", err)
	}
	if doc.summary, err = json.Marshal(q.FinancialSummary); err != nil {
		return doc, fmt.Errorf("encode summary: %w", err)
	}
	details := q.TaxDetails
	if details == nil {
		details = []pricing.TaxDetail{}
	}
	if doc.taxDetails, err = json.Marshal(details); err != nil {
		return doc, fmt.Errorf("encode tax details: %w", err)
	}
	if q.AdminResponse != nil {
		if doc.adminResponse, err = json.Marshal(q.AdminResponse); err != nil {
			return doc, fmt.Errorf("encode admin response: %w", err)
		}
	}
	return doc, nil
}

func scanQuotation(row pgx.Row) (*Quotation, error) {
	var q Quotation
	var status, thread string
	var buyer, vendor, lineItems, summary, taxDetails, adminResponse []byte
	err := row.Scan(&q.ID, &q.QuotationNumber, &q.Version, &q.RootID, &q.ParentID, &buyer, &vendor,
		&lineItems, &summary, &taxDetails, &status, &thread, &q.ValidFrom, &q.ValidUntil, &adminResponse,
		&q.PaymentTerms, &q.DeliveryTerms, &q.Notes, &q.AssignedTo, &q.ClosureRequestedBy,
		&q.ClosureRequestedAt, &q.ThreadClosedBy, &q.ThreadClosedAt, &q.CreatedBy, &q.LastModifiedBy,
		&q.CreatedAt, &q.UpdatedAt, &q.Stamp)
	if err != nil {
		return nil, err
	}
	q.Status = Status(status)
	q.ThreadStatus = ThreadStatus(thread)
	if err := json.Unmarshal(buyer, &q.Buyer); err != nil {
		return nil, fmt.Errorf("decode buyer: %w", err)
	}
	if err := json.Unmarshal(vendor, &q.Vendor); err != nil {
		return nil, fmt.Errorf("decode vendor: %w", err)
	}
	if err := json.Unmarshal(lineItems, &q.LineItems); err != nil {
		return nil, fmt.Errorf("decode line items: %w", err)
	}
	if err := json.Unmarshal(summary, &q.FinancialSummary); err != nil {
		return nil, fmt.Errorf("decode summary: %w", err)
	}
	if err := json.Unmarshal(taxDetails, &q.TaxDetails); err != nil {
		return nil, fmt.Errorf("decode tax details: %w", err)
	}
	if len(adminResponse) > 0 {
		q.AdminResponse = &AdminResponse{}
		if err := json.Unmarshal(adminResponse, q.AdminResponse); err != nil {
			return nil, fmt.Errorf("decode admin response: %w", err)
		}
	}
	return &q, nil
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// translatePgError maps lost races reported by Postgres onto ErrConflict.
func translatePgError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "23505":
			return fmt.Errorf("%w: %s", shared.ErrConflict, pgErr.Message)
		}
	}
	return err
}

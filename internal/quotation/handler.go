package quotation

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-rfq/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-rfq/internal/rbac"
	"github.com/odyssey-erp/odyssey-rfq/internal/shared"
)

// HeaderIdempotencyKey makes create requests safe to retry.
const HeaderIdempotencyKey = "Idempotency-Key"

const maxPerPage = 100

// Handler serves the quotation JSON API.
type Handler struct {
	logger  *slog.Logger
	service *Service
	rbac    rbac.Middleware
}

// NewHandler builds the API handler.
func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, rbac: rbac}
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	actor, _ := shared.ActorFromContext(r.Context())
	var req CreateQuotationRequest
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.service.Create(r.Context(), actor, req, r.Header.Get(HeaderIdempotencyKey))
	if err != nil {
		h.fail(w, r, "create quotation", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, res)
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	actor, _ := shared.ActorFromContext(r.Context())
	query := r.URL.Query()
	filters := ListFilters{
		BuyerID: query.Get("buyer_id"),
		Status:  Status(query.Get("status")),
	}
	page, _ := strconv.Atoi(query.Get("page"))
	perPage, _ := strconv.Atoi(query.Get("per_page"))
	if perPage > maxPerPage {
		perPage = maxPerPage
	}
	paging := shared.NewPagination(page, perPage, 0)
	filters.Limit = paging.PerPage
	filters.Offset = paging.Offset()

	items, total, err := h.service.List(r.Context(), actor, filters)
	if err != nil {
		h.fail(w, r, "list quotations", err)
		return
	}
	if items == nil {
		items = []Quotation{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"data":       items,
		"pagination": shared.NewPagination(paging.Page, paging.PerPage, total),
	})
}

func (h *Handler) Show(w http.ResponseWriter, r *http.Request) {
	h.withID(w, r, func(ctx context.Context, actor shared.Actor, id uuid.UUID) (any, error) {
		return h.service.Get(ctx, actor, id)
	})
}

func (h *Handler) ShowByNumber(w http.ResponseWriter, r *http.Request) {
	actor, _ := shared.ActorFromContext(r.Context())
	q, err := h.service.GetByNumber(r.Context(), actor, chi.URLParam(r, "number"))
	if err != nil {
		h.fail(w, r, "get quotation by number", err)
		return
	}
	httpx.JSON(w, http.StatusOK, q)
}

func (h *Handler) ShowLatest(w http.ResponseWriter, r *http.Request) {
	h.withID(w, r, func(ctx context.Context, actor shared.Actor, id uuid.UUID) (any, error) {
		return h.service.Latest(ctx, actor, id)
	})
}

func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	var req UpdateQuotationRequest
	if !h.decode(w, r, &req) {
		return
	}
	h.withID(w, r, func(ctx context.Context, actor shared.Actor, id uuid.UUID) (any, error) {
		return h.service.UpdateQuotation(ctx, actor, id, req)
	})
}

func (h *Handler) UpdateResponse(w http.ResponseWriter, r *http.Request) {
	var req UpdateResponseRequest
	if !h.decode(w, r, &req) {
		return
	}
	h.withID(w, r, func(ctx context.Context, actor shared.Actor, id uuid.UUID) (any, error) {
		return h.service.UpdateResponse(ctx, actor, id, req)
	})
}

func (h *Handler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	var req UpdateStatusRequest
	if !h.decode(w, r, &req) {
		return
	}
	h.withID(w, r, func(ctx context.Context, actor shared.Actor, id uuid.UUID) (any, error) {
		return h.service.UpdateStatus(ctx, actor, id, req)
	})
}

func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	h.withID(w, r, func(ctx context.Context, actor shared.Actor, id uuid.UUID) (any, error) {
		return h.service.Submit(ctx, actor, id)
	})
}

func (h *Handler) Reopen(w http.ResponseWriter, r *http.Request) {
	h.withID(w, r, func(ctx context.Context, actor shared.Actor, id uuid.UUID) (any, error) {
		return h.service.Reopen(ctx, actor, id)
	})
}

func (h *Handler) Revise(w http.ResponseWriter, r *http.Request) {
	h.withIDStatus(w, r, http.StatusCreated, func(ctx context.Context, actor shared.Actor, id uuid.UUID) (any, error) {
		return h.service.CreateRevision(ctx, actor, id)
	})
}

func (h *Handler) SendEmail(w http.ResponseWriter, r *http.Request) {
	h.withIDStatus(w, r, http.StatusAccepted, func(ctx context.Context, actor shared.Actor, id uuid.UUID) (any, error) {
		if err := h.service.SendQuoteEmail(ctx, actor, id); err != nil {
			return nil, err
		}
		return map[string]string{"status": "queued"}, nil
	})
}

func (h *Handler) ListMessages(w http.ResponseWriter, r *http.Request) {
	h.withID(w, r, func(ctx context.Context, actor shared.Actor, id uuid.UUID) (any, error) {
		msgs, err := h.service.ListMessages(ctx, actor, id)
		if err != nil {
			return nil, err
		}
		if msgs == nil {
			msgs = []Message{}
		}
		return map[string]any{"data": msgs}, nil
	})
}

func (h *Handler) PostMessage(w http.ResponseWriter, r *http.Request) {
	var req PostMessageRequest
	if !h.decode(w, r, &req) {
		return
	}
	h.withIDStatus(w, r, http.StatusCreated, func(ctx context.Context, actor shared.Actor, id uuid.UUID) (any, error) {
		return h.service.PostMessage(ctx, actor, id, req)
	})
}

func (h *Handler) MarkRead(w http.ResponseWriter, r *http.Request) {
	h.withID(w, r, func(ctx context.Context, actor shared.Actor, id uuid.UUID) (any, error) {
		n, err := h.service.MarkThreadRead(ctx, actor, id)
		if err != nil {
			return nil, err
		}
		return map[string]int64{"marked": n}, nil
	})
}

func (h *Handler) Unread(w http.ResponseWriter, r *http.Request) {
	h.withID(w, r, func(ctx context.Context, actor shared.Actor, id uuid.UUID) (any, error) {
		n, err := h.service.UnreadCount(ctx, actor, id)
		if err != nil {
			return nil, err
		}
		return map[string]int{"unread": n}, nil
	})
}

func (h *Handler) thread(op func(context.Context, shared.Actor, uuid.UUID) (*Message, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.withID(w, r, func(ctx context.Context, actor shared.Actor, id uuid.UUID) (any, error) {
			return op(ctx, actor, id)
		})
	}
}

func (h *Handler) withID(w http.ResponseWriter, r *http.Request, fn func(context.Context, shared.Actor, uuid.UUID) (any, error)) {
	h.withIDStatus(w, r, http.StatusOK, fn)
}

func (h *Handler) withIDStatus(w http.ResponseWriter, r *http.Request, status int, fn func(context.Context, shared.Actor, uuid.UUID) (any, error)) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "quotation id must be a uuid")
		return
	}
	actor, _ := shared.ActorFromContext(r.Context())
	out, err := fn(r.Context(), actor, id)
	if err != nil {
		h.fail(w, r, "quotation request", err)
		return
	}
	httpx.JSON(w, status, out)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := httpx.DecodeJSON(r, target); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return false
	}
	return true
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	if !isClientError(err) {
		h.logger.Error(op+" failed",
			slog.String("path", r.URL.Path),
			slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

func isClientError(err error) bool {
	for _, target := range []error{
		shared.ErrNotFound, shared.ErrValidation, shared.ErrInvalidState,
		shared.ErrForbidden, shared.ErrConflict, shared.ErrIdempotencyConflict,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

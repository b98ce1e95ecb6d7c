package quotation

import (
	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-rfq/internal/shared"
)

// MountRoutes registers the quotation API on r.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireRole())
		r.Post("/", h.Create)
		r.Get("/", h.List)
		r.Get("/number/{number}", h.ShowByNumber)
		r.Get("/{id}", h.Show)
		r.Patch("/{id}", h.Update)
		r.Get("/{id}/latest", h.ShowLatest)
		r.Put("/{id}/status", h.UpdateStatus)
		r.Post("/{id}/submit", h.Submit)
		r.Post("/{id}/reopen", h.Reopen)
		r.Post("/{id}/revisions", h.Revise)
		r.Get("/{id}/messages", h.ListMessages)
		r.Post("/{id}/messages", h.PostMessage)
		r.Post("/{id}/messages/read", h.MarkRead)
		r.Get("/{id}/messages/unread", h.Unread)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireRole(shared.RoleAdmin))
		r.Put("/{id}/response", h.UpdateResponse)
		r.Post("/{id}/email", h.SendEmail)
		r.Post("/{id}/thread/closure-request", h.thread(h.service.RequestClosure))
		r.Post("/{id}/thread/close", h.thread(h.service.CloseThread))
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireRole(shared.RoleUser))
		r.Post("/{id}/thread/closure-grant", h.thread(h.service.GrantClosurePermission))
		r.Post("/{id}/thread/closure-reject", h.thread(h.service.RejectClosureRequest))
	})
}

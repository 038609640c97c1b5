package circulation

import (
	"log/slog"
	"net/http"

	"shelfwise/internal/spec"
	"shelfwise/internal/validate"
	"shelfwise/internal/web"
)

type Handler struct {
	service  Service
	validate *validate.Validator
	log      *slog.Logger
}

func NewHandler(service Service, v *validate.Validator, log *slog.Logger) *Handler {
	return &Handler{service: service, validate: v, log: log}
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	page, err := h.service.List(r.Context(), web.ActorFrom(r.Context()), spec.ParseQuery(r.URL.Query()))
	if err != nil {
		web.Error(w, r, h.log, err)
		return
	}
	web.JSON(w, http.StatusOK, page)
}

func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	var req CheckoutRequest
	if err := web.Decode(r, h.validate, &req); err != nil {
		web.Error(w, r, h.log, err)
		return
	}
	rec, err := h.service.Checkout(r.Context(), web.ActorFrom(r.Context()), req)
	if err != nil {
		web.Error(w, r, h.log, err)
		return
	}
	web.JSON(w, http.StatusOK, rec)
}

// Return accepts an empty body.
func (h *Handler) Return(w http.ResponseWriter, r *http.Request) {
	id, err := web.PathID(r, "id")
	if err != nil {
		web.Error(w, r, h.log, err)
		return
	}
	var req ReturnRequest
	if r.ContentLength != 0 {
		if err := web.Decode(r, h.validate, &req); err != nil {
			web.Error(w, r, h.log, err)
			return
		}
	}
	rec, err := h.service.Return(r.Context(), web.ActorFrom(r.Context()), id, req.Notes)
	if err != nil {
		web.Error(w, r, h.log, err)
		return
	}
	web.JSON(w, http.StatusOK, rec)
}

func (h *Handler) Overdue(w http.ResponseWriter, r *http.Request) {
	items, err := h.service.Overdue(r.Context(), web.ActorFrom(r.Context()))
	if err != nil {
		web.Error(w, r, h.log, err)
		return
	}
	web.JSON(w, http.StatusOK, items)
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := web.PathID(r, "id")
	if err != nil {
		web.Error(w, r, h.log, err)
		return
	}
	rec, err := h.service.Get(r.Context(), web.ActorFrom(r.Context()), id)
	if err != nil {
		web.Error(w, r, h.log, err)
		return
	}
	web.JSON(w, http.StatusOK, rec)
}

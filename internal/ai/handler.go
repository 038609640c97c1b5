package ai

import (
	"log/slog"
	"net/http"

	"shelfwise/internal/validate"
	"shelfwise/internal/web"
)

type Handler struct {
	uc       *UseCases
	validate *validate.Validator
	log      *slog.Logger
}

func NewHandler(uc *UseCases, v *validate.Validator, log *slog.Logger) *Handler {
	return &Handler{uc: uc, validate: v, log: log}
}

func (h *Handler) Recommendations(w http.ResponseWriter, r *http.Request) {
	rec, err := h.uc.Recommendations(r.Context(), web.ActorFrom(r.Context()))
	if err != nil {
		web.Error(w, r, h.log, err)
		return
	}
	web.JSON(w, http.StatusOK, rec)
}

func (h *Handler) SmartSearch(w http.ResponseWriter, r *http.Request) {
	var req SearchRequest
	if err := web.Decode(r, h.validate, &req); err != nil {
		web.Error(w, r, h.log, err)
		return
	}
	terms, err := h.uc.SmartSearch(r.Context(), req)
	if err != nil {
		web.Error(w, r, h.log, err)
		return
	}
	web.JSON(w, http.StatusOK, terms)
}

func (h *Handler) GenerateDescription(w http.ResponseWriter, r *http.Request) {
	var req DescriptionRequest
	if err := web.Decode(r, h.validate, &req); err != nil {
		web.Error(w, r, h.log, err)
		return
	}
	d, err := h.uc.GenerateDescription(r.Context(), req)
	if err != nil {
		web.Error(w, r, h.log, err)
		return
	}
	web.JSON(w, http.StatusOK, map[string]string{"description": d})
}

func (h *Handler) Categorize(w http.ResponseWriter, r *http.Request) {
	var req CategorizeRequest
	if err := web.Decode(r, h.validate, &req); err != nil {
		web.Error(w, r, h.log, err)
		return
	}
	cats, err := h.uc.Categorize(r.Context(), req)
	if err != nil {
		web.Error(w, r, h.log, err)
		return
	}
	web.JSON(w, http.StatusOK, cats)
}

func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	web.JSON(w, http.StatusOK, h.uc.Status())
}

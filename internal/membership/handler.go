package membership

import (
	"log/slog"
	"net/http"

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

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := web.Decode(r, h.validate, &req); err != nil {
		web.Error(w, r, h.log, err)
		return
	}
	h.respond(w, r)(h.service.Register(r.Context(), req))
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := web.Decode(r, h.validate, &req); err != nil {
		web.Error(w, r, h.log, err)
		return
	}
	h.respond(w, r)(h.service.Login(r.Context(), req))
}

func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req TokenRequest
	if err := web.Decode(r, h.validate, &req); err != nil {
		web.Error(w, r, h.log, err)
		return
	}
	h.respond(w, r)(h.service.Refresh(r.Context(), req.RefreshToken))
}

func (h *Handler) Revoke(w http.ResponseWriter, r *http.Request) {
	var req TokenRequest
	if err := web.Decode(r, h.validate, &req); err != nil {
		web.Error(w, r, h.log, err)
		return
	}
	if err := h.service.Revoke(r.Context(), req.RefreshToken); err != nil {
		web.Error(w, r, h.log, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) respond(w http.ResponseWriter, r *http.Request) func(*AuthResponse, error) {
	return func(resp *AuthResponse, err error) {
		if err != nil {
			web.Error(w, r, h.log, err)
			return
		}
		web.JSON(w, http.StatusOK, resp)
	}
}

func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.service.ListUsers(r.Context(), web.ActorFrom(r.Context()))
	if err != nil {
		web.Error(w, r, h.log, err)
		return
	}
	web.JSON(w, http.StatusOK, users)
}

func (h *Handler) GetUser(w http.ResponseWriter, r *http.Request) {
	id, err := web.PathID(r, "id")
	if err != nil {
		web.Error(w, r, h.log, err)
		return
	}
	u, err := h.service.GetUser(r.Context(), web.ActorFrom(r.Context()), id)
	if err != nil {
		web.Error(w, r, h.log, err)
		return
	}
	web.JSON(w, http.StatusOK, u)
}

func (h *Handler) AssignRole(w http.ResponseWriter, r *http.Request) {
	id, err := web.PathID(r, "id")
	if err != nil {
		web.Error(w, r, h.log, err)
		return
	}
	var req AssignRoleRequest
	if err := web.Decode(r, h.validate, &req); err != nil {
		web.Error(w, r, h.log, err)
		return
	}
	u, err := h.service.AssignRole(r.Context(), web.ActorFrom(r.Context()), id, req.Role)
	if err != nil {
		web.Error(w, r, h.log, err)
		return
	}
	web.JSON(w, http.StatusOK, u)
}

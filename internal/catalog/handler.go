package catalog

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

func (h *Handler) ListBooks(w http.ResponseWriter, r *http.Request) {
	page, err := h.service.ListBooks(r.Context(), spec.ParseQuery(r.URL.Query()))
	if err != nil {
		web.Error(w, r, h.log, err)
		return
	}
	web.JSON(w, http.StatusOK, page)
}

func (h *Handler) GetBook(w http.ResponseWriter, r *http.Request) {
	id, err := web.PathID(r, "id")
	if err != nil {
		web.Error(w, r, h.log, err)
		return
	}
	book, err := h.service.GetBook(r.Context(), id)
	if err != nil {
		web.Error(w, r, h.log, err)
		return
	}
	web.JSON(w, http.StatusOK, book)
}

func (h *Handler) CreateBook(w http.ResponseWriter, r *http.Request) {
	var req BookRequest
	if err := web.Decode(r, h.validate, &req); err != nil {
		web.Error(w, r, h.log, err)
		return
	}
	book, err := h.service.CreateBook(r.Context(), req)
	if err != nil {
		web.Error(w, r, h.log, err)
		return
	}
	w.Header().Set("Location", "/api/books/"+book.ID.String())
	web.JSON(w, http.StatusCreated, book)
}

func (h *Handler) UpdateBook(w http.ResponseWriter, r *http.Request) {
	id, err := web.PathID(r, "id")
	if err != nil {
		web.Error(w, r, h.log, err)
		return
	}
	var req BookRequest
	if err := web.Decode(r, h.validate, &req); err != nil {
		web.Error(w, r, h.log, err)
		return
	}
	book, err := h.service.UpdateBook(r.Context(), id, req)
	if err != nil {
		web.Error(w, r, h.log, err)
		return
	}
	web.JSON(w, http.StatusOK, book)
}

func (h *Handler) DeleteBook(w http.ResponseWriter, r *http.Request) {
	id, err := web.PathID(r, "id")
	if err != nil {
		web.Error(w, r, h.log, err)
		return
	}
	if err := h.service.DeleteBook(r.Context(), id); err != nil {
		web.Error(w, r, h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) BookHistory(w http.ResponseWriter, r *http.Request) {
	id, err := web.PathID(r, "id")
	if err != nil {
		web.Error(w, r, h.log, err)
		return
	}
	entries, err := h.service.BookHistory(r.Context(), id)
	if err != nil {
		web.Error(w, r, h.log, err)
		return
	}
	web.JSON(w, http.StatusOK, entries)
}

func (h *Handler) ListAuthors(w http.ResponseWriter, r *http.Request) {
	page, err := h.service.ListAuthors(r.Context(), spec.ParseQuery(r.URL.Query()))
	if err != nil {
		web.Error(w, r, h.log, err)
		return
	}
	web.JSON(w, http.StatusOK, page)
}

func (h *Handler) AllAuthors(w http.ResponseWriter, r *http.Request) {
	authors, err := h.service.AllAuthors(r.Context())
	if err != nil {
		web.Error(w, r, h.log, err)
		return
	}
	web.JSON(w, http.StatusOK, authors)
}

func (h *Handler) GetAuthor(w http.ResponseWriter, r *http.Request) {
	id, err := web.PathID(r, "id")
	if err != nil {
		web.Error(w, r, h.log, err)
		return
	}
	author, err := h.service.GetAuthor(r.Context(), id)
	if err != nil {
		web.Error(w, r, h.log, err)
		return
	}
	web.JSON(w, http.StatusOK, author)
}

func (h *Handler) CreateAuthor(w http.ResponseWriter, r *http.Request) {
	var req AuthorRequest
	if err := web.Decode(r, h.validate, &req); err != nil {
		web.Error(w, r, h.log, err)
		return
	}
	author, err := h.service.CreateAuthor(r.Context(), req)
	if err != nil {
		web.Error(w, r, h.log, err)
		return
	}
	web.JSON(w, http.StatusCreated, author)
}

func (h *Handler) UpdateAuthor(w http.ResponseWriter, r *http.Request) {
	id, err := web.PathID(r, "id")
	if err != nil {
		web.Error(w, r, h.log, err)
		return
	}
	var req AuthorRequest
	if err := web.Decode(r, h.validate, &req); err != nil {
		web.Error(w, r, h.log, err)
		return
	}
	author, err := h.service.UpdateAuthor(r.Context(), id, req)
	if err != nil {
		web.Error(w, r, h.log, err)
		return
	}
	web.JSON(w, http.StatusOK, author)
}

func (h *Handler) DeleteAuthor(w http.ResponseWriter, r *http.Request) {
	id, err := web.PathID(r, "id")
	if err != nil {
		web.Error(w, r, h.log, err)
		return
	}
	if err := h.service.DeleteAuthor(r.Context(), id); err != nil {
		web.Error(w, r, h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) ListCategories(w http.ResponseWriter, r *http.Request) {
	page, err := h.service.ListCategories(r.Context(), spec.ParseQuery(r.URL.Query()))
	if err != nil {
		web.Error(w, r, h.log, err)
		return
	}
	web.JSON(w, http.StatusOK, page)
}

func (h *Handler) AllCategories(w http.ResponseWriter, r *http.Request) {
	cats, err := h.service.AllCategories(r.Context())
	if err != nil {
		web.Error(w, r, h.log, err)
		return
	}
	web.JSON(w, http.StatusOK, cats)
}

func (h *Handler) GetCategory(w http.ResponseWriter, r *http.Request) {
	id, err := web.PathID(r, "id")
	if err != nil {
		web.Error(w, r, h.log, err)
		return
	}
	cat, err := h.service.GetCategory(r.Context(), id)
	if err != nil {
		web.Error(w, r, h.log, err)
		return
	}
	web.JSON(w, http.StatusOK, cat)
}

func (h *Handler) CreateCategory(w http.ResponseWriter, r *http.Request) {
	var req CategoryRequest
	if err := web.Decode(r, h.validate, &req); err != nil {
		web.Error(w, r, h.log, err)
		return
	}
	cat, err := h.service.CreateCategory(r.Context(), req)
	if err != nil {
		web.Error(w, r, h.log, err)
		return
	}
	web.JSON(w, http.StatusCreated, cat)
}

func (h *Handler) UpdateCategory(w http.ResponseWriter, r *http.Request) {
	id, err := web.PathID(r, "id")
	if err != nil {
		web.Error(w, r, h.log, err)
		return
	}
	var req CategoryRequest
	if err := web.Decode(r, h.validate, &req); err != nil {
		web.Error(w, r, h.log, err)
		return
	}
	cat, err := h.service.UpdateCategory(r.Context(), id, req)
	if err != nil {
		web.Error(w, r, h.log, err)
		return
	}
	web.JSON(w, http.StatusOK, cat)
}

func (h *Handler) DeleteCategory(w http.ResponseWriter, r *http.Request) {
	id, err := web.PathID(r, "id")
	if err != nil {
		web.Error(w, r, h.log, err)
		return
	}
	if err := h.service.DeleteCategory(r.Context(), id); err != nil {
		web.Error(w, r, h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

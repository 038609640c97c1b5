// Package web holds the request plumbing every handler shares: JSON bodies,
// error responses and the authenticated actor.
package web

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"

	"shelfwise/internal/apperr"
	"shelfwise/internal/domain"
	"shelfwise/internal/store"
	"shelfwise/internal/validate"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const maxBody = 1 << 20

// JSON writes v with the given status.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Error  string            `json:"error"`
	Errors map[string]string `json:"errors,omitempty"`
}

// Error writes err as { "error": msg }. Unexpected errors are logged with
// full detail and answered with a generic message.
func Error(w http.ResponseWriter, r *http.Request, log *slog.Logger, err error) {
	status := apperr.Status(err)
	if status >= http.StatusInternalServerError {
		if log == nil {
			log = slog.Default()
		}
		log.ErrorContext(r.Context(), "request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"req_id", middleware.GetReqID(r.Context()),
			"error", err,
		)
	}
	JSON(w, status, errorBody{Error: apperr.Message(err), Errors: apperr.FieldErrors(err)})
}

// Decode reads a JSON body into dst and validates it.
func Decode(r *http.Request, v *validate.Validator, dst any) error {
	body := io.LimitReader(r.Body, maxBody)
	if err := json.NewDecoder(body).Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return apperr.Validation("Request body is required.")
		}
		return apperr.Validation("Request body is not valid JSON.")
	}
	if v == nil {
		return nil
	}
	return v.Struct(dst)
}

// PathID parses a uuid route parameter.
func PathID(r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		return uuid.Nil, apperr.Validation("Invalid " + name + ".")
	}
	return id, nil
}

type actorKey struct{}

// WithActor stores the authenticated caller. It also records the user id
// for the store's audit stamps.
func WithActor(ctx context.Context, a domain.Actor) context.Context {
	ctx = context.WithValue(ctx, actorKey{}, a)
	if a.UserID != "" {
		ctx = store.WithActor(ctx, a.UserID)
	}
	return ctx
}

// ActorFrom returns the caller, or domain.Anonymous.
func ActorFrom(ctx context.Context) domain.Actor {
	if a, ok := ctx.Value(actorKey{}).(domain.Actor); ok {
		return a
	}
	return domain.Anonymous
}

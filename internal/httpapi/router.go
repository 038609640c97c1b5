// Package httpapi assembles the REST surface: routing, middleware and the
// role gates in front of each resource.
package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"shelfwise/internal/ai"
	"shelfwise/internal/catalog"
	"shelfwise/internal/circulation"
	"shelfwise/internal/dashboard"
	"shelfwise/internal/membership"
	"shelfwise/internal/validate"
	"shelfwise/internal/web"
)

type Deps struct {
	Catalog     catalog.Service
	Circulation circulation.Service
	Dashboard   dashboard.Service
	Membership  membership.Service
	AI          *ai.UseCases

	Validator *validate.Validator
	Log       *slog.Logger

	RatePerMinute int
	RateBurst     int
	// Ping reports storage health for /health. Optional.
	Ping func(ctx context.Context) error
	Now  func() time.Time
}

func NewRouter(d Deps) http.Handler {
	if d.Log == nil {
		d.Log = slog.Default()
	}
	if d.Validator == nil {
		d.Validator = validate.New()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	log := d.Log

	books := catalog.NewHandler(d.Catalog, d.Validator, log)
	loans := circulation.NewHandler(d.Circulation, d.Validator, log)
	stats := dashboard.NewHandler(d.Dashboard, log)
	users := membership.NewHandler(d.Membership, d.Validator, log)
	assist := ai.NewHandler(d.AI, d.Validator, log)

	authed := requireAuth(log)
	staff := requireStaff(log)
	admin := requireAdmin(log)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(accessLog(log))
	r.Use(recoverer(log))

	r.Get("/health", health(d.Ping))

	r.Route("/api", func(r chi.Router) {
		if d.RatePerMinute > 0 {
			r.Use(newClientLimiter(d.RatePerMinute, max(d.RateBurst, 1), d.Now).middleware(log))
		}
		r.Use(authenticate(d.Membership, log))

		r.Route("/auth", func(r chi.Router) {
			r.Post("/login", users.Login)
			r.Post("/register", users.Register)
			r.Post("/refresh", users.Refresh)
			r.Post("/revoke", users.Revoke)
		})

		r.Route("/books", func(r chi.Router) {
			r.Get("/", books.ListBooks)
			r.Get("/{id}", books.GetBook)
			r.With(staff).Get("/{id}/history", books.BookHistory)
			r.With(staff).Post("/", books.CreateBook)
			r.With(staff).Put("/{id}", books.UpdateBook)
			r.With(staff).Delete("/{id}", books.DeleteBook)
		})

		r.Route("/authors", func(r chi.Router) {
			r.Get("/", books.ListAuthors)
			r.Get("/all", books.AllAuthors)
			r.Get("/{id}", books.GetAuthor)
			r.With(staff).Post("/", books.CreateAuthor)
			r.With(staff).Put("/{id}", books.UpdateAuthor)
			r.With(staff).Delete("/{id}", books.DeleteAuthor)
		})

		r.Route("/categories", func(r chi.Router) {
			r.Get("/", books.ListCategories)
			r.Get("/all", books.AllCategories)
			r.Get("/{id}", books.GetCategory)
			r.With(staff).Post("/", books.CreateCategory)
			r.With(staff).Put("/{id}", books.UpdateCategory)
			r.With(staff).Delete("/{id}", books.DeleteCategory)
		})

		r.Route("/checkouts", func(r chi.Router) {
			r.Use(authed)
			r.Get("/", loans.List)
			r.Post("/", loans.Checkout)
			r.With(staff).Get("/overdue", loans.Overdue)
			r.Get("/{id}", loans.Get)
			r.Post("/{id}/return", loans.Return)
		})

		r.With(authed).Get("/dashboard/stats", stats.Stats)

		r.Route("/ai", func(r chi.Router) {
			r.Use(authed)
			r.Get("/status", assist.Status)
			r.Get("/recommendations", assist.Recommendations)
			r.Post("/smart-search", assist.SmartSearch)
			r.With(staff).Post("/generate-description", assist.GenerateDescription)
			r.With(staff).Post("/categorize", assist.Categorize)
		})

		r.Route("/users", func(r chi.Router) {
			r.Use(admin)
			r.Get("/", users.ListUsers)
			r.Get("/{id}", users.GetUser)
			r.Put("/{id}/role", users.AssignRole)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		web.JSON(w, http.StatusNotFound, map[string]string{"error": "Resource not found."})
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		web.JSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "Method not allowed."})
	})
	return r
}

func health(ping func(context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if ping != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := ping(ctx); err != nil {
				web.JSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy"})
				return
			}
		}
		web.JSON(w, http.StatusOK, map[string]string{"status": "healthy"})
	}
}

package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"shelfwise/internal/apperr"
	"shelfwise/internal/audit"
	"shelfwise/internal/cache"
	"shelfwise/internal/domain"
	"shelfwise/internal/spec"
	"shelfwise/internal/store"
)

const (
	msgBookNotFound     = "Book not found."
	msgAuthorNotFound   = "Author not found."
	msgCategoryNotFound = "Category not found."
	msgDuplicateISBN    = "A book with this ISBN already exists."
	msgDuplicateName    = "A category with this name already exists."
	msgStale            = "The record was modified by another request. Please retry."
)

// service implements the Service interface.
type service struct {
	store     *store.Store
	cache     cache.Cache
	metrics   *cache.Metrics
	history   audit.Log
	describer Describer
	log       *slog.Logger
	tracer    trace.Tracer
}

type Option func(*service)

// WithDescriber fills empty descriptions of new books.
func WithDescriber(d Describer) Option {
	return func(s *service) { s.describer = d }
}

// WithHistory enables BookHistory.
func WithHistory(l audit.Log) Option {
	return func(s *service) { s.history = l }
}

func WithLogger(log *slog.Logger) Option {
	return func(s *service) { s.log = log }
}

func WithCacheMetrics(m *cache.Metrics) Option {
	return func(s *service) { s.metrics = m }
}

// NewService creates a new catalog service instance.
func NewService(st *store.Store, c cache.Cache, opts ...Option) Service {
	s := &service{
		store:  st,
		cache:  c,
		log:    slog.Default(),
		tracer: otel.Tracer("shelfwise/catalog"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ListBooks returns one page of the catalogue.
func (s *service) ListBooks(ctx context.Context, p spec.QueryParameters) (spec.PagedResult[Book], error) {
	p = p.Normalize()
	return cache.Query(ctx, s.cache, s.metrics, s.log, p.CacheKey(cache.PrefixBooks), cache.BooksTTL,
		func(ctx context.Context) (spec.PagedResult[Book], error) {
			uow := s.store.Begin()
			q := spec.Books(p)
			books, err := uow.Books.Find(ctx, q)
			if err != nil {
				return spec.PagedResult[Book]{}, fmt.Errorf("list books: %w", err)
			}
			total, err := uow.Books.Count(ctx, q)
			if err != nil {
				return spec.PagedResult[Book]{}, fmt.Errorf("count books: %w", err)
			}
			return spec.NewPagedResult(mapAll(books, toBook), total, p), nil
		})
}

func (s *service) GetBook(ctx context.Context, id uuid.UUID) (*Book, error) {
	b, err := s.store.Begin().Books.GetWithDetails(ctx, id)
	if err != nil {
		return nil, lookup(err, msgBookNotFound)
	}
	if b.IsDeleted() {
		return nil, apperr.NotFound(msgBookNotFound)
	}
	dto := toBook(b)
	return &dto, nil
}

// CreateBook adds a title with all of its copies on the shelf.
func (s *service) CreateBook(ctx context.Context, req BookRequest) (*Book, error) {
	ctx, span := s.tracer.Start(ctx, "catalog.create_book",
		trace.WithAttributes(attribute.String("book.title", req.Title), attribute.Int("book.copies", req.TotalCopies)))
	defer span.End()

	uow := s.store.Begin()
	author, err := s.liveAuthor(ctx, uow, req.AuthorID)
	if err != nil {
		return nil, err
	}
	isbn := strings.TrimSpace(req.ISBN)
	if err := s.ensureISBNFree(ctx, uow, isbn, uuid.Nil); err != nil {
		return nil, err
	}
	categories, err := s.categoryIDs(ctx, uow, req.CategoryIDs)
	if err != nil {
		return nil, err
	}

	b, err := domain.NewBook(strings.TrimSpace(req.Title), author.ID, req.TotalCopies)
	if err != nil {
		return nil, apperr.Validation("Total copies must be greater than 0.")
	}
	applyRequest(b, req)
	b.ISBN = isbn
	b.CategoryIDs = categories

	if b.Description == "" && s.describer != nil && s.describer.IsAvailable() {
		desc, err := s.describer.GenerateDescription(ctx, b.Title, author.FullName())
		if err != nil {
			s.log.WarnContext(ctx, "description generation failed", "title", b.Title, "error", err)
		}
		b.Description = desc
	}

	uow.Books.Add(b)
	if err := s.commit(ctx, uow); err != nil {
		span.RecordError(err)
		return nil, err
	}
	s.cache.RemoveByPrefix(ctx, cache.PrefixBooks)
	span.SetAttributes(attribute.String("book.id", b.ID.String()))

	return s.GetBook(ctx, b.ID)
}

// UpdateBook replaces the editable fields. Changing the copy count moves
// the available count by the same delta.
func (s *service) UpdateBook(ctx context.Context, id uuid.UUID, req BookRequest) (*Book, error) {
	ctx, span := s.tracer.Start(ctx, "catalog.update_book", trace.WithAttributes(attribute.String("book.id", id.String())))
	defer span.End()

	uow := s.store.Begin()
	b, err := uow.Books.GetByID(ctx, id)
	if err != nil {
		return nil, lookup(err, msgBookNotFound)
	}
	if b.IsDeleted() {
		return nil, apperr.NotFound(msgBookNotFound)
	}
	if req.AuthorID != b.AuthorID {
		if _, err := s.liveAuthor(ctx, uow, req.AuthorID); err != nil {
			return nil, err
		}
	}
	isbn := strings.TrimSpace(req.ISBN)
	if !strings.EqualFold(isbn, b.ISBN) {
		if err := s.ensureISBNFree(ctx, uow, isbn, b.ID); err != nil {
			return nil, err
		}
	}
	if req.CategoryIDs != nil {
		ids, err := s.categoryIDs(ctx, uow, req.CategoryIDs)
		if err != nil {
			return nil, err
		}
		b.CategoryIDs = ids
	}

	b.Title = strings.TrimSpace(req.Title)
	b.ISBN = isbn
	b.AuthorID = req.AuthorID
	applyRequest(b, req)
	if err := b.SetTotalCopies(req.TotalCopies); err != nil {
		return nil, apperr.Validation("Total copies must be greater than 0.")
	}

	uow.Books.Update(b)
	if err := s.commit(ctx, uow); err != nil {
		span.RecordError(err)
		return nil, err
	}
	s.cache.RemoveByPrefix(ctx, cache.PrefixBooks)

	return s.GetBook(ctx, b.ID)
}

// DeleteBook soft-deletes the book; its loans keep pointing at it.
func (s *service) DeleteBook(ctx context.Context, id uuid.UUID) error {
	uow := s.store.Begin()
	b, err := uow.Books.GetByID(ctx, id)
	if err != nil {
		return lookup(err, msgBookNotFound)
	}
	if b.IsDeleted() {
		return apperr.NotFound(msgBookNotFound)
	}
	uow.Books.Delete(ctx, b)
	if err := s.commit(ctx, uow); err != nil {
		return err
	}
	s.cache.RemoveByPrefix(ctx, cache.PrefixBooks)
	return nil
}

// BookHistory lists the recorded events of a book, oldest first. Deleted
// books keep their history.
func (s *service) BookHistory(ctx context.Context, id uuid.UUID) ([]HistoryEntry, error) {
	if _, err := s.store.Begin().Books.GetByID(ctx, id); err != nil {
		return nil, lookup(err, msgBookNotFound)
	}
	if s.history == nil {
		return []HistoryEntry{}, nil
	}
	entries, err := audit.History(ctx, s.history, id)
	if err != nil {
		return nil, fmt.Errorf("book history: %w", err)
	}
	out := make([]HistoryEntry, len(entries))
	for i, e := range entries {
		out[i] = HistoryEntry{
			Event:      e.EventType,
			Version:    e.Version,
			Actor:      e.Actor,
			OccurredAt: e.OccurredAt,
			Data:       e.Data,
		}
	}
	return out, nil
}

func (s *service) ListAuthors(ctx context.Context, p spec.QueryParameters) (spec.PagedResult[Author], error) {
	p = p.Normalize()
	return cache.Query(ctx, s.cache, s.metrics, s.log, p.CacheKey(cache.PrefixAuthors), cache.AuthorsTTL,
		func(ctx context.Context) (spec.PagedResult[Author], error) {
			uow := s.store.Begin()
			q := spec.Authors(p)
			authors, err := uow.Authors.Find(ctx, q)
			if err != nil {
				return spec.PagedResult[Author]{}, fmt.Errorf("list authors: %w", err)
			}
			total, err := uow.Authors.Count(ctx, q)
			if err != nil {
				return spec.PagedResult[Author]{}, fmt.Errorf("count authors: %w", err)
			}
			return spec.NewPagedResult(mapAll(authors, toAuthor), total, p), nil
		})
}

// AllAuthors feeds pick lists.
func (s *service) AllAuthors(ctx context.Context) ([]Author, error) {
	return cache.Query(ctx, s.cache, s.metrics, s.log, cache.PrefixAuthors+"all", cache.AuthorsTTL,
		func(ctx context.Context) ([]Author, error) {
			authors, err := s.store.Begin().Authors.Find(ctx, spec.AllAuthors())
			if err != nil {
				return nil, fmt.Errorf("all authors: %w", err)
			}
			return mapAll(authors, toAuthor), nil
		})
}

func (s *service) GetAuthor(ctx context.Context, id uuid.UUID) (*Author, error) {
	a, err := s.liveAuthor(ctx, s.store.Begin(), id)
	if err != nil {
		return nil, err
	}
	dto := toAuthor(a)
	return &dto, nil
}

func (s *service) CreateAuthor(ctx context.Context, req AuthorRequest) (*Author, error) {
	uow := s.store.Begin()
	a := domain.NewAuthor(strings.TrimSpace(req.FirstName), strings.TrimSpace(req.LastName), req.Biography)
	uow.Authors.Add(a)
	if err := s.commit(ctx, uow); err != nil {
		return nil, err
	}
	s.invalidateAuthors(ctx)
	dto := toAuthor(a)
	return &dto, nil
}

func (s *service) UpdateAuthor(ctx context.Context, id uuid.UUID, req AuthorRequest) (*Author, error) {
	uow := s.store.Begin()
	a, err := s.liveAuthor(ctx, uow, id)
	if err != nil {
		return nil, err
	}
	a.FirstName = strings.TrimSpace(req.FirstName)
	a.LastName = strings.TrimSpace(req.LastName)
	a.Biography = req.Biography
	uow.Authors.Update(a)
	if err := s.commit(ctx, uow); err != nil {
		return nil, err
	}
	s.invalidateAuthors(ctx)
	dto := toAuthor(a)
	return &dto, nil
}

// DeleteAuthor soft-deletes the author. Their books stay listed.
func (s *service) DeleteAuthor(ctx context.Context, id uuid.UUID) error {
	uow := s.store.Begin()
	a, err := s.liveAuthor(ctx, uow, id)
	if err != nil {
		return err
	}
	uow.Authors.Delete(ctx, a)
	if err := s.commit(ctx, uow); err != nil {
		return err
	}
	s.invalidateAuthors(ctx)
	return nil
}

func (s *service) ListCategories(ctx context.Context, p spec.QueryParameters) (spec.PagedResult[Category], error) {
	p = p.Normalize()
	return cache.Query(ctx, s.cache, s.metrics, s.log, p.CacheKey(cache.PrefixCategories), cache.CategoriesTTL,
		func(ctx context.Context) (spec.PagedResult[Category], error) {
			uow := s.store.Begin()
			q := spec.Categories(p)
			cats, err := uow.Categories.Find(ctx, q)
			if err != nil {
				return spec.PagedResult[Category]{}, fmt.Errorf("list categories: %w", err)
			}
			total, err := uow.Categories.Count(ctx, q)
			if err != nil {
				return spec.PagedResult[Category]{}, fmt.Errorf("count categories: %w", err)
			}
			return spec.NewPagedResult(mapAll(cats, toCategory), total, p), nil
		})
}

func (s *service) AllCategories(ctx context.Context) ([]Category, error) {
	return cache.Query(ctx, s.cache, s.metrics, s.log, cache.PrefixCategories+"all", cache.CategoriesTTL,
		func(ctx context.Context) ([]Category, error) {
			cats, err := s.store.Begin().Categories.Find(ctx, spec.AllCategories())
			if err != nil {
				return nil, fmt.Errorf("all categories: %w", err)
			}
			return mapAll(cats, toCategory), nil
		})
}

func (s *service) GetCategory(ctx context.Context, id uuid.UUID) (*Category, error) {
	c, err := s.store.Begin().Categories.GetByID(ctx, id)
	if err != nil {
		return nil, lookup(err, msgCategoryNotFound)
	}
	dto := toCategory(c)
	return &dto, nil
}

// CreateCategory refuses a name that differs from an existing one only by
// case.
func (s *service) CreateCategory(ctx context.Context, req CategoryRequest) (*Category, error) {
	uow := s.store.Begin()
	name := strings.TrimSpace(req.Name)
	if err := s.ensureNameFree(ctx, uow, name, uuid.Nil); err != nil {
		return nil, err
	}
	c := domain.NewCategory(name, req.Description)
	uow.Categories.Add(c)
	if err := s.commit(ctx, uow); err != nil {
		return nil, err
	}
	s.invalidateCategories(ctx)
	dto := toCategory(c)
	return &dto, nil
}

func (s *service) UpdateCategory(ctx context.Context, id uuid.UUID, req CategoryRequest) (*Category, error) {
	uow := s.store.Begin()
	c, err := uow.Categories.GetByID(ctx, id)
	if err != nil {
		return nil, lookup(err, msgCategoryNotFound)
	}
	name := strings.TrimSpace(req.Name)
	if err := s.ensureNameFree(ctx, uow, name, c.ID); err != nil {
		return nil, err
	}
	c.Name = name
	c.Description = req.Description
	uow.Categories.Update(c)
	if err := s.commit(ctx, uow); err != nil {
		return nil, err
	}
	s.invalidateCategories(ctx)
	dto := toCategory(c)
	return &dto, nil
}

// DeleteCategory removes the category and its book links.
func (s *service) DeleteCategory(ctx context.Context, id uuid.UUID) error {
	uow := s.store.Begin()
	c, err := uow.Categories.GetByID(ctx, id)
	if err != nil {
		return lookup(err, msgCategoryNotFound)
	}
	uow.Categories.Delete(ctx, c)
	if err := s.commit(ctx, uow); err != nil {
		return err
	}
	s.invalidateCategories(ctx)
	return nil
}

// book listings embed author and category names
func (s *service) invalidateAuthors(ctx context.Context) {
	s.cache.RemoveByPrefix(ctx, cache.PrefixAuthors)
	s.cache.RemoveByPrefix(ctx, cache.PrefixBooks)
}

func (s *service) invalidateCategories(ctx context.Context) {
	s.cache.RemoveByPrefix(ctx, cache.PrefixCategories)
	s.cache.RemoveByPrefix(ctx, cache.PrefixBooks)
}

func (s *service) liveAuthor(ctx context.Context, uow *store.UnitOfWork, id uuid.UUID) (*domain.Author, error) {
	a, err := uow.Authors.GetByID(ctx, id)
	if err != nil {
		return nil, lookup(err, msgAuthorNotFound)
	}
	if a.IsDeleted() {
		return nil, apperr.NotFound(msgAuthorNotFound)
	}
	return a, nil
}

func (s *service) ensureISBNFree(ctx context.Context, uow *store.UnitOfWork, isbn string, self uuid.UUID) error {
	if isbn == "" {
		return nil
	}
	other, err := uow.Books.GetByISBN(ctx, isbn)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return nil
	case err != nil:
		return fmt.Errorf("isbn lookup: %w", err)
	case other.ID != self:
		return apperr.Conflict(msgDuplicateISBN)
	}
	return nil
}

func (s *service) ensureNameFree(ctx context.Context, uow *store.UnitOfWork, name string, self uuid.UUID) error {
	other, err := uow.Categories.FindOne(ctx, spec.CategoryByName(name))
	switch {
	case errors.Is(err, store.ErrNotFound):
		return nil
	case err != nil:
		return fmt.Errorf("category lookup: %w", err)
	case other.ID != self:
		return apperr.Conflict(msgDuplicateName)
	}
	return nil
}

// categoryIDs dedupes ids and checks that every one exists.
func (s *service) categoryIDs(ctx context.Context, uow *store.UnitOfWork, ids []uuid.UUID) ([]uuid.UUID, error) {
	seen := make(map[uuid.UUID]struct{}, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	if len(out) == 0 {
		return out, nil
	}
	n, err := uow.Categories.Count(ctx, spec.New(spec.Where(spec.FieldID, spec.In, out)))
	if err != nil {
		return nil, fmt.Errorf("category lookup: %w", err)
	}
	if n != len(out) {
		return nil, apperr.NotFound(msgCategoryNotFound)
	}
	return out, nil
}

func (s *service) commit(ctx context.Context, uow *store.UnitOfWork) error {
	err := uow.SaveChanges(ctx)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrDuplicate):
		return apperr.Wrap(apperr.KindConflict, duplicateMessage(err), err)
	case errors.Is(err, store.ErrConcurrencyConflict):
		return apperr.Wrap(apperr.KindConflict, msgStale, err)
	}
	return err
}

// duplicateMessage covers the race where the pre-check passed but the
// store's unique index fired.
func duplicateMessage(err error) string {
	if strings.Contains(strings.ToLower(err.Error()), "categor") {
		return msgDuplicateName
	}
	return msgDuplicateISBN
}

func applyRequest(b *domain.Book, req BookRequest) {
	b.Description = req.Description
	b.CoverImageURL = req.CoverImageURL
	b.Publisher = req.Publisher
	b.PublishedDate = req.PublishedDate
	b.PageCount = req.PageCount
	if lang := strings.TrimSpace(req.Language); lang != "" {
		b.Language = lang
	}
}

func lookup(err error, msg string) error {
	if errors.Is(err, store.ErrNotFound) {
		return apperr.NotFound(msg)
	}
	return err
}

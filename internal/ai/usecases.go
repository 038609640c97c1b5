package ai

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"

	"github.com/google/uuid"

	"shelfwise/internal/apperr"
	"shelfwise/internal/domain"
	"shelfwise/internal/store"
)

const (
	msgNotConfigured = "AI service is not configured."
	msgNoPatron      = "Patron profile not found."
	recommendLimit   = 5
)

type DescriptionRequest struct {
	Title  string `json:"title" validate:"required,max=500"`
	Author string `json:"author" validate:"required,max=200"`
}

type CategorizeRequest struct {
	Title       string `json:"title" validate:"required,max=500"`
	Author      string `json:"author" validate:"required,max=200"`
	Description string `json:"description" validate:"max=5000"`
}

type SearchRequest struct {
	Query string `json:"query" validate:"required,max=500"`
}

// Categories splits suggestions into names the library already uses and
// new ones.
type Categories struct {
	Existing  []string `json:"existing"`
	Suggested []string `json:"suggested"`
}

type SearchTerms struct {
	Title    string `json:"title,omitempty"`
	Author   string `json:"author,omitempty"`
	Genre    string `json:"genre,omitempty"`
	Keywords string `json:"keywords,omitempty"`
}

type RecommendedBook struct {
	ID          uuid.UUID `json:"id"`
	Title       string    `json:"title"`
	Author      string    `json:"author"`
	IsAvailable bool      `json:"isAvailable"`
}

type Recommendations struct {
	FromLibrary  []RecommendedBook `json:"fromLibrary"`
	DiscoverMore []string          `json:"discoverMore"`
}

type Status struct {
	Available bool `json:"available"`
}

// UseCases combines the model with the catalogue for the /ai endpoints.
type UseCases struct {
	ai    Service
	store *store.Store
}

func NewUseCases(ai Service, st *store.Store) *UseCases {
	return &UseCases{ai: ai, store: st}
}

func (u *UseCases) Status() Status { return Status{Available: u.ai.IsAvailable()} }

func (u *UseCases) GenerateDescription(ctx context.Context, req DescriptionRequest) (string, error) {
	if !u.ai.IsAvailable() {
		return "", apperr.Validation(msgNotConfigured)
	}
	return u.ai.GenerateDescription(ctx, req.Title, req.Author)
}

// Categorize matches suggestions against category names ignoring case and
// reports existing ones with the stored spelling.
func (u *UseCases) Categorize(ctx context.Context, req CategorizeRequest) (*Categories, error) {
	if !u.ai.IsAvailable() {
		return nil, apperr.Validation(msgNotConfigured)
	}
	cats, err := u.store.Begin().Categories.GetAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	byName := make(map[string]string, len(cats))
	names := make([]string, len(cats))
	for i, c := range cats {
		names[i] = c.Name
		byName[strings.ToLower(c.Name)] = c.Name
	}

	out := &Categories{Existing: []string{}, Suggested: []string{}}
	for _, s := range u.ai.Categorize(ctx, req.Title, req.Author, req.Description, names) {
		if name, ok := byName[strings.ToLower(s)]; ok {
			out.Existing = append(out.Existing, name)
		} else {
			out.Suggested = append(out.Suggested, s)
		}
	}
	return out, nil
}

// SmartSearch degrades to treating the whole reply as keywords when the
// model does not answer with the expected object.
func (u *UseCases) SmartSearch(ctx context.Context, req SearchRequest) (*SearchTerms, error) {
	if !u.ai.IsAvailable() {
		return nil, apperr.Validation(msgNotConfigured)
	}
	raw := u.ai.SmartSearch(ctx, req.Query)
	var terms SearchTerms
	if err := json.UnmarshalFromString(stripFence(raw), &terms); err != nil {
		return &SearchTerms{Keywords: raw}, nil
	}
	return &terms, nil
}

// Recommendations suggests unread catalogue titles, topped up at random to
// five, plus titles the library does not hold. Without a model only the
// random picks are returned.
func (u *UseCases) Recommendations(ctx context.Context, actor domain.Actor) (*Recommendations, error) {
	uow := u.store.Begin()
	patron, err := uow.Patrons.GetByUserID(ctx, actor.UserID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.Conflict(msgNoPatron)
	}
	if err != nil {
		return nil, fmt.Errorf("patron lookup: %w", err)
	}

	books, err := uow.Books.ListWithAuthors(ctx)
	if err != nil {
		return nil, fmt.Errorf("list books: %w", err)
	}
	history, err := uow.Checkouts.AllByPatron(ctx, patron.ID)
	if err != nil {
		return nil, fmt.Errorf("patron checkouts: %w", err)
	}

	borrowed := make(map[uuid.UUID]bool)
	var read []string
	for _, c := range history {
		if c.Book == nil || borrowed[c.BookID] {
			continue
		}
		borrowed[c.BookID] = true
		read = append(read, c.Book.Title)
	}
	var unread []*domain.Book
	for _, b := range books {
		if !borrowed[b.ID] {
			unread = append(unread, b)
		}
	}

	out := &Recommendations{FromLibrary: []RecommendedBook{}, DiscoverMore: []string{}}
	useModel := u.ai.IsAvailable() && len(read) > 0
	picked := make(map[uuid.UUID]bool)

	if useModel && len(unread) > 0 {
		titles := make([]string, len(unread))
		for i, b := range unread {
			titles[i] = b.Title
		}
		for _, t := range u.ai.MatchFromCatalog(ctx, read, titles) {
			if len(out.FromLibrary) == recommendLimit {
				break
			}
			if b := findTitle(unread, t); b != nil && !picked[b.ID] {
				picked[b.ID] = true
				out.FromLibrary = append(out.FromLibrary, recommended(b))
			}
		}
	}
	for _, i := range rand.Perm(len(unread)) {
		if len(out.FromLibrary) == recommendLimit {
			break
		}
		if b := unread[i]; !picked[b.ID] {
			picked[b.ID] = true
			out.FromLibrary = append(out.FromLibrary, recommended(b))
		}
	}

	if useModel {
		held := make(map[string]bool, len(books))
		for _, b := range books {
			held[strings.ToLower(b.Title)] = true
		}
		for _, t := range u.ai.Recommend(ctx, read) {
			if len(out.DiscoverMore) == recommendLimit {
				break
			}
			if !held[strings.ToLower(t)] {
				out.DiscoverMore = append(out.DiscoverMore, t)
			}
		}
	}
	return out, nil
}

func findTitle(books []*domain.Book, title string) *domain.Book {
	for _, b := range books {
		if strings.EqualFold(b.Title, title) {
			return b
		}
	}
	return nil
}

func recommended(b *domain.Book) RecommendedBook {
	r := RecommendedBook{ID: b.ID, Title: b.Title, IsAvailable: b.IsAvailable()}
	if b.Author != nil {
		r.Author = b.Author.FullName()
	}
	return r
}

// Package seed loads a starter catalogue and staff accounts from YAML.
// Running it twice changes nothing.
package seed

import (
	"bytes"
	"context"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"shelfwise/internal/apperr"
	"shelfwise/internal/domain"
	"shelfwise/internal/membership"
	"shelfwise/internal/spec"
	"shelfwise/internal/store"
)

//go:embed catalogue.yaml
var defaultCatalogue []byte

type Catalogue struct {
	Users      []User     `yaml:"users"`
	Categories []Category `yaml:"categories"`
	Authors    []Author   `yaml:"authors"`
}

type User struct {
	Email     string      `yaml:"email"`
	Password  string      `yaml:"password"`
	FirstName string      `yaml:"firstName"`
	LastName  string      `yaml:"lastName"`
	Role      domain.Role `yaml:"role"`
}

type Category struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
}

type Author struct {
	FirstName string `yaml:"firstName"`
	LastName  string `yaml:"lastName"`
	Biography string `yaml:"biography"`
	Books     []Book `yaml:"books"`
}

type Book struct {
	Title         string    `yaml:"title"`
	ISBN          string    `yaml:"isbn"`
	Description   string    `yaml:"description"`
	TotalCopies   int       `yaml:"totalCopies"`
	PublishedDate time.Time `yaml:"publishedDate"`
	Language      string    `yaml:"language"`
	Categories    []string  `yaml:"categories"`
}

// Parse decodes a catalogue, rejecting unknown keys.
func Parse(r io.Reader) (*Catalogue, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var c Catalogue
	if err := dec.Decode(&c); err != nil {
		return nil, fmt.Errorf("decode catalogue: %w", err)
	}
	return &c, nil
}

// Load reads path, or the built-in catalogue when path is empty.
func Load(path string) (*Catalogue, error) {
	if path == "" {
		return Parse(bytes.NewReader(defaultCatalogue))
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Parse(f)
}

// Report counts what a run created.
type Report struct {
	Users      int
	Categories int
	Authors    int
	Books      int
}

type Seeder struct {
	store   *store.Store
	members membership.Service
	log     *slog.Logger
}

func New(st *store.Store, members membership.Service, log *slog.Logger) *Seeder {
	if log == nil {
		log = slog.Default()
	}
	return &Seeder{store: st, members: members, log: log}
}

func (s *Seeder) Run(ctx context.Context, c *Catalogue) (Report, error) {
	ctx = store.WithActor(ctx, "seed")
	var rep Report

	for _, u := range c.Users {
		_, err := s.members.CreateUser(ctx, membership.RegisterRequest{
			Email: u.Email, Password: u.Password, FirstName: u.FirstName, LastName: u.LastName,
		}, u.Role)
		switch {
		case err == nil:
			rep.Users++
		case apperr.Is(err, apperr.KindConflict):
		default:
			return rep, fmt.Errorf("seed user %s: %w", u.Email, err)
		}
	}

	cats, err := s.categories(ctx, c.Categories, &rep)
	if err != nil {
		return rep, err
	}
	for _, a := range c.Authors {
		if err := s.author(ctx, a, cats, &rep); err != nil {
			return rep, err
		}
	}
	s.log.InfoContext(ctx, "seed complete",
		"users", rep.Users, "categories", rep.Categories, "authors", rep.Authors, "books", rep.Books)
	return rep, nil
}

// categories returns every category id by lower-cased name.
func (s *Seeder) categories(ctx context.Context, in []Category, rep *Report) (map[string]*domain.Category, error) {
	uow := s.store.Begin()
	existing, err := uow.Categories.GetAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	byName := make(map[string]*domain.Category, len(existing)+len(in))
	for _, c := range existing {
		byName[strings.ToLower(c.Name)] = c
	}
	for _, c := range in {
		key := strings.ToLower(c.Name)
		if _, ok := byName[key]; ok {
			continue
		}
		cat := domain.NewCategory(c.Name, c.Description)
		uow.Categories.Add(cat)
		byName[key] = cat
		rep.Categories++
	}
	if err := uow.SaveChanges(ctx); err != nil {
		return nil, fmt.Errorf("save categories: %w", err)
	}
	return byName, nil
}

func (s *Seeder) author(ctx context.Context, in Author, cats map[string]*domain.Category, rep *Report) error {
	uow := s.store.Begin()
	author, err := uow.Authors.FindOne(ctx, spec.New(spec.NotDeleted,
		spec.Where(spec.AuthorFirstName, spec.Eq, in.FirstName),
		spec.Where(spec.AuthorLastName, spec.Eq, in.LastName)))
	switch {
	case errors.Is(err, store.ErrNotFound):
		author = domain.NewAuthor(in.FirstName, in.LastName, in.Biography)
		uow.Authors.Add(author)
		rep.Authors++
	case err != nil:
		return fmt.Errorf("author lookup: %w", err)
	}

	for _, b := range in.Books {
		if b.ISBN != "" {
			if _, err := uow.Books.GetByISBN(ctx, b.ISBN); err == nil {
				continue
			} else if !errors.Is(err, store.ErrNotFound) {
				return fmt.Errorf("isbn lookup: %w", err)
			}
		}
		book, err := domain.NewBook(b.Title, author.ID, b.TotalCopies)
		if err != nil {
			return fmt.Errorf("seed book %q: %w", b.Title, err)
		}
		book.ISBN, book.Description = b.ISBN, b.Description
		if b.Language != "" {
			book.Language = b.Language
		}
		if !b.PublishedDate.IsZero() {
			d := b.PublishedDate.UTC()
			book.PublishedDate = &d
		}
		for _, name := range b.Categories {
			cat, ok := cats[strings.ToLower(name)]
			if !ok {
				return fmt.Errorf("seed book %q: unknown category %q", b.Title, name)
			}
			book.CategoryIDs = append(book.CategoryIDs, cat.ID)
		}
		uow.Books.Add(book)
		rep.Books++
	}
	if err := uow.SaveChanges(ctx); err != nil {
		return fmt.Errorf("save author %s: %w", author.FullName(), err)
	}
	return nil
}

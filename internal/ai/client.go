// Package ai wraps a chat model for catalogue chores: blurbs, category
// suggestions, search-term extraction and reading recommendations. Every
// call is best effort.
package ai

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Service is the model-facing half. Failures come back as empty results,
// never as errors the caller must handle, except where noted.
type Service interface {
	IsAvailable() bool
	GenerateDescription(ctx context.Context, title, author string) (string, error)
	Categorize(ctx context.Context, title, author, description string, existing []string) []string
	Recommend(ctx context.Context, previous []string) []string
	// SmartSearch returns the model's raw JSON, "{}" on failure.
	SmartSearch(ctx context.Context, query string) string
	MatchFromCatalog(ctx context.Context, read, catalog []string) []string
}

type client struct {
	completer Completer
	log       *slog.Logger
	tracer    trace.Tracer
}

// New returns a Service over c. A nil completer makes every call a no-op.
func New(c Completer, log *slog.Logger) Service {
	if log == nil {
		log = slog.Default()
	}
	return &client{completer: c, log: log, tracer: otel.Tracer("shelfwise/ai")}
}

func (c *client) IsAvailable() bool { return c.completer != nil }

func (c *client) complete(ctx context.Context, op, prompt string) (string, bool) {
	if c.completer == nil {
		c.log.WarnContext(ctx, "ai called without a configured provider", "op", op)
		return "", false
	}
	ctx, span := c.tracer.Start(ctx, "ai."+op, trace.WithAttributes(attribute.Int("prompt.length", len(prompt))))
	defer span.End()

	out, err := c.completer.Complete(ctx, prompt)
	if err != nil {
		span.RecordError(err)
		c.log.ErrorContext(ctx, "ai completion failed", "op", op, "error", err)
		return "", false
	}
	return out, true
}

// GenerateDescription always yields text; the error is reserved for a
// cancelled context.
func (c *client) GenerateDescription(ctx context.Context, title, author string) (string, error) {
	prompt := fmt.Sprintf("Write a creative book description (2-3 sentences) for: %q by %s.\n"+
		"This is for a library catalog - create an engaging, fictional description.\n"+
		"RESPOND WITH ONLY THE DESCRIPTION TEXT.\n"+
		"NO disclaimers, NO \"I couldn't find\", NO meta-commentary. Just the description.", title, author)

	out, ok := c.complete(ctx, "generate_description", prompt)
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if !ok {
		return fallbackDescription(title, author), nil
	}
	if d := cleanDescription(out); d != "" {
		return d, nil
	}
	return fallbackDescription(title, author), nil
}

func (c *client) Categorize(ctx context.Context, title, author, description string, existing []string) []string {
	var sb strings.Builder
	sb.WriteString("Task: Categorize this book into 1-3 categories.\n")
	fmt.Fprintf(&sb, "Book: %q by %s\n", title, author)
	if description != "" {
		fmt.Fprintf(&sb, "Description: %s\n", description)
	}
	if len(existing) > 0 {
		fmt.Fprintf(&sb, "Available categories: [%s]. Use these when they fit. ", quoteList(existing, 30))
	}
	sb.WriteString("RESPOND WITH ONLY A JSON ARRAY. Example: [\"Fiction\", \"Mystery\"]\n" +
		"NO explanations, NO markdown, NO other text. ONLY the JSON array.")

	out, ok := c.complete(ctx, "categorize", sb.String())
	if !ok {
		return nil
	}
	return extractStrings(out)
}

func (c *client) Recommend(ctx context.Context, previous []string) []string {
	prompt := fmt.Sprintf("Based on these books: %s, recommend 5 similar books.\n"+
		"RESPOND WITH ONLY A JSON ARRAY of book titles. Example: [\"Book 1\", \"Book 2\"]\n"+
		"NO explanations, NO markdown, NO other text. ONLY the JSON array.", quoteList(previous, len(previous)))

	out, ok := c.complete(ctx, "recommend", prompt)
	if !ok {
		return nil
	}
	return extractStrings(out)
}

func (c *client) SmartSearch(ctx context.Context, query string) string {
	prompt := "Extract search terms from this library search query. Be BRIEF - use only essential words. " +
		fmt.Sprintf("Query: %q ", query) +
		"Return JSON with these optional fields (use only what's mentioned, keep values SHORT): " +
		"\"author\" (just the name, e.g. \"Stephen Hawking\"), " +
		"\"genre\" (one word, e.g. \"fiction\"), " +
		"\"keywords\" (1-2 key words only). " +
		"Do NOT include title unless user asks for a specific book title. " +
		"Example: {\"author\": \"Hawking\", \"genre\": \"science\"} " +
		"Only return JSON, no markdown."

	out, ok := c.complete(ctx, "smart_search", prompt)
	if !ok {
		return "{}"
	}
	return out
}

// MatchFromCatalog asks for up to five titles from catalog for someone who
// has read read.
func (c *client) MatchFromCatalog(ctx context.Context, read, catalog []string) []string {
	if len(catalog) == 0 {
		return nil
	}
	prompt := fmt.Sprintf("User has read: %s.\n"+
		"From this catalog: [%s], pick up to 5 books they might enjoy.\n"+
		"RESPOND WITH ONLY A JSON ARRAY of exact titles from the catalog.\n"+
		"Example: [\"Title1\", \"Title2\"]\n"+
		"NO explanations, NO markdown, NO other text. ONLY the JSON array.", quoteList(read, 5), quoteList(catalog, 20))

	out, ok := c.complete(ctx, "match_catalog", prompt)
	if !ok {
		return nil
	}
	return extractStrings(out)
}

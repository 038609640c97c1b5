package spec

import (
	"net/url"
	"strconv"
	"strings"
)

const (
	DefaultPageSize = 10
	MaxPageSize     = 100
)

// QueryParameters is the listing request shape shared by every collection
// endpoint.
type QueryParameters struct {
	PageNumber    int               `json:"pageNumber"`
	PageSize      int               `json:"pageSize"`
	SortBy        string            `json:"sortBy,omitempty"`
	SortDirection string            `json:"sortDirection,omitempty"`
	SearchTerm    string            `json:"searchTerm,omitempty"`
	Filters       map[string]string `json:"filters,omitempty"`
}

// ParseQuery reads pageNumber, pageSize, sortBy, sortDirection, searchTerm
// and filters[key]=value from a query string.
func ParseQuery(q url.Values) QueryParameters {
	p := QueryParameters{
		SortBy:        q.Get("sortBy"),
		SortDirection: q.Get("sortDirection"),
		SearchTerm:    strings.TrimSpace(q.Get("searchTerm")),
	}
	p.PageNumber, _ = strconv.Atoi(q.Get("pageNumber"))
	p.PageSize, _ = strconv.Atoi(q.Get("pageSize"))

	for key, values := range q {
		if !strings.HasPrefix(key, "filters[") || !strings.HasSuffix(key, "]") || len(values) == 0 {
			continue
		}
		name := strings.TrimSuffix(strings.TrimPrefix(key, "filters["), "]")
		if name == "" {
			continue
		}
		if p.Filters == nil {
			p.Filters = make(map[string]string)
		}
		p.Filters[name] = values[0]
	}
	return p.Normalize()
}

// Normalize clamps paging to sane bounds and fills the sort direction.
func (p QueryParameters) Normalize() QueryParameters {
	if p.PageNumber < 1 {
		p.PageNumber = 1
	}
	if p.PageSize < 1 {
		p.PageSize = DefaultPageSize
	}
	if p.PageSize > MaxPageSize {
		p.PageSize = MaxPageSize
	}
	if p.SortDirection == "" {
		p.SortDirection = "asc"
	}
	return p
}

func (p QueryParameters) Descending() bool {
	return strings.EqualFold(p.SortDirection, "desc")
}

func (p QueryParameters) Skip() int {
	return (p.PageNumber - 1) * p.PageSize
}

// Filter returns a filter value looked up case-insensitively.
func (p QueryParameters) Filter(name string) (string, bool) {
	for k, v := range p.Filters {
		if strings.EqualFold(k, name) {
			return v, true
		}
	}
	return "", false
}

// CacheKey is a deterministic, unambiguous function of every parameter.
// Values are query-escaped and keys sorted, so a separator inside a value
// cannot make two different parameter sets share a key.
func (p QueryParameters) CacheKey(prefix string) string {
	v := url.Values{}
	v.Set("page", strconv.Itoa(p.PageNumber))
	v.Set("size", strconv.Itoa(p.PageSize))
	v.Set("sort", p.SortBy)
	v.Set("dir", p.SortDirection)
	v.Set("q", p.SearchTerm)
	for k, val := range p.Filters {
		v.Set("f."+k, val)
	}
	return prefix + v.Encode()
}

// PagedResult is one page of a filtered listing.
type PagedResult[T any] struct {
	Items       []T  `json:"items"`
	TotalCount  int  `json:"totalCount"`
	PageNumber  int  `json:"pageNumber"`
	PageSize    int  `json:"pageSize"`
	TotalPages  int  `json:"totalPages"`
	HasPrevious bool `json:"hasPreviousPage"`
	HasNext     bool `json:"hasNextPage"`
}

func NewPagedResult[T any](items []T, total int, p QueryParameters) PagedResult[T] {
	if items == nil {
		items = []T{}
	}
	pages := 0
	if p.PageSize > 0 {
		pages = (total + p.PageSize - 1) / p.PageSize
	}
	return PagedResult[T]{
		Items:       items,
		TotalCount:  total,
		PageNumber:  p.PageNumber,
		PageSize:    p.PageSize,
		TotalPages:  pages,
		HasPrevious: p.PageNumber > 1,
		HasNext:     p.PageNumber < pages,
	}
}

package pagination

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
)

const (
	DefaultLimit = 20
	MaxLimit     = 100
)

// Params holds pagination parameters extracted from a request.
type Params struct {
	Limit  int
	Offset int
}

// FromContext extracts pagination parameters from the echo context.
func FromContext(c echo.Context) Params {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}

	offset, _ := strconv.Atoi(c.QueryParam("offset"))
	if offset < 0 {
		offset = 0
	}

	return Params{Limit: limit, Offset: offset}
}

// Response wraps a paginated API response.
type Response struct {
	Data    interface{} `json:"data"`
	Total   int         `json:"total"`
	Limit   int         `json:"limit"`
	Offset  int         `json:"offset"`
	HasMore bool        `json:"has_more"`
	Links   []Link      `json:"links,omitempty"`
}

func NewResponse(data interface{}, total, limit, offset int) *Response {
	return &Response{
		Data:    data,
		Total:   total,
		Limit:   limit,
		Offset:  offset,
		HasMore: offset+limit < total,
	}
}

// SQL returns the LIMIT and OFFSET clause for SQL queries.
func (p Params) SQL() string {
	return fmt.Sprintf("LIMIT %d OFFSET %d", p.Limit, p.Offset)
}

// HasNext returns true if there are more results after the current page.
func (p Params) HasNext(total int) bool {
	return p.Offset+p.Limit < total
}

// HasPrevious returns true if there are results before the current page.
func (p Params) HasPrevious() bool {
	return p.Offset > 0
}

// NextOffset returns the offset for the next page.
func (p Params) NextOffset() int {
	return p.Offset + p.Limit
}

// PreviousOffset returns the offset for the previous page.
// Returns 0 if the result would be negative.
func (p Params) PreviousOffset() int {
	prev := p.Offset - p.Limit
	if prev < 0 {
		return 0
	}
	return prev
}

// Link is one relation entry ("self", "next", "previous") of a paged
// collection.
type Link struct {
	Relation string `json:"relation"`
	URL      string `json:"url"`
}

// Links builds self/next/previous navigation links for a paged
// collection. basePath is the request path without query parameters;
// extra carries filter params as "key=value" pairs, already escaped.
func (p Params) Links(basePath string, total int, extra ...string) []Link {
	prefix := strings.Join(extra, "&")
	if prefix != "" {
		prefix += "&"
	}
	link := func(relation string, offset int) Link {
		return Link{
			Relation: relation,
			URL:      fmt.Sprintf("%s?%slimit=%d&offset=%d", basePath, prefix, p.Limit, offset),
		}
	}

	links := []Link{link("self", p.Offset)}
	if p.HasNext(total) {
		links = append(links, link("next", p.NextOffset()))
	}
	if p.HasPrevious() {
		links = append(links, link("previous", p.PreviousOffset()))
	}
	return links
}

package pagination

import (
	"fmt"
	"strconv"
)

// Params represents pagination query parameters
type Params struct {
	Page   int
	Limit  int
	Offset int
}

// Meta is the pagination block returned next to a page of results.
// Field names follow the legacy mobile clients.
type Meta struct {
	CurrentPage int `json:"current_page"`
	LastPage    int `json:"last_page"`
	PerPage     int `json:"per_page"`
	Total       int `json:"total"`
}

// Constants
const (
	DefaultPage  = 1
	DefaultLimit = 20
	MaxLimit     = 100
	MinLimit     = 1
)

// Parse parses pagination parameters from query string values.
// Out-of-range values are clamped; non-numeric values are an error.
func Parse(pageStr, limitStr string) (*Params, error) {
	page := DefaultPage
	limit := DefaultLimit

	// Parse page
	if pageStr != "" {
		p, err := strconv.Atoi(pageStr)
		if err != nil {
			return nil, fmt.Errorf("invalid page parameter: %w", err)
		}
		if p > 1 {
			page = p
		}
	}

	// Parse limit
	if limitStr != "" {
		l, err := strconv.Atoi(limitStr)
		if err != nil {
			return nil, fmt.Errorf("invalid limit parameter: %w", err)
		}
		limit = clampLimit(l)
	}

	return New(page, limit), nil
}

// New builds Params from already-parsed values, applying the same clamping as Parse
func New(page, limit int) *Params {
	if page < 1 {
		page = DefaultPage
	}
	if limit == 0 {
		limit = DefaultLimit
	}
	limit = clampLimit(limit)
	return &Params{
		Page:   page,
		Limit:  limit,
		Offset: CalculateOffset(page, limit),
	}
}

func clampLimit(l int) int {
	if l < MinLimit {
		return MinLimit
	}
	if l > MaxLimit {
		return MaxLimit
	}
	return l
}

// CalculateOffset calculates offset from page and limit
func CalculateOffset(page, limit int) int {
	if page < 1 {
		page = 1
	}
	return (page - 1) * limit
}

// CalculateTotalPages calculates total pages from total count and limit
func CalculateTotalPages(total, limit int) int {
	if limit <= 0 {
		return 0
	}
	totalPages := total / limit
	if total%limit > 0 {
		totalPages++
	}
	return totalPages
}

// BuildMeta creates the pagination block for a page of results
func BuildMeta(params *Params, total int) Meta {
	lastPage := CalculateTotalPages(total, params.Limit)
	if lastPage == 0 {
		lastPage = 1
	}
	return Meta{
		CurrentPage: params.Page,
		LastPage:    lastPage,
		PerPage:     params.Limit,
		Total:       total,
	}
}

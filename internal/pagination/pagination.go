// Package pagination turns page/page_size requests into Page envelopes over an
// ordered collection. It supports extracting the parameters from URL query strings,
// validating them, and calculating offsets for storage queries. It holds no state.
package pagination

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.io/infrasutra/mockinvoice/internal/invoice"
)

var (
	// ErrInvalidParams is returned for page < 1 or page_size outside [1, MaxPageSize].
	ErrInvalidParams = errors.New("invalid pagination parameters")
	// ErrOutOfRange is returned when page exceeds total_pages of a non-empty collection.
	ErrOutOfRange = errors.New("page out of range")
)

const (
	// MaxPageSize is the maximum number of items allowed per page
	MaxPageSize = 500
	// DefaultPage is the default page number when not specified
	DefaultPage = 1
	// DefaultPageSize is the default number of items per page when not specified
	DefaultPageSize = 10
)

// Params represents pagination parameters extracted from a request.
type Params struct {
	Page     int // Current page number (1-based)
	PageSize int // Number of items per page
}

// Offset computes the storage offset for the parameters.
func (p Params) Offset() int {
	return calculateOffset(p.Page, p.PageSize)
}

// Validate checks the bounds of both parameters.
func (p Params) Validate() error {
	if p.Page < 1 {
		return fmt.Errorf("%w: page must be >= 1, got %d", ErrInvalidParams, p.Page)
	}
	if p.PageSize < 1 || p.PageSize > MaxPageSize {
		return fmt.Errorf("%w: page_size must be within [1,%d], got %d", ErrInvalidParams, MaxPageSize, p.PageSize)
	}
	return nil
}

// Page is the envelope returned for a paginated read.
type Page struct {
	Items      []invoice.Email `json:"items"`
	Total      int             `json:"total"`
	Page       int             `json:"page"`
	PageSize   int             `json:"page_size"`
	TotalPages int             `json:"total_pages"`
	HasNext    bool            `json:"has_next"`
	HasPrev    bool            `json:"has_prev"`
}

// Source is the read side of a stored collection.
type Source interface {
	Count(ctx context.Context) (int, error)
	List(ctx context.Context, offset, limit int) ([]invoice.Email, error)
}

// calculateOffset computes the storage offset for a given page and page size.
// It ensures page is at least 1 to avoid negative offsets.
func calculateOffset(page, size int) int {
	if page < 1 {
		page = 1
	}
	return (page - 1) * size
}

// TotalPages returns ceil(total/size), or 0 for an empty collection.
func TotalPages(total, size int) int {
	if total <= 0 || size <= 0 {
		return 0
	}
	return (total + size - 1) / size
}

// ParamsFromQuery extracts page and page_size from URL query values. Missing values
// take the defaults; values that are not integers or fall outside their bounds are
// rejected with ErrInvalidParams.
func ParamsFromQuery(q url.Values) (Params, error) {
	params := Params{Page: DefaultPage, PageSize: DefaultPageSize}

	if pageStr := strings.TrimSpace(q.Get("page")); pageStr != "" {
		val, err := strconv.Atoi(pageStr)
		if err != nil {
			return Params{}, fmt.Errorf("%w: page %q is not an integer", ErrInvalidParams, pageStr)
		}
		params.Page = val
	}

	if sizeStr := strings.TrimSpace(q.Get("page_size")); sizeStr != "" {
		val, err := strconv.Atoi(sizeStr)
		if err != nil {
			return Params{}, fmt.Errorf("%w: page_size %q is not an integer", ErrInvalidParams, sizeStr)
		}
		params.PageSize = val
	}

	if err := params.Validate(); err != nil {
		return Params{}, err
	}
	return params, nil
}

// Paginate reads one page from src. Parameters are validated before src is touched.
// An empty collection yields an empty page; a page beyond the last page of a
// non-empty collection is ErrOutOfRange.
func Paginate(ctx context.Context, src Source, page, pageSize int) (Page, error) {
	params := Params{Page: page, PageSize: pageSize}
	if err := params.Validate(); err != nil {
		return Page{}, err
	}

	total, err := src.Count(ctx)
	if err != nil {
		return Page{}, fmt.Errorf("count records: %w", err)
	}
	totalPages := TotalPages(total, pageSize)
	if total > 0 && page > totalPages {
		return Page{}, fmt.Errorf("%w: page %d of %d", ErrOutOfRange, page, totalPages)
	}

	items := []invoice.Email{}
	if total > 0 {
		items, err = src.List(ctx, params.Offset(), pageSize)
		if err != nil {
			return Page{}, fmt.Errorf("list records: %w", err)
		}
		if items == nil {
			items = []invoice.Email{}
		}
	}

	return Page{
		Items:      items,
		Total:      total,
		Page:       page,
		PageSize:   pageSize,
		TotalPages: totalPages,
		HasNext:    page < totalPages,
		HasPrev:    page > 1,
	}, nil
}

package pagination

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.io/infrasutra/mockinvoice/internal/invoice"
)

type sliceSource struct {
	records []invoice.Email
	err     error
	lists   int
}

func (s *sliceSource) Count(context.Context) (int, error) {
	if s.err != nil {
		return 0, s.err
	}
	return len(s.records), nil
}

func (s *sliceSource) List(_ context.Context, offset, limit int) ([]invoice.Email, error) {
	s.lists++
	if offset >= len(s.records) {
		return nil, nil
	}
	end := min(offset+limit, len(s.records))
	return s.records[offset:end], nil
}

func newSource(n int) *sliceSource {
	src := &sliceSource{}
	for i := 1; i <= n; i++ {
		src.records = append(src.records, invoice.Email{MessageID: fmt.Sprintf("msg_%03d", i)})
	}
	return src
}

func TestPaginateBoundary(t *testing.T) {
	src := newSource(25)
	ctx := context.Background()

	first, err := Paginate(ctx, src, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, 3, first.TotalPages)
	assert.Equal(t, 25, first.Total)
	assert.Len(t, first.Items, 10)
	assert.True(t, first.HasNext)
	assert.False(t, first.HasPrev)
	assert.Equal(t, "msg_001", first.Items[0].MessageID)

	last, err := Paginate(ctx, src, 3, 10)
	require.NoError(t, err)
	assert.Len(t, last.Items, 5)
	assert.False(t, last.HasNext)
	assert.True(t, last.HasPrev)
	assert.Equal(t, "msg_021", last.Items[0].MessageID)

	_, err = Paginate(ctx, src, 4, 10)
	assert.ErrorIs(t, err, ErrOutOfRange)
}

func TestPaginateEmptyCollection(t *testing.T) {
	src := newSource(0)
	page, err := Paginate(context.Background(), src, 1, 10)
	require.NoError(t, err)
	assert.NotNil(t, page.Items)
	assert.Empty(t, page.Items)
	assert.Zero(t, page.Total)
	assert.Zero(t, page.TotalPages)
	assert.False(t, page.HasNext)
	assert.False(t, page.HasPrev)
	assert.Zero(t, src.lists)
}

func TestPaginateInvalidParams(t *testing.T) {
	tests := []struct {
		name       string
		page, size int
	}{
		{"zero page", 0, 10},
		{"negative page", -2, 10},
		{"zero size", 1, 0},
		{"oversized", 1, MaxPageSize + 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := newSource(5)
			_, err := Paginate(context.Background(), src, tt.page, tt.size)
			assert.ErrorIs(t, err, ErrInvalidParams)
			assert.Zero(t, src.lists)
		})
	}
}

func TestPaginateSourceError(t *testing.T) {
	boom := errors.New("backend down")
	_, err := Paginate(context.Background(), &sliceSource{err: boom}, 1, 10)
	assert.ErrorIs(t, err, boom)
}

func TestParamsFromQuery(t *testing.T) {
	tests := []struct {
		query   string
		want    Params
		wantErr bool
	}{
		{"", Params{Page: 1, PageSize: 10}, false},
		{"page=3&page_size=50", Params{Page: 3, PageSize: 50}, false},
		{"page_size=500", Params{Page: 1, PageSize: 500}, false},
		{"page=0", Params{}, true},
		{"page_size=501", Params{}, true},
		{"page=abc", Params{}, true},
		{"page_size=1.5", Params{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			q, err := url.ParseQuery(tt.query)
			require.NoError(t, err)
			got, err := ParamsFromQuery(q)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidParams)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTotalPages(t *testing.T) {
	assert.Equal(t, 0, TotalPages(0, 10))
	assert.Equal(t, 1, TotalPages(10, 10))
	assert.Equal(t, 3, TotalPages(25, 10))
	assert.Equal(t, 25, TotalPages(25, 1))
	assert.Equal(t, 20, Params{Page: 3, PageSize: 10}.Offset())
}

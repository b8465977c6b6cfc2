package pagination

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFromRequest(t *testing.T) {
	p := FromRequest(httptest.NewRequest("GET", "/history?page=3&per_page=10", nil))
	assert.Equal(t, Params{Page: 3, PerPage: 10, Offset: 20}, p)
}

func TestFromRequest_IgnoresBadValues(t *testing.T) {
	p := FromRequest(httptest.NewRequest("GET", "/history?page=-1&per_page=1000", nil))
	assert.Equal(t, DefaultParams(), p)
}

func TestSlice(t *testing.T) {
	all := []int{1, 2, 3, 4, 5}

	r := Slice(all, Params{Page: 2, PerPage: 2, Offset: 2})
	assert.Equal(t, []int{3, 4}, r.Data)
	assert.Equal(t, 3, r.TotalPages)
	assert.True(t, r.HasNext)
	assert.True(t, r.HasPrev)

	r = Slice(all, Params{Page: 9, PerPage: 2, Offset: 16})
	assert.Empty(t, r.Data)
	assert.NotNil(t, r.Data)
	assert.False(t, r.HasNext)
}

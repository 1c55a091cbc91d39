package oracle_test

import (
	"testing"

	"github.com/alanyoungcy/predictx/internal/domain"
	"github.com/alanyoungcy/predictx/internal/oracle"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyFilter(t *testing.T) {
	doc := []byte(`{"outcome":"yes","market":{"id":7,"tags":["a","b","c"]},"odd key":1.50}`)

	tests := []struct {
		filter string
		want   string
	}{
		{"$", `[{"market":{"id":7,"tags":["a","b","c"]},"odd key":1.50,"outcome":"yes"}]`},
		{"$.outcome", `["yes"]`},
		{"$.market.id", `[7]`},
		{"$.market.tags[1]", `["b"]`},
		{"$.market.tags[-1]", `["c"]`},
		{"$.market.tags[*]", `["a","b","c"]`},
		{"$['odd key']", `[1.50]`},
		{"$.missing", `[]`},
		{"$.market.tags[9]", `[]`},
	}
	for _, tt := range tests {
		t.Run(tt.filter, func(t *testing.T) {
			got, err := oracle.ApplyFilter(doc, tt.filter)
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(got))
		})
	}
}

func TestApplyFilterEmptyReturnsBody(t *testing.T) {
	doc := []byte(`{"outcome":"no"}`)
	got, err := oracle.ApplyFilter(doc, "")
	require.NoError(t, err)
	assert.Equal(t, doc, got)
}

func TestApplyFilterErrors(t *testing.T) {
	for _, f := range []string{"outcome", "$.", "$[abc]", "$[0", "$x"} {
		_, err := oracle.ApplyFilter([]byte(`{}`), f)
		assert.ErrorIs(t, err, domain.ErrInvalidFormat, f)
	}

	_, err := oracle.ApplyFilter([]byte(`not json`), "$")
	assert.ErrorIs(t, err, domain.ErrInvalidFormat)
}

package engine_test

import (
	"testing"

	"github.com/alanyoungcy/predictx/internal/domain"
	"github.com/alanyoungcy/predictx/internal/engine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseOutcome(t *testing.T) {
	valid := []struct {
		in   string
		want bool
	}{
		{`{"outcome":"yes"}`, true},
		{`{"outcome":"no"}`, false},
		{`{"outcome":"Yes","source":"x"}`, true},
		{` {"outcome":"NO"} `, false},
		{`[{"outcome":"yes"}]`, true},
		{`["no"]`, false},
		{`{"reason":"has yes","outcome":"no"}`, false},
	}
	for _, tt := range valid {
		got, err := engine.ParseOutcome([]byte(tt.in))
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	invalid := []string{
		``,
		`yes`,
		`"yes"`,
		`{}`,
		`{"outcome":true}`,
		`{"outcome":"maybe"}`,
		`{"result":"yes"}`,
		`[]`,
		`[{"outcome":"yes"},{"outcome":"no"}]`,
		`[1]`,
		`{"outcome":"yes"`,
		`The outcome is "yes"`,
	}
	for _, in := range invalid {
		_, err := engine.ParseOutcome([]byte(in))
		assert.ErrorIs(t, err, domain.ErrInvalidFormat, in)
	}
}

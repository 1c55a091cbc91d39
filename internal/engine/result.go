package engine

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/alanyoungcy/predictx/internal/domain"
)

// oracleResult is the documented result schema. Unknown fields are ignored.
type oracleResult struct {
	Outcome *string `json:"outcome"`
}

// ParseOutcome decodes an oracle result into an outcome (true = yes).
//
// Accepted shapes:
//
//	{"outcome": "yes"}
//	[{"outcome": "no"}]   one-element filter output
//	["yes"]               filter output of $.outcome
//
// The outcome value is case-insensitive. Anything else is rejected.
func ParseOutcome(result []byte) (bool, error) {
	body := bytes.TrimSpace(result)
	if len(body) > 0 && body[0] == '[' {
		var items []json.RawMessage
		if err := json.Unmarshal(body, &items); err != nil || len(items) != 1 {
			return false, fmt.Errorf("engine: oracle result: %w: expected a one-element array", domain.ErrInvalidFormat)
		}
		body = bytes.TrimSpace(items[0])
		if len(body) > 0 && body[0] == '"' {
			var s string
			if err := json.Unmarshal(body, &s); err != nil {
				return false, fmt.Errorf("engine: oracle result: %w", domain.ErrInvalidFormat)
			}
			return outcomeValue(s)
		}
	}

	if len(body) == 0 || body[0] != '{' {
		return false, fmt.Errorf("engine: oracle result: %w: expected an object", domain.ErrInvalidFormat)
	}
	var r oracleResult
	if err := json.Unmarshal(body, &r); err != nil {
		return false, fmt.Errorf("engine: oracle result: %w: %v", domain.ErrInvalidFormat, err)
	}
	if r.Outcome == nil {
		return false, fmt.Errorf("engine: oracle result: %w: missing outcome", domain.ErrInvalidFormat)
	}
	return outcomeValue(*r.Outcome)
}

func outcomeValue(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "yes":
		return true, nil
	case "no":
		return false, nil
	}
	return false, fmt.Errorf("engine: oracle result: %w: outcome %q", domain.ErrInvalidFormat, s)
}

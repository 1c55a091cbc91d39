package engine

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/alanyoungcy/predictx/internal/domain"
)

// RoutingTag is the transfer data that routes a deposit to a market side.
func RoutingTag(id string, side domain.Side) []byte {
	return []byte(id + "_" + side.String())
}

// ParseRoutingTag parses "<marketId>_<side>". The side is case-insensitive.
func ParseRoutingTag(data []byte) (string, domain.Side, error) {
	if !utf8.Valid(data) {
		return "", 0, fmt.Errorf("engine: routing tag: %w: not utf-8", domain.ErrInvalidFormat)
	}
	id, sideText, ok := strings.Cut(string(data), "_")
	if !ok || !canonicalID(id) {
		return "", 0, fmt.Errorf("engine: routing tag %q: %w", data, domain.ErrInvalidFormat)
	}
	side, err := domain.ParseSide(sideText)
	if err != nil {
		return "", 0, fmt.Errorf("engine: routing tag %q: %w", data, err)
	}
	return id, side, nil
}

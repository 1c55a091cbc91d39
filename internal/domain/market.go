package domain

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Side selects one of the two outcomes of a binary market.
type Side uint8

const (
	SideYes Side = iota
	SideNo
)

func (s Side) String() string {
	if s == SideYes {
		return "yes"
	}
	return "no"
}

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == SideYes {
		return SideNo
	}
	return SideYes
}

// ParseSide parses "yes" or "no", case-insensitive.
func ParseSide(s string) (Side, error) {
	switch strings.ToLower(s) {
	case "yes":
		return SideYes, nil
	case "no":
		return SideNo, nil
	}
	return 0, fmt.Errorf("%w: side %q", ErrInvalidFormat, s)
}

// SideFromBool maps an outcome flag onto a side.
func SideFromBool(yes bool) Side {
	if yes {
		return SideYes
	}
	return SideNo
}

// Market is a binary prediction market as persisted by the engine.
type Market struct {
	ID          string         `json:"id"`
	Question    string         `json:"question"`
	Description string         `json:"description"`
	Category    string         `json:"category"`
	ResolveDate int64          `json:"resolve_date"` // epoch ms
	OracleURL   string         `json:"oracle_url"`
	Creator     common.Address `json:"creator"`
	CreatedAt   int64          `json:"created_at"` // epoch ms
	YesShares   int64          `json:"yes_shares"`
	NoShares    int64          `json:"no_shares"`
	Resolved    bool           `json:"resolved"`
	Outcome     bool           `json:"outcome"` // meaningful only once Resolved
	PaidOut     bool           `json:"paid_out"`
}

// TotalShares is the combined pool.
func (m Market) TotalShares() int64 {
	return m.YesShares + m.NoShares
}

// Pool returns the pool total for one side.
func (m Market) Pool(s Side) int64 {
	if s == SideYes {
		return m.YesShares
	}
	return m.NoShares
}

// MarketParams carries the caller-supplied fields of a new market.
type MarketParams struct {
	Question    string `json:"question" validate:"required"`
	Description string `json:"description" validate:"required"`
	Category    string `json:"category"`
	ResolveDate int64  `json:"resolve_date" validate:"required"`
	OracleURL   string `json:"oracle_url" validate:"omitempty,url"`
}

// HolderEntry records the first acquisition of shares by a holder on a side.
type HolderEntry struct {
	Holder common.Address `json:"holder"`
	Side   Side           `json:"side"`
}

// MarketStatus filters market listings. The zero value matches every market.
type MarketStatus string

const (
	MarketsAll      MarketStatus = ""
	MarketsOpen     MarketStatus = "open" // not yet resolved
	MarketsResolved MarketStatus = "resolved"
)

// ParseMarketStatus parses "open", "resolved", "all" or "", case-insensitive.
func ParseMarketStatus(s string) (MarketStatus, error) {
	switch st := MarketStatus(strings.ToLower(s)); st {
	case MarketsOpen, MarketsResolved:
		return st, nil
	case MarketsAll, "all":
		return MarketsAll, nil
	}
	return MarketsAll, fmt.Errorf("%w: market status %q", ErrInvalidFormat, s)
}

// Matches reports whether m belongs to the status.
func (st MarketStatus) Matches(m Market) bool {
	switch st {
	case MarketsOpen:
		return !m.Resolved
	case MarketsResolved:
		return m.Resolved
	}
	return true
}

// ResolutionStatus describes where a market sits in its resolution lifecycle.
type ResolutionStatus string

const (
	ResolutionOpen          ResolutionStatus = "open"
	ResolutionClosed        ResolutionStatus = "closed"
	ResolutionPendingOracle ResolutionStatus = "pending_oracle"
	ResolutionStalled       ResolutionStatus = "stalled"
	ResolutionResolved      ResolutionStatus = "resolved"
)

// ResolutionInfo is the diagnostic view of a market's resolution state.
type ResolutionInfo struct {
	MarketID    string           `json:"market_id"`
	Status      ResolutionStatus `json:"status"`
	RequestID   uint64           `json:"request_id,omitempty"`
	RequestedAt int64            `json:"requested_at,omitempty"`
	Outcome     *bool            `json:"outcome,omitempty"`
}

// PayoutSummary reports what a payout distributed.
type PayoutSummary struct {
	MarketID    string `json:"market_id"`
	WinningSide string `json:"winning_side"`
	TotalPool   int64  `json:"total_pool"`
	WinningPool int64  `json:"winning_pool"`
	Distributed int64  `json:"distributed"`
	Remainder   int64  `json:"remainder"`
	Recipients  int    `json:"recipients"`
	Refunded    bool   `json:"refunded"`
}

package domain

import (
	"encoding/json"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// EventPayload is implemented by every notification a contract can emit.
type EventPayload interface {
	EventName() string
}

// MarketScoped is implemented by payloads that belong to a single market.
type MarketScoped interface {
	MarketRef() string
}

// Event is a notification emitted during an invocation. Events are only
// delivered to sinks after the invocation commits.
type Event struct {
	InvocationID uuid.UUID      `json:"invocation_id"`
	Index        int            `json:"index"`
	Contract     common.Address `json:"contract"`
	Name         string         `json:"name"`
	Timestamp    int64          `json:"timestamp"` // runtime time, epoch ms
	Payload      EventPayload   `json:"payload"`
}

// MarketID returns the market the event belongs to, or "".
func (e Event) MarketID() string {
	if ms, ok := e.Payload.(MarketScoped); ok {
		return ms.MarketRef()
	}
	return ""
}

// Record flattens the event into its stored form.
func (e Event) Record() (EventRecord, error) {
	data, err := json.Marshal(e.Payload)
	if err != nil {
		return EventRecord{}, err
	}
	return EventRecord{
		InvocationID: e.InvocationID,
		Index:        e.Index,
		Contract:     e.Contract.Hex(),
		Name:         e.Name,
		MarketID:     e.MarketID(),
		Timestamp:    e.Timestamp,
		Payload:      data,
	}, nil
}

// EventRecord is the stored form of an Event.
type EventRecord struct {
	ID           int64           `json:"id,omitempty"`
	InvocationID uuid.UUID       `json:"invocation_id"`
	Index        int             `json:"index"`
	Contract     string          `json:"contract"`
	Name         string          `json:"name"`
	MarketID     string          `json:"market_id,omitempty"`
	Timestamp    int64           `json:"timestamp"`
	Payload      json.RawMessage `json:"payload"`
	CreatedAt    time.Time       `json:"created_at,omitempty"`
}

// MarketCreated is emitted when a market is registered.
type MarketCreated struct {
	MarketID    string `json:"market_id"`
	Question    string `json:"question"`
	Category    string `json:"category"`
	ResolveDate int64  `json:"resolve_date"`
	OracleURL   string `json:"oracle_url"`
}

func (MarketCreated) EventName() string   { return "MarketCreated" }
func (e MarketCreated) MarketRef() string { return e.MarketID }

// TradeExecuted is emitted when pending credit is converted into shares.
type TradeExecuted struct {
	MarketID string         `json:"market_id"`
	Trader   common.Address `json:"trader"`
	IsYes    bool           `json:"is_yes"`
	Amount   int64          `json:"amount"`
}

func (TradeExecuted) EventName() string   { return "TradeExecuted" }
func (e TradeExecuted) MarketRef() string { return e.MarketID }

// MarketResolved is emitted exactly once per market.
type MarketResolved struct {
	MarketID string `json:"market_id"`
	Outcome  bool   `json:"outcome"`
}

func (MarketResolved) EventName() string   { return "MarketResolved" }
func (e MarketResolved) MarketRef() string { return e.MarketID }

// PayoutDistributed is emitted per payment made by a payout.
type PayoutDistributed struct {
	MarketID  string         `json:"market_id"`
	Recipient common.Address `json:"recipient"`
	Amount    int64          `json:"amount"`
}

func (PayoutDistributed) EventName() string   { return "PayoutDistributed" }
func (e PayoutDistributed) MarketRef() string { return e.MarketID }

// ResolutionRequested is emitted when the engine asks the oracle for an outcome.
type ResolutionRequested struct {
	MarketID  string `json:"market_id"`
	RequestID uint64 `json:"request_id"`
	URL       string `json:"url"`
}

func (ResolutionRequested) EventName() string   { return "ResolutionRequested" }
func (e ResolutionRequested) MarketRef() string { return e.MarketID }

// Transfer is emitted by the token contract. From is the zero address on mint.
type Transfer struct {
	From   common.Address `json:"from"`
	To     common.Address `json:"to"`
	Amount int64          `json:"amount"`
}

func (Transfer) EventName() string { return "Transfer" }

// OracleRequest is emitted by the oracle contract for every accepted request.
type OracleRequest struct {
	RequestID uint64         `json:"request_id"`
	Requester common.Address `json:"requester"`
	URL       string         `json:"url"`
	Filter    string         `json:"filter"`
}

func (OracleRequest) EventName() string { return "OracleRequest" }

// OracleResponse is emitted by the oracle contract when a request is retired.
type OracleResponse struct {
	RequestID uint64 `json:"request_id"`
	Code      uint8  `json:"code"`
	Delivered bool   `json:"delivered"`
	Reason    string `json:"reason,omitempty"`
}

func (OracleResponse) EventName() string { return "OracleResponse" }

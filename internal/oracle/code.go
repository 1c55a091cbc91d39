// Package oracle implements the request/response oracle the engine resolves
// markets through: an on-ledger request registry, an HTTP fetcher with a
// JSON path filter, and a worker that fulfills pending requests.
package oracle

import "fmt"

// Limits enforced on every request.
const (
	MaxURLLength       = 256
	MaxFilterLength    = 128
	MaxCallbackLength  = 32
	MinimumResponseGas = int64(10_000_000) // 0.1 GAS
)

// DefaultAddress is the identity the oracle contract runs as unless
// configured otherwise.
const DefaultAddress = "0xfe924b7cfe89ddd271abaf7210a80a7e11178758"

// Code is the oracle response code delivered to callbacks.
type Code uint8

const (
	Success                 Code = 0x00
	ProtocolNotSupported    Code = 0x10
	ConsensusUnreachable    Code = 0x12
	NotFound                Code = 0x14
	Timeout                 Code = 0x16
	Forbidden               Code = 0x18
	ResponseTooLarge        Code = 0x1a
	InsufficientFunds       Code = 0x1c
	ContentTypeNotSupported Code = 0x1f
	Error                   Code = 0xff
)

func (c Code) String() string {
	switch c {
	case Success:
		return "Success"
	case ProtocolNotSupported:
		return "ProtocolNotSupported"
	case ConsensusUnreachable:
		return "ConsensusUnreachable"
	case NotFound:
		return "NotFound"
	case Timeout:
		return "Timeout"
	case Forbidden:
		return "Forbidden"
	case ResponseTooLarge:
		return "ResponseTooLarge"
	case InsufficientFunds:
		return "InsufficientFunds"
	case ContentTypeNotSupported:
		return "ContentTypeNotSupported"
	case Error:
		return "Error"
	}
	return fmt.Sprintf("Code(0x%02x)", uint8(c))
}

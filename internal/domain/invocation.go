package domain

import "encoding/json"

// Call is a single contract method call inside an Envelope.
type Call struct {
	Contract string          `json:"contract" validate:"required,oneof=engine token"`
	Method   string          `json:"method" validate:"required"`
	Args     json.RawMessage `json:"args,omitempty"`
}

// Envelope is a signed batch of calls executed as one atomic invocation.
// Signature is an EIP-191 personal signature over Envelope.SigningPayload.
type Envelope struct {
	Sender    string `json:"sender" validate:"required,eth_addr"`
	Nonce     string `json:"nonce" validate:"required,max=64"`
	Calls     []Call `json:"calls" validate:"required,min=1,max=16,dive"`
	Signature string `json:"signature,omitempty"`
}

// SigningPayload is the canonical JSON the signature covers: the envelope
// with the signature field cleared.
func (e Envelope) SigningPayload() ([]byte, error) {
	e.Signature = ""
	return json.Marshal(e)
}

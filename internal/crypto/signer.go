package crypto

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/predictx/internal/domain"
)

// Signer signs invocation envelopes with a secp256k1 key.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

// NewSigner creates a Signer from a hex-encoded private key (with or without
// 0x prefix).
func NewSigner(privateKeyHex string) (*Signer, error) {
	key, err := ethcrypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("crypto: parse private key: %w", err)
	}
	return &Signer{
		privateKey: key,
		address:    ethcrypto.PubkeyToAddress(key.PublicKey),
	}, nil
}

// GenerateKeyHex creates a fresh private key and returns it hex-encoded
// without prefix.
func GenerateKeyHex() (string, error) {
	key, err := ethcrypto.GenerateKey()
	if err != nil {
		return "", fmt.Errorf("crypto: generate key: %w", err)
	}
	return hex.EncodeToString(ethcrypto.FromECDSA(key)), nil
}

// Address returns the account the signer controls.
func (s *Signer) Address() common.Address {
	return s.address
}

// SignEnvelope sets env.Sender to the signer's address and fills in
// env.Signature.
func (s *Signer) SignEnvelope(env *domain.Envelope) error {
	env.Sender = s.address.Hex()
	digest, err := envelopeDigest(*env)
	if err != nil {
		return err
	}
	sig, err := s.signDigest(digest)
	if err != nil {
		return err
	}
	env.Signature = sig
	return nil
}

// RecoverEnvelope returns the account that signed env. It fails with
// domain.ErrUnauthorized when the signature is malformed or was not produced
// by env.Sender.
func RecoverEnvelope(env domain.Envelope) (common.Address, error) {
	sig, err := hex.DecodeString(strings.TrimPrefix(env.Signature, "0x"))
	if err != nil || len(sig) != 65 {
		return common.Address{}, fmt.Errorf("crypto: malformed signature: %w", domain.ErrUnauthorized)
	}
	if sig[64] >= 27 {
		sig[64] -= 27
	}

	digest, err := envelopeDigest(env)
	if err != nil {
		return common.Address{}, err
	}
	pub, err := ethcrypto.SigToPub(digest, sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("crypto: recover signer: %w", domain.ErrUnauthorized)
	}

	signer := ethcrypto.PubkeyToAddress(*pub)
	if !common.IsHexAddress(env.Sender) || signer != common.HexToAddress(env.Sender) {
		return common.Address{}, fmt.Errorf("crypto: signature by %s does not match sender %s: %w",
			signer.Hex(), env.Sender, domain.ErrUnauthorized)
	}
	return signer, nil
}

// envelopeDigest is the EIP-191 personal-message hash of
// keccak256(canonical envelope JSON).
func envelopeDigest(env domain.Envelope) ([]byte, error) {
	payload, err := env.SigningPayload()
	if err != nil {
		return nil, fmt.Errorf("crypto: encode envelope: %w", err)
	}
	return accounts.TextHash(ethcrypto.Keccak256(payload)), nil
}

// signDigest signs a 32-byte digest and returns the 0x-prefixed 65-byte
// signature with v in {27,28}.
func (s *Signer) signDigest(digest []byte) (string, error) {
	sig, err := ethcrypto.Sign(digest, s.privateKey)
	if err != nil {
		return "", fmt.Errorf("crypto: sign digest: %w", err)
	}
	// go-ethereum returns v in {0,1}; personal signatures use {27,28}.
	if sig[64] < 27 {
		sig[64] += 27
	}
	return "0x" + hex.EncodeToString(sig), nil
}

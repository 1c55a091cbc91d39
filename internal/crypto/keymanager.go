// Package crypto provides operator key management and the EIP-191 signatures
// that authenticate invocation envelopes.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/pbkdf2"
)

const (
	pbkdf2Iterations = 480_000
	saltLen          = 16
	aesKeyLen        = 32
	keyFileVersion   = 1
)

// KeyFile is the on-disk form of an encrypted account key. Address is stored
// in the clear so an operator can tell files apart without the password; it is
// also bound into the ciphertext as associated data.
type KeyFile struct {
	Version    int            `json:"version"`
	Address    common.Address `json:"address"`
	Salt       string         `json:"salt"`
	Nonce      string         `json:"nonce"`
	Ciphertext string         `json:"ciphertext"`
}

// KeyConfig carries the information LoadKey needs to resolve a private key.
// The CLI fills it from flags and PREDICTX_KEY* environment variables.
type KeyConfig struct {
	// RawPrivateKey is the hex-encoded private key (with or without 0x prefix).
	RawPrivateKey string
	// EncryptedKeyPath is a file produced by EncryptKey.
	EncryptedKeyPath string
	KeyPassword      string
}

// parseKey validates a hex secp256k1 key and returns it normalised (no 0x)
// together with the account it controls.
func parseKey(privateKeyHex string) (string, common.Address, error) {
	k := strings.TrimPrefix(strings.TrimSpace(privateKeyHex), "0x")
	key, err := ethcrypto.HexToECDSA(k)
	if err != nil {
		return "", common.Address{}, fmt.Errorf("crypto: invalid private key: %w", err)
	}
	return strings.ToLower(k), ethcrypto.PubkeyToAddress(key.PublicKey), nil
}

// sealer derives the AES-256-GCM cipher for a password and salt.
func sealer(password string, salt []byte) (cipher.AEAD, error) {
	derived := pbkdf2.Key([]byte(password), salt, pbkdf2Iterations, aesKeyLen, sha256.New)
	block, err := aes.NewCipher(derived)
	if err != nil {
		return nil, fmt.Errorf("crypto: cipher: %w", err)
	}
	return cipher.NewGCM(block)
}

// EncryptKey encrypts an account key with a password (PBKDF2-HMAC-SHA256,
// AES-256-GCM) and returns the JSON key file.
func EncryptKey(privateKeyHex string, password string) ([]byte, error) {
	if password == "" {
		return nil, errors.New("crypto: password must not be empty")
	}
	k, addr, err := parseKey(privateKeyHex)
	if err != nil {
		return nil, err
	}
	raw, _ := hex.DecodeString(k)

	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("crypto: salt: %w", err)
	}
	gcm, err := sealer(password, salt)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("crypto: nonce: %w", err)
	}

	return json.MarshalIndent(KeyFile{
		Version:    keyFileVersion,
		Address:    addr,
		Salt:       base64.StdEncoding.EncodeToString(salt),
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(gcm.Seal(nil, nonce, raw, addr.Bytes())),
	}, "", "  ")
}

// DecryptKey opens a key file produced by EncryptKey and returns the
// hex-encoded private key (without 0x prefix). The decrypted key must control
// the address recorded in the file.
func DecryptKey(data []byte, password string) (string, error) {
	if password == "" {
		return "", errors.New("crypto: password must not be empty")
	}

	var kf KeyFile
	if err := json.Unmarshal(data, &kf); err != nil {
		return "", fmt.Errorf("crypto: parse key file: %w", err)
	}
	if kf.Version != keyFileVersion {
		return "", fmt.Errorf("crypto: unsupported key file version %d", kf.Version)
	}

	var parts [3][]byte
	for i, s := range []string{kf.Salt, kf.Nonce, kf.Ciphertext} {
		b, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return "", fmt.Errorf("crypto: key file field %d: %w", i, err)
		}
		parts[i] = b
	}
	salt, nonce, ciphertext := parts[0], parts[1], parts[2]

	gcm, err := sealer(password, salt)
	if err != nil {
		return "", err
	}
	if len(nonce) != gcm.NonceSize() {
		return "", errors.New("crypto: key file nonce has the wrong size")
	}
	plain, err := gcm.Open(nil, nonce, ciphertext, kf.Address.Bytes())
	if err != nil {
		return "", errors.New("crypto: cannot decrypt key file (wrong password or tampered file)")
	}

	k, addr, err := parseKey(hex.EncodeToString(plain))
	if err != nil {
		return "", err
	}
	if addr != kf.Address {
		return "", fmt.Errorf("crypto: key file address %s does not match key %s", kf.Address.Hex(), addr.Hex())
	}
	return k, nil
}

// LoadKey resolves a private key: a raw key wins, then an encrypted file.
func LoadKey(cfg KeyConfig) (string, error) {
	if cfg.RawPrivateKey != "" {
		k, _, err := parseKey(cfg.RawPrivateKey)
		return k, err
	}
	if cfg.EncryptedKeyPath != "" {
		data, err := os.ReadFile(cfg.EncryptedKeyPath)
		if err != nil {
			return "", fmt.Errorf("crypto: read key file: %w", err)
		}
		return DecryptKey(data, cfg.KeyPassword)
	}
	return "", errors.New("crypto: no private key configured (set a raw key or an encrypted key file)")
}

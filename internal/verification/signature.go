package verification

import (
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// SignerRegistry maps an issuing authority to the key expected to sign its
// property documents.
type SignerRegistry map[string]ed25519.PublicKey

// ParseSignerKeys builds a registry from hex-encoded ed25519 public keys.
func ParseSignerKeys(keys map[string]string) (SignerRegistry, error) {
	reg := make(SignerRegistry, len(keys))
	for authority, encoded := range keys {
		raw, err := decodeHex(encoded)
		if err != nil {
			return nil, fmt.Errorf("signer key for %q: %w", authority, err)
		}
		if len(raw) != ed25519.PublicKeySize {
			return nil, fmt.Errorf("signer key for %q: want %d bytes, got %d", authority, ed25519.PublicKeySize, len(raw))
		}
		reg[authority] = ed25519.PublicKey(raw)
	}
	return reg, nil
}

// VerifyDocument checks that signature is the registered authority's
// signature over the 32-byte document hash.
func (r SignerRegistry) VerifyDocument(authority, documentHash, signature string) error {
	key, ok := r[authority]
	if !ok {
		return fmt.Errorf("no signer registered for issuing authority %q", authority)
	}
	if !ValidCertificateHash(documentHash) {
		return errors.New("document hash is not 0x-prefixed 32-byte hex")
	}
	hash, err := decodeHex(documentHash)
	if err != nil {
		return fmt.Errorf("decode document hash: %w", err)
	}
	sig, err := decodeHex(signature)
	if err != nil {
		return fmt.Errorf("decode signature: %w", err)
	}
	if len(sig) != ed25519.SignatureSize {
		return fmt.Errorf("signature must be %d bytes, got %d", ed25519.SignatureSize, len(sig))
	}
	if !ed25519.Verify(key, hash, sig) {
		return fmt.Errorf("signature does not match signer for %q", authority)
	}
	return nil
}

func decodeHex(s string) ([]byte, error) {
	return hex.DecodeString(strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X"))
}

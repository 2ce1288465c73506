package imprint

import (
	"crypto/ecdsa"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/ethereum/go-ethereum/crypto"
)

// ParseSecret parses a 32-byte hex private key.
func ParseSecret(hexkey string) (*ecdsa.PrivateKey, error) {
	if len(hexkey) != 64 {
		return nil, fmt.Errorf("private key must be 32-byte hex")
	}
	return crypto.HexToECDSA(hexkey)
}

// PubkeyHex returns the compressed public key of a secret in hex form. This
// is the author key carried on every event.
func PubkeyHex(priv *ecdsa.PrivateKey) string {
	return hex.EncodeToString(crypto.CompressPubkey(&priv.PublicKey))
}

// SignBytes signs the sha256 digest of arbitrary bytes with the author key.
func SignBytes(data []byte, priv *ecdsa.PrivateKey) ([]byte, error) {
	digest := sha256.Sum256(data)
	sig, err := crypto.Sign(digest[:], priv)
	if err != nil {
		return nil, err
	}
	return sig[:64], nil
}

// VerifyBytes reports whether sig is a valid signature over data by the
// given author key.
func VerifyBytes(data, sig []byte, authorKey string) bool {
	pubkey, err := hex.DecodeString(authorKey)
	if err != nil || len(sig) != 64 {
		return false
	}
	digest := sha256.Sum256(data)
	return crypto.VerifySignature(pubkey, digest[:], sig)
}

// IsAuthorKey reports whether s has the shape of a compressed secp256k1
// public key in hex.
func IsAuthorKey(s string) bool {
	if len(s) != 66 {
		return false
	}
	raw, err := hex.DecodeString(s)
	if err != nil {
		return false
	}
	if raw[0] != 0x02 && raw[0] != 0x03 {
		return false
	}
	_, err = crypto.DecompressPubkey(raw)
	return err == nil
}

package nostr

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
)

func GeneratePrivateKey() string {
	sk, err := btcec.NewPrivateKey()
	if err != nil {
		return ""
	}
	return hex.EncodeToString(sk.Serialize())
}

func GetPublicKey(sk string) (string, error) {
	b, err := hex.DecodeString(sk)
	if err != nil {
		return "", fmt.Errorf("private key '%s' is invalid hex: %w", sk, err)
	}
	if len(b) != 32 {
		return "", fmt.Errorf("private key must be 32 bytes, got %d", len(b))
	}

	_, pk := btcec.PrivKeyFromBytes(b)
	return hex.EncodeToString(schnorr.SerializePubKey(pk)), nil
}

// IsValidPublicKey checks if a string is a 32-byte lowercase hex public key,
// as used throughout the protocol. It doesn't check if the x coordinate is on
// the curve.
func IsValidPublicKey(pk string) bool {
	return isLowerHex(pk) && len(pk) == 64
}

func isLowerHex(s string) bool {
	if strings.ToLower(s) != s {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}

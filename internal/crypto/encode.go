package crypto

import (
	"encoding/base64"
	"errors"
	"fmt"

	"sealedchat/internal/domain"
)

var (
	errKeyLength = errors.New("bad key length")
	errKeyType   = errors.New("unknown key type")
	errZeroKey   = errors.New("all-zero key")
)

// B64 returns standard base64 encoding without newlines.
func B64(b []byte) string { return base64.StdEncoding.EncodeToString(b) }

// DecodePublicKey parses the 33-byte serialized form produced by
// PublicKey.Serialize.
func DecodePublicKey(b []byte) (domain.PublicKey, error) {
	var pub domain.PublicKey
	if len(b) != domain.SerializedKeySize {
		return pub, fmt.Errorf("%w: got %d bytes", errKeyLength, len(b))
	}
	if b[0] != domain.KeyTypeDJB {
		return pub, fmt.Errorf("%w: 0x%02x", errKeyType, b[0])
	}
	copy(pub[:], b[1:])
	if pub.IsZero() {
		return domain.PublicKey{}, errZeroKey
	}
	return pub, nil
}

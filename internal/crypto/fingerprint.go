package crypto

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"sealedchat/internal/domain"
)

// Fingerprint returns a short hex fingerprint of a public key.
//
// It hashes with SHA-256 and truncates to 10 bytes (20 hex chars).
func Fingerprint(pub domain.PublicKey) domain.Fingerprint {
	sum := sha256.Sum256(pub.Serialize())
	return domain.Fingerprint(hex.EncodeToString(sum[:10]))
}

// SafetyNumber combines two identity keys into a value both parties compute
// identically, for comparing out of band. Groups of five hex digits.
func SafetyNumber(a, b domain.PublicKey) domain.Fingerprint {
	lo, hi := a.Serialize(), b.Serialize()
	if bytes.Compare(lo, hi) > 0 {
		lo, hi = hi, lo
	}
	h := sha256.New()
	h.Write(lo)
	h.Write(hi)
	digest := hex.EncodeToString(h.Sum(nil)[:15])

	groups := make([]string, 0, len(digest)/5)
	for i := 0; i < len(digest); i += 5 {
		groups = append(groups, digest[i:i+5])
	}
	return domain.Fingerprint(strings.Join(groups, " "))
}

package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha512"
	"fmt"
	"io"

	"filippo.io/edwards25519"
	"filippo.io/edwards25519/field"

	"sealedchat/internal/domain"
)

// hashPrefix separates XEdDSA nonce derivation from every other use of
// SHA-512 over the private key.
var hashPrefix = [32]byte{
	0xFE, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF,
	0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF,
	0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF,
	0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF,
}

// Sign produces a 64-byte XEdDSA signature over msg with a Curve25519
// private key. The sign bit of the Edwards public key travels in the top
// bit of the signature so verifiers only need the Montgomery key.
func Sign(priv domain.PrivateKey, msg []byte) ([]byte, error) {
	var random [64]byte
	if _, err := io.ReadFull(rand.Reader, random[:]); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrKeyGeneration, err)
	}
	return sign(priv, msg, random)
}

func sign(priv domain.PrivateKey, msg []byte, random [64]byte) ([]byte, error) {
	a, err := edwards25519.NewScalar().SetBytesWithClamping(priv[:])
	if err != nil {
		return nil, err
	}
	A := new(edwards25519.Point).ScalarBaseMult(a).Bytes()

	h := sha512.New()
	h.Write(hashPrefix[:])
	h.Write(priv[:])
	h.Write(msg)
	h.Write(random[:])
	r, err := edwards25519.NewScalar().SetUniformBytes(h.Sum(nil))
	if err != nil {
		return nil, err
	}
	R := new(edwards25519.Point).ScalarBaseMult(r).Bytes()

	// S = r + SHA-512(R || A || msg) * a  (mod L)
	h.Reset()
	h.Write(R)
	h.Write(A)
	h.Write(msg)
	k, err := edwards25519.NewScalar().SetUniformBytes(h.Sum(nil))
	if err != nil {
		return nil, err
	}
	S := edwards25519.NewScalar().MultiplyAdd(k, a, r)

	sig := make([]byte, 0, domain.SignatureSize)
	sig = append(sig, R...)
	sig = append(sig, S.Bytes()...)
	sig[63] |= A[31] & 0x80
	return sig, nil
}

// Verify checks an XEdDSA signature over msg made by the holder of pub.
func Verify(pub domain.PublicKey, msg, sig []byte) bool {
	if len(sig) != domain.SignatureSize {
		return false
	}
	u := pub
	u[31] &= 0x7F

	// Edwards y = (u - 1) / (u + 1); u = -1 maps to y = 0.
	montU, err := new(field.Element).SetBytes(u[:])
	if err != nil {
		return false
	}
	one := new(field.Element).One()
	num := new(field.Element).Subtract(montU, one)
	den := new(field.Element).Add(montU, one)
	den.Invert(den)
	edY := new(field.Element).Multiply(num, den)

	edPub := edY.Bytes()
	edPub[31] |= sig[63] & 0x80

	s := make([]byte, domain.SignatureSize)
	copy(s, sig)
	s[63] &= 0x7F

	return ed25519.Verify(ed25519.PublicKey(edPub), msg, s)
}

package crypto

import (
	"crypto/rand"
	"fmt"
	"io"

	"golang.org/x/crypto/curve25519"

	"sealedchat/internal/domain"
)

// GenerateKeyPair returns a fresh Curve25519 key pair.
// The private key is clamped per RFC 7748.
func GenerateKeyPair() (domain.KeyPair, error) {
	return generateKeyPair(rand.Reader)
}

func generateKeyPair(r io.Reader) (kp domain.KeyPair, err error) {
	if _, err = io.ReadFull(r, kp.Private[:]); err != nil {
		return domain.KeyPair{}, fmt.Errorf("%w: %v", domain.ErrKeyGeneration, err)
	}
	clamp(&kp.Private)
	if kp.Public, err = PublicFromPrivate(kp.Private); err != nil {
		return domain.KeyPair{}, fmt.Errorf("%w: %v", domain.ErrKeyGeneration, err)
	}
	return kp, nil
}

// PublicFromPrivate derives the public key of priv.
func PublicFromPrivate(priv domain.PrivateKey) (pub domain.PublicKey, err error) {
	pb, err := curve25519.X25519(priv.Slice(), curve25519.Basepoint)
	if err != nil {
		return pub, err
	}
	copy(pub[:], pb)
	return pub, nil
}

// DH computes X25519 Diffie–Hellman. Low-order peer keys yield an error.
func DH(priv domain.PrivateKey, pub domain.PublicKey) (out [32]byte, err error) {
	secret, err := curve25519.X25519(priv.Slice(), pub.Slice())
	if err != nil {
		return out, err
	}
	copy(out[:], secret)
	return out, nil
}

func clamp(k *domain.PrivateKey) {
	k[0] &= 248
	k[31] &= 127
	k[31] |= 64
}

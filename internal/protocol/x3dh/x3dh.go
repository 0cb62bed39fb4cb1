package x3dh

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"

	"sealedchat/internal/crypto"
	"sealedchat/internal/domain"
	"sealedchat/internal/util/memzero"
)

const rootKeySize = 32

var (
	// ErrBadSPK is returned when the signed pre-key signature fails verification.
	ErrBadSPK = errors.New("x3dh: signed pre-key signature invalid")

	// ErrLowOrderKey is returned when a DH input yields the all-zero secret.
	ErrLowOrderKey = errors.New("x3dh: low-order public key")

	info = []byte("sealedchat-x3dh")
)

// Initiation is the initiator's view of a completed handshake.
type Initiation struct {
	RootKey        []byte
	BaseKey        domain.KeyPair
	SignedPreKeyID uint32
	// PreKeyID is zero when the bundle carried no one-time pre-key.
	PreKeyID uint32
}

// Initiate verifies bundle and runs the initiator side of X3DH with a fresh
// ephemeral (base) key.
func Initiate(ourIdentity domain.KeyPair, bundle domain.PreKeyBundle) (Initiation, error) {
	if !VerifySPK(bundle.IdentityKey, bundle.SignedPreKey, bundle.SignedPreKeySignature) {
		return Initiation{}, ErrBadSPK
	}
	base, err := crypto.GenerateKeyPair()
	if err != nil {
		return Initiation{}, err
	}

	var opk *domain.PublicKey
	if bundle.HasPreKey() {
		opk = &bundle.PreKey
	}
	rk, err := InitiatorRootKey(ourIdentity.Private, base.Private, bundle.IdentityKey, bundle.SignedPreKey, opk)
	if err != nil {
		return Initiation{}, err
	}

	in := Initiation{RootKey: rk, BaseKey: base, SignedPreKeyID: bundle.SignedPreKeyID}
	if opk != nil {
		in.PreKeyID = bundle.PreKeyID
	}
	return in, nil
}

// InitiatorRootKey derives the root key for the initiator using X3DH.
func InitiatorRootKey(
	ourIDPriv domain.PrivateKey,
	ourEphPriv domain.PrivateKey,
	peerIDPub domain.PublicKey,
	peerSPK domain.PublicKey,
	peerOPK *domain.PublicKey,
) ([]byte, error) {
	pairs := []dhPair{
		{ourIDPriv, peerSPK},    // DH(IKA, SPKB)
		{ourEphPriv, peerIDPub}, // DH(EKA, IKB)
		{ourEphPriv, peerSPK},   // DH(EKA, SPKB)
	}
	if peerOPK != nil {
		pairs = append(pairs, dhPair{ourEphPriv, *peerOPK}) // DH(EKA, OPKB)
	}
	return derive(pairs)
}

// ResponderRootKey derives the same root key on the responder side from the
// initiator's identity and base keys.
func ResponderRootKey(
	ourIDPriv domain.PrivateKey,
	ourSPKPriv domain.PrivateKey,
	ourOPKPriv *domain.PrivateKey,
	peerIDPub domain.PublicKey,
	peerBasePub domain.PublicKey,
) ([]byte, error) {
	pairs := []dhPair{
		{ourSPKPriv, peerIDPub},   // DH(SPKB, IKA)
		{ourIDPriv, peerBasePub},  // DH(IKB, EKA)
		{ourSPKPriv, peerBasePub}, // DH(SPKB, EKA)
	}
	if ourOPKPriv != nil {
		pairs = append(pairs, dhPair{*ourOPKPriv, peerBasePub}) // DH(OPKB, EKA)
	}
	return derive(pairs)
}

// VerifySPK checks the signed pre-key signature. The signed message is the
// serialized form of the pre-key.
func VerifySPK(identity domain.PublicKey, spk domain.PublicKey, sig []byte) bool {
	return crypto.Verify(identity, spk.Serialize(), sig)
}

type dhPair struct {
	priv domain.PrivateKey
	pub  domain.PublicKey
}

func derive(pairs []dhPair) ([]byte, error) {
	// 32 0xFF bytes keep the transcript disjoint from any XEdDSA input.
	ikm := make([]byte, 32, 32*(len(pairs)+1))
	for i := range ikm {
		ikm[i] = 0xFF
	}
	defer memzero.Zero(ikm)

	for _, p := range pairs {
		secret, err := crypto.DH(p.priv, p.pub)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrLowOrderKey, err)
		}
		ikm = append(ikm, secret[:]...)
		memzero.Zero(secret[:])
	}

	root := make([]byte, rootKeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, ikm, make([]byte, sha256.Size), info), root); err != nil {
		return nil, err
	}
	return root, nil
}

package x3dh_test

import (
	"bytes"
	"errors"
	"testing"

	"sealedchat/internal/crypto"
	"sealedchat/internal/domain"
	"sealedchat/internal/protocol/x3dh"
)

func makeKeyPair(t *testing.T) domain.KeyPair {
	t.Helper()
	kp, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	return kp
}

// makeBundle returns bob's signed pre-key, optional one-time pre-key, and
// the bundle advertising them.
func makeBundle(t *testing.T, bob domain.KeyPair, withOPK bool) (domain.KeyPair, *domain.KeyPair, domain.PreKeyBundle) {
	t.Helper()
	spk := makeKeyPair(t)
	sig, err := crypto.Sign(bob.Private, spk.Public.Serialize())
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	bundle := domain.PreKeyBundle{
		RegistrationID:        42,
		DeviceID:              domain.DefaultDeviceID,
		SignedPreKeyID:        7,
		SignedPreKey:          spk.Public,
		SignedPreKeySignature: sig,
		IdentityKey:           bob.Public,
	}
	if !withOPK {
		return spk, nil, bundle
	}
	opk := makeKeyPair(t)
	bundle.PreKeyID = 3
	bundle.PreKey = opk.Public
	return spk, &opk, bundle
}

func TestInitiatorAndResponderRoot_NoOneTimePreKey(t *testing.T) {
	// Alice is initiator, Bob is responder.
	alice := makeKeyPair(t)
	bob := makeKeyPair(t)
	spk, _, bundle := makeBundle(t, bob, false)

	in, err := x3dh.Initiate(alice, bundle)
	if err != nil {
		t.Fatalf("Initiate: %v", err)
	}
	if in.SignedPreKeyID != 7 {
		t.Fatalf("want signed pre-key id 7, got %d", in.SignedPreKeyID)
	}
	if in.PreKeyID != 0 {
		t.Fatalf("want no one-time pre-key, got %d", in.PreKeyID)
	}

	// Bob recomputes the same RK from the pre-key message fields.
	rk, err := x3dh.ResponderRootKey(bob.Private, spk.Private, nil, alice.Public, in.BaseKey.Public)
	if err != nil {
		t.Fatalf("ResponderRootKey: %v", err)
	}
	if !bytes.Equal(in.RootKey, rk) {
		t.Fatal("root keys differ (no OPK)")
	}
	if len(rk) != 32 {
		t.Fatalf("root key length %d", len(rk))
	}
}

func TestInitiatorAndResponderRoot_WithOneTimePreKey(t *testing.T) {
	alice := makeKeyPair(t)
	bob := makeKeyPair(t)
	spk, opk, bundle := makeBundle(t, bob, true)

	in, err := x3dh.Initiate(alice, bundle)
	if err != nil {
		t.Fatalf("Initiate: %v", err)
	}
	if in.PreKeyID != 3 {
		t.Fatalf("want one-time pre-key id 3, got %d", in.PreKeyID)
	}

	rk, err := x3dh.ResponderRootKey(bob.Private, spk.Private, &opk.Private, alice.Public, in.BaseKey.Public)
	if err != nil {
		t.Fatalf("ResponderRootKey: %v", err)
	}
	if !bytes.Equal(in.RootKey, rk) {
		t.Fatal("root keys differ (with OPK)")
	}

	// Leaving the OPK out must change the result.
	rkNoOPK, err := x3dh.ResponderRootKey(bob.Private, spk.Private, nil, alice.Public, in.BaseKey.Public)
	if err != nil {
		t.Fatalf("ResponderRootKey: %v", err)
	}
	if bytes.Equal(in.RootKey, rkNoOPK) {
		t.Fatal("root key must depend on the one-time pre-key")
	}
}

func TestInitiate_BadSignature(t *testing.T) {
	alice := makeKeyPair(t)
	bob := makeKeyPair(t)
	_, _, bundle := makeBundle(t, bob, true)

	forged := bundle
	forged.SignedPreKeySignature = bytes.Clone(bundle.SignedPreKeySignature)
	forged.SignedPreKeySignature[10] ^= 0xFF
	if _, err := x3dh.Initiate(alice, forged); !errors.Is(err, x3dh.ErrBadSPK) {
		t.Fatalf("want ErrBadSPK, got %v", err)
	}

	// Signed by someone other than the advertised identity.
	mallory := makeKeyPair(t)
	swapped := bundle
	swapped.IdentityKey = mallory.Public
	if _, err := x3dh.Initiate(alice, swapped); !errors.Is(err, x3dh.ErrBadSPK) {
		t.Fatalf("want ErrBadSPK for swapped identity, got %v", err)
	}
}

func TestInitiatorRootKey_LowOrderKey(t *testing.T) {
	alice := makeKeyPair(t)
	eph := makeKeyPair(t)
	bob := makeKeyPair(t)
	_, err := x3dh.InitiatorRootKey(alice.Private, eph.Private, bob.Public, domain.PublicKey{}, nil)
	if !errors.Is(err, x3dh.ErrLowOrderKey) {
		t.Fatalf("want ErrLowOrderKey, got %v", err)
	}
}

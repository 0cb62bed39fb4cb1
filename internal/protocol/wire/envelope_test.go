package wire

import (
	"bytes"
	"errors"
	"testing"

	"google.golang.org/protobuf/encoding/protowire"

	"sealedchat/internal/crypto"
	"sealedchat/internal/domain"
	"sealedchat/internal/protocol/ratchet"
)

func key(t *testing.T) domain.PublicKey {
	t.Helper()
	kp, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	return kp.Public
}

func preKeyEnvelope(t *testing.T) *Envelope {
	return &Envelope{
		Type:           TypePreKey,
		Header:         ratchet.Header{DHPub: key(t), PN: 0, N: 300},
		Ciphertext:     []byte("sealed bytes"),
		RegistrationID: 1234,
		PreKeyID:       1,
		SignedPreKeyID: 1,
		BaseKey:        key(t),
		IdentityKey:    key(t),
	}
}

func TestEnvelopeDecode(t *testing.T) {
	pre := preKeyEnvelope(t)
	got, err := Unmarshal(pre.Marshal())
	if err != nil {
		t.Fatalf("Unmarshal pre-key: %v", err)
	}
	if got.Type != TypePreKey || got.Header != pre.Header || got.BaseKey != pre.BaseKey ||
		got.IdentityKey != pre.IdentityKey || got.RegistrationID != 1234 || got.PreKeyID != 1 ||
		!bytes.Equal(got.Ciphertext, pre.Ciphertext) {
		t.Fatalf("decoded %+v, want %+v", got, pre)
	}

	noOPK := preKeyEnvelope(t)
	noOPK.PreKeyID = 0
	if got, err = Unmarshal(noOPK.Marshal()); err != nil || got.PreKeyID != 0 {
		t.Fatalf("Unmarshal without one-time pre-key: %v", err)
	}

	msg := &Envelope{Type: TypeMessage, Header: ratchet.Header{DHPub: key(t), PN: 4, N: 0}, Ciphertext: []byte{1}}
	data := msg.Marshal()
	if data[0] != 0x32 {
		t.Fatalf("version byte 0x%02x, want 0x32", data[0])
	}
	if got, err = Unmarshal(data); err != nil || got.Header != msg.Header {
		t.Fatalf("Unmarshal message: %v", err)
	}
}

func TestEnvelopeRejectsNonCanonical(t *testing.T) {
	msg := &Envelope{Type: TypeMessage, Header: ratchet.Header{DHPub: key(t)}, Ciphertext: []byte("c")}
	data := msg.Marshal()

	cases := map[string][]byte{
		"empty":        {},
		"version only": data[:1],
		"bad version":  append([]byte{0x22}, data[1:]...),
		"bad type":     append([]byte{0x35}, data[1:]...),
		"truncated":    data[:len(data)-1],
		"trailing":     append(bytes.Clone(data), 0x00),
		"duplicate":    append(bytes.Clone(data), data[1:]...),
		"pre-key fields on message": protowire.AppendVarint(
			protowire.AppendTag(bytes.Clone(data), fieldRegistrationID, protowire.VarintType), 5),
		"explicit zero one-time pre-key": protowire.AppendVarint(
			protowire.AppendTag(bytes.Clone(data), fieldPreKeyID, protowire.VarintType), 0),
	}
	for name, in := range cases {
		if _, err := Unmarshal(in); err == nil {
			t.Errorf("%s: want error", name)
		}
	}

	// Same fields, different order.
	reordered := []byte{data[0]}
	reordered = protowire.AppendTag(reordered, fieldCounter, protowire.VarintType)
	reordered = protowire.AppendVarint(reordered, 0)
	reordered = protowire.AppendTag(reordered, fieldRatchetKey, protowire.BytesType)
	reordered = protowire.AppendBytes(reordered, msg.Header.DHPub.Serialize())
	reordered = protowire.AppendTag(reordered, fieldPreviousCounter, protowire.VarintType)
	reordered = protowire.AppendVarint(reordered, 0)
	reordered = protowire.AppendTag(reordered, fieldCiphertext, protowire.BytesType)
	reordered = protowire.AppendBytes(reordered, msg.Ciphertext)
	if _, err := Unmarshal(reordered); !errors.Is(err, ErrNotCanonical) {
		t.Fatalf("reordered: want ErrNotCanonical, got %v", err)
	}
}

func TestEnvelopeMissingField(t *testing.T) {
	b := []byte{Version<<4 | byte(TypeMessage)}
	b = protowire.AppendTag(b, fieldCiphertext, protowire.BytesType)
	b = protowire.AppendBytes(b, []byte("c"))
	if _, err := Unmarshal(b); !errors.Is(err, errMissingFields) {
		t.Fatalf("want errMissingFields, got %v", err)
	}
}

func TestAssociatedDataBindsHandshake(t *testing.T) {
	a, b := key(t), key(t)
	pre := preKeyEnvelope(t)
	base := pre.AssociatedData(a, b)

	if bytes.Equal(base, pre.AssociatedData(b, a)) {
		t.Fatal("associated data must depend on direction")
	}
	other := *pre
	other.SignedPreKeyID = 2
	if bytes.Equal(base, other.AssociatedData(a, b)) {
		t.Fatal("associated data must cover the signed pre-key id")
	}
	other = *pre
	other.Type = TypeMessage
	if bytes.Equal(base, other.AssociatedData(a, b)) {
		t.Fatal("associated data must cover the envelope type")
	}
}

// Package wire frames ratchet output into the ciphertext envelopes peers
// exchange.
//
// An envelope is one version/type byte followed by a protobuf-encoded body.
// Pre-key envelopes additionally carry the handshake fields the responder
// needs to derive the session. Decoding is strict: only the canonical
// encoding of a body is accepted.
package wire

import (
	"bytes"
	"errors"
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"

	"sealedchat/internal/crypto"
	"sealedchat/internal/domain"
	"sealedchat/internal/protocol/ratchet"
)

// Version is the only envelope version understood.
const Version = 3

// Type distinguishes ordinary messages from those opening a session.
type Type byte

const (
	TypeMessage Type = 2
	TypePreKey  Type = 3
)

const (
	fieldRatchetKey protowire.Number = iota + 1
	fieldCounter
	fieldPreviousCounter
	fieldCiphertext
	fieldRegistrationID
	fieldPreKeyID
	fieldSignedPreKeyID
	fieldBaseKey
	fieldIdentityKey
)

var (
	ErrTooShort      = errors.New("wire: envelope too short")
	ErrVersion       = errors.New("wire: unsupported version")
	ErrType          = errors.New("wire: unknown envelope type")
	ErrMalformed     = errors.New("wire: malformed envelope body")
	ErrNotCanonical  = errors.New("wire: non-canonical envelope body")
	errMissingFields = errors.New("wire: missing required field")
)

// Envelope is a decoded ciphertext.
type Envelope struct {
	Type       Type
	Header     ratchet.Header
	Ciphertext []byte

	// Pre-key envelopes only.
	RegistrationID domain.RegistrationID
	PreKeyID       uint32
	SignedPreKeyID uint32
	BaseKey        domain.PublicKey
	IdentityKey    domain.PublicKey
}

// Marshal encodes e.
func (e *Envelope) Marshal() []byte {
	b := make([]byte, 0, 1+64+len(e.Ciphertext)+128)
	b = append(b, Version<<4|byte(e.Type))
	b = protowire.AppendTag(b, fieldRatchetKey, protowire.BytesType)
	b = protowire.AppendBytes(b, e.Header.DHPub.Serialize())
	b = protowire.AppendTag(b, fieldCounter, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(e.Header.N))
	b = protowire.AppendTag(b, fieldPreviousCounter, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(e.Header.PN))
	b = protowire.AppendTag(b, fieldCiphertext, protowire.BytesType)
	b = protowire.AppendBytes(b, e.Ciphertext)
	if e.Type != TypePreKey {
		return b
	}
	b = protowire.AppendTag(b, fieldRegistrationID, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(e.RegistrationID))
	if e.PreKeyID != 0 {
		b = protowire.AppendTag(b, fieldPreKeyID, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(e.PreKeyID))
	}
	b = protowire.AppendTag(b, fieldSignedPreKeyID, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(e.SignedPreKeyID))
	b = protowire.AppendTag(b, fieldBaseKey, protowire.BytesType)
	b = protowire.AppendBytes(b, e.BaseKey.Serialize())
	b = protowire.AppendTag(b, fieldIdentityKey, protowire.BytesType)
	b = protowire.AppendBytes(b, e.IdentityKey.Serialize())
	return b
}

// Unmarshal decodes an envelope produced by Marshal.
func Unmarshal(data []byte) (*Envelope, error) {
	if len(data) < 2 {
		return nil, ErrTooShort
	}
	if data[0]>>4 != Version {
		return nil, fmt.Errorf("%w: %d", ErrVersion, data[0]>>4)
	}
	e := &Envelope{Type: Type(data[0] & 0x0F)}
	if e.Type != TypeMessage && e.Type != TypePreKey {
		return nil, fmt.Errorf("%w: %d", ErrType, e.Type)
	}

	seen := make(map[protowire.Number]bool)
	body := data[1:]
	for len(body) > 0 {
		num, typ, n := protowire.ConsumeTag(body)
		if n < 0 {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(n))
		}
		body = body[n:]
		if seen[num] {
			return nil, fmt.Errorf("%w: repeated field %d", ErrNotCanonical, num)
		}
		seen[num] = true

		switch typ {
		case protowire.BytesType:
			v, m := protowire.ConsumeBytes(body)
			if m < 0 {
				return nil, fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(m))
			}
			body = body[m:]
			if err := e.setBytes(num, v); err != nil {
				return nil, err
			}
		case protowire.VarintType:
			v, m := protowire.ConsumeVarint(body)
			if m < 0 {
				return nil, fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(m))
			}
			body = body[m:]
			if err := e.setVarint(num, v); err != nil {
				return nil, err
			}
		default:
			return nil, fmt.Errorf("%w: field %d has wire type %d", ErrMalformed, num, typ)
		}
	}

	required := []protowire.Number{fieldRatchetKey, fieldCounter, fieldPreviousCounter, fieldCiphertext}
	if e.Type == TypePreKey {
		required = append(required, fieldRegistrationID, fieldSignedPreKeyID, fieldBaseKey, fieldIdentityKey)
	}
	for _, f := range required {
		if !seen[f] {
			return nil, fmt.Errorf("%w: %d", errMissingFields, f)
		}
	}

	// Re-encoding rejects field reordering, padded varints and fields that
	// do not belong to the envelope type.
	if !bytes.Equal(e.Marshal(), data) {
		return nil, ErrNotCanonical
	}
	return e, nil
}

func (e *Envelope) setBytes(num protowire.Number, v []byte) error {
	var dst *domain.PublicKey
	switch num {
	case fieldCiphertext:
		e.Ciphertext = bytes.Clone(v)
		return nil
	case fieldRatchetKey:
		dst = &e.Header.DHPub
	case fieldBaseKey:
		dst = &e.BaseKey
	case fieldIdentityKey:
		dst = &e.IdentityKey
	default:
		return fmt.Errorf("%w: unexpected bytes field %d", ErrMalformed, num)
	}
	key, err := crypto.DecodePublicKey(v)
	if err != nil {
		return fmt.Errorf("%w: field %d: %v", ErrMalformed, num, err)
	}
	*dst = key
	return nil
}

func (e *Envelope) setVarint(num protowire.Number, v uint64) error {
	if v > math.MaxUint32 {
		return fmt.Errorf("%w: field %d overflows uint32", ErrMalformed, num)
	}
	switch num {
	case fieldCounter:
		e.Header.N = uint32(v)
	case fieldPreviousCounter:
		e.Header.PN = uint32(v)
	case fieldRegistrationID:
		e.RegistrationID = domain.RegistrationID(v)
	case fieldPreKeyID:
		e.PreKeyID = uint32(v)
	case fieldSignedPreKeyID:
		e.SignedPreKeyID = uint32(v)
	default:
		return fmt.Errorf("%w: unexpected varint field %d", ErrMalformed, num)
	}
	return nil
}

// AssociatedData binds both identities and the handshake fields to the
// message. The ratchet header is bound separately by the ratchet.
func (e *Envelope) AssociatedData(sender, receiver domain.PublicKey) []byte {
	ad := make([]byte, 0, 2*domain.SerializedKeySize+1+12+domain.SerializedKeySize)
	ad = append(ad, sender.Serialize()...)
	ad = append(ad, receiver.Serialize()...)
	ad = append(ad, byte(e.Type))
	if e.Type == TypePreKey {
		ad = protowire.AppendVarint(ad, uint64(e.RegistrationID))
		ad = protowire.AppendVarint(ad, uint64(e.PreKeyID))
		ad = protowire.AppendVarint(ad, uint64(e.SignedPreKeyID))
		ad = append(ad, e.BaseKey.Serialize()...)
	}
	return ad
}

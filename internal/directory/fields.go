package directory

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strings"
	"unicode"

	"sealedchat/internal/crypto"
	"sealedchat/internal/domain"
)

// Field names of a published bundle document.
const (
	FieldRegistrationID        = "registrationId"
	FieldDeviceID              = "deviceId"
	FieldPreKeyID              = "preKeyId"
	FieldPreKeyPublic          = "preKeyPublic"
	FieldSignedPreKeyID        = "signedPreKeyId"
	FieldSignedPreKeyPublic    = "signedPreKeyPublic"
	FieldSignedPreKeySignature = "signedPreKeySignature"
	FieldIdentityKey           = "identityKey"
)

// ToFields flattens b into a directory document. Integers are int64 and
// binary values are padded standard base64 of their wire form.
func ToFields(b domain.PreKeyBundle) domain.Fields {
	f := domain.Fields{
		FieldRegistrationID:        int64(b.RegistrationID),
		FieldDeviceID:              int64(b.DeviceID),
		FieldPreKeyID:              int64(0),
		FieldSignedPreKeyID:        int64(b.SignedPreKeyID),
		FieldSignedPreKeyPublic:    crypto.B64(b.SignedPreKey.Serialize()),
		FieldSignedPreKeySignature: crypto.B64(b.SignedPreKeySignature),
		FieldIdentityKey:           crypto.B64(b.IdentityKey.Serialize()),
	}
	if b.HasPreKey() {
		f[FieldPreKeyID] = int64(b.PreKeyID)
		f[FieldPreKeyPublic] = crypto.B64(b.PreKey.Serialize())
	}
	return f
}

// FromFields rebuilds a bundle from a directory document. Any missing or
// undecodable field yields an error wrapping domain.ErrMalformedBundle.
// preKeyPublic may be absent when preKeyId is 0, meaning the bundle has no
// one-time pre-key.
func FromFields(f domain.Fields) (domain.PreKeyBundle, error) {
	var b domain.PreKeyBundle
	d := decoder{fields: f}

	b.RegistrationID = domain.RegistrationID(d.uint32(FieldRegistrationID))
	b.DeviceID = d.uint32(FieldDeviceID)
	b.PreKeyID = d.uint32(FieldPreKeyID)
	if _, ok := f[FieldPreKeyPublic]; ok || b.PreKeyID != 0 {
		b.PreKey = d.key(FieldPreKeyPublic)
	}
	b.SignedPreKeyID = d.uint32(FieldSignedPreKeyID)
	b.SignedPreKey = d.key(FieldSignedPreKeyPublic)
	b.SignedPreKeySignature = d.bytes(FieldSignedPreKeySignature)
	b.IdentityKey = d.key(FieldIdentityKey)
	if d.err != nil {
		return domain.PreKeyBundle{}, d.err
	}
	if len(b.SignedPreKeySignature) != domain.SignatureSize {
		return domain.PreKeyBundle{}, fmt.Errorf("%w: %s: want %d bytes, got %d",
			domain.ErrMalformedBundle, FieldSignedPreKeySignature, domain.SignatureSize, len(b.SignedPreKeySignature))
	}
	return b, nil
}

// decoder records the first failure so FromFields reads linearly.
type decoder struct {
	fields domain.Fields
	err    error
}

func (d *decoder) fail(name string, format string, args ...any) {
	if d.err == nil {
		d.err = fmt.Errorf("%w: %s: %s", domain.ErrMalformedBundle, name, fmt.Sprintf(format, args...))
	}
}

func (d *decoder) get(name string) (any, bool) {
	v, ok := d.fields[name]
	if !ok || v == nil {
		d.fail(name, "missing")
		return nil, false
	}
	return v, true
}

func (d *decoder) uint32(name string) uint32 {
	raw, ok := d.get(name)
	if !ok {
		return 0
	}
	n, err := toUint32(raw)
	if err != nil {
		d.fail(name, "%v", err)
		return 0
	}
	return n
}

func (d *decoder) bytes(name string) []byte {
	raw, ok := d.get(name)
	if !ok {
		return nil
	}
	switch v := raw.(type) {
	case []byte:
		return append([]byte(nil), v...)
	case string:
		b, err := decodeBase64(v)
		if err != nil {
			d.fail(name, "%v", err)
			return nil
		}
		return b
	default:
		d.fail(name, "unexpected type %T", raw)
		return nil
	}
}

func (d *decoder) key(name string) domain.PublicKey {
	b := d.bytes(name)
	if d.err != nil {
		return domain.PublicKey{}
	}
	k, err := crypto.DecodePublicKey(b)
	if err != nil {
		d.fail(name, "%v", err)
	}
	return k
}

// toUint32 accepts every integer kind plus integral floats and json.Number,
// which is what JSON and protobuf Struct backed stores hand back.
func toUint32(raw any) (uint32, error) {
	if num, ok := raw.(json.Number); ok {
		n, err := num.Int64()
		if err != nil {
			return 0, fmt.Errorf("not an integer: %q", num.String())
		}
		raw = n
	}
	rv := reflect.ValueOf(raw)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n := rv.Int()
		if n < 0 || n > math.MaxUint32 {
			return 0, fmt.Errorf("out of range: %d", n)
		}
		return uint32(n), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		n := rv.Uint()
		if n > math.MaxUint32 {
			return 0, fmt.Errorf("out of range: %d", n)
		}
		return uint32(n), nil
	case reflect.Float32, reflect.Float64:
		f := rv.Float()
		if f != math.Trunc(f) || f < 0 || f > math.MaxUint32 {
			return 0, fmt.Errorf("not a valid integer: %v", f)
		}
		return uint32(f), nil
	default:
		return 0, fmt.Errorf("unexpected type %T", raw)
	}
}

// decodeBase64 accepts standard base64 with or without padding and with
// interspersed whitespace.
func decodeBase64(s string) ([]byte, error) {
	s = strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
	if b, err := base64.StdEncoding.DecodeString(s); err == nil {
		return b, nil
	}
	b, err := base64.RawStdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid base64: %v", err)
	}
	return b, nil
}

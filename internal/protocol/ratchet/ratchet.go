package ratchet

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"sealedchat/internal/crypto"
	"sealedchat/internal/domain"
	"sealedchat/internal/util/memzero"
)

const (
	aeadKeySize = 32
	nonceSize   = chacha20poly1305.NonceSize

	// MaxSkip bounds how far ahead of the receiving chain a single message
	// may be, and maxSkippedMK bounds the stored skipped keys.
	MaxSkip      = 2000
	maxSkippedMK = 2000
)

var (
	ErrSkippedKeyNotFound = errors.New("skipped message key not found")
	ErrTooManySkipped     = errors.New("too many skipped messages")
	ErrAuth               = errors.New("message authentication failed")
	errChainUninitialised = errors.New("ratchet chain key is uninitialised")
)

// Header is the per-message ratchet header. It is authenticated as part of
// the associated data of every message.
type Header struct {
	DHPub domain.PublicKey
	PN    uint32
	N     uint32
}

// State is one side of a Double Ratchet conversation.
type State struct {
	RootKey   []byte
	DHPriv    domain.PrivateKey
	DHPub     domain.PublicKey
	PeerDHPub domain.PublicKey
	SendCK    []byte
	RecvCK    []byte
	Ns, Nr    uint32
	PN        uint32
	Skipped   map[string][]byte
}

// Clone returns a deep copy of st.
func (st *State) Clone() State {
	out := *st
	out.RootKey = cloneBytes(st.RootKey)
	out.SendCK = cloneBytes(st.SendCK)
	out.RecvCK = cloneBytes(st.RecvCK)
	out.Skipped = make(map[string][]byte, len(st.Skipped))
	for k, v := range st.Skipped {
		out.Skipped[k] = cloneBytes(v)
	}
	return out
}

// Wipe zeroes every secret held by st.
func (st *State) Wipe() {
	memzero.All(st.RootKey, st.DHPriv[:], st.SendCK, st.RecvCK)
	for k, v := range st.Skipped {
		memzero.Zero(v)
		delete(st.Skipped, k)
	}
}

// InitAsInitiator seeds the sending chain from root using a fresh ratchet key
// and the peer's signed pre-key, which serves as its first ratchet key.
func InitAsInitiator(root []byte, peerSPK domain.PublicKey) (State, error) {
	kp, err := crypto.GenerateKeyPair()
	if err != nil {
		return State{}, err
	}
	dh, err := crypto.DH(kp.Private, peerSPK)
	if err != nil {
		return State{}, err
	}
	newRK, sendCK := kdfRK(root, dh[:])
	memzero.Zero(dh[:])

	return State{
		RootKey:   newRK,
		DHPriv:    kp.Private,
		DHPub:     kp.Public,
		PeerDHPub: peerSPK,
		SendCK:    sendCK,
		Skipped:   make(map[string][]byte),
	}, nil
}

// InitAsResponder prepares the responder side: our signed pre-key is the
// current ratchet key and both chains start on the first received message.
func InitAsResponder(root []byte, ourSPK domain.KeyPair) State {
	return State{
		RootKey: cloneBytes(root),
		DHPriv:  ourSPK.Private,
		DHPub:   ourSPK.Public,
		Skipped: make(map[string][]byte),
	}
}

// Encrypt produces a header and ciphertext, auto-stepping the DH ratchet on the
// first send after responding. st is left unchanged on error.
func Encrypt(st *State, ad, plaintext []byte) (Header, []byte, error) {
	work := st.Clone()
	h, ct, err := encrypt(&work, ad, plaintext)
	if err != nil {
		return Header{}, nil, err
	}
	*st = work
	return h, ct, nil
}

func encrypt(st *State, ad, plaintext []byte) (Header, []byte, error) {
	// If SendCK is not yet initialised, perform a DH ratchet step.
	if len(st.SendCK) == 0 {
		if st.PeerDHPub.IsZero() {
			return Header{}, nil, errChainUninitialised
		}
		st.PN = st.Ns
		st.Ns = 0

		kp, err := crypto.GenerateKeyPair()
		if err != nil {
			return Header{}, nil, err
		}
		// Advance root and create SendCK using our new priv and the peer's current ratchet pub.
		dh, err := crypto.DH(kp.Private, st.PeerDHPub)
		if err != nil {
			return Header{}, nil, err
		}
		rk2, sendCK := kdfRK(st.RootKey, dh[:])
		memzero.Zero(dh[:])

		st.RootKey = rk2
		st.DHPriv, st.DHPub = kp.Private, kp.Public
		st.SendCK = sendCK
	}

	mk, err := kdfCKSend(st)
	if err != nil {
		return Header{}, nil, err
	}
	h := Header{DHPub: st.DHPub, PN: st.PN, N: st.Ns}

	ct, err := seal(mk, h, ad, plaintext)
	memzero.Zero(mk)
	if err != nil {
		return Header{}, nil, err
	}
	st.Ns++
	return h, ct, nil
}

// Decrypt handles skipped keys, does a DH ratchet step on new remote pubs, then
// opens the message. st is only updated when the message authenticates.
func Decrypt(st *State, ad []byte, header Header, ciphertext []byte) ([]byte, error) {
	work := st.Clone()
	pt, err := decrypt(&work, ad, header, ciphertext)
	if err != nil {
		work.Wipe()
		return nil, err
	}
	*st = work
	return pt, nil
}

func decrypt(st *State, ad []byte, header Header, ciphertext []byte) ([]byte, error) {
	// A key stored while skipping ahead.
	keyID := skippedKeyID(header.DHPub, header.N)
	if mk, ok := st.Skipped[keyID]; ok {
		pt, err := open(mk, header, ad, ciphertext)
		if err != nil {
			return nil, err
		}
		delete(st.Skipped, keyID)
		memzero.Zero(mk)
		return pt, nil
	}

	if header.DHPub != st.PeerDHPub {
		// New DH pub: finish the old receiving chain, then advance receiving and sending chains.
		if err := skipUntil(st, header.PN); err != nil {
			return nil, err
		}
		if err := dhStep(st, header.DHPub); err != nil {
			return nil, err
		}
	} else if header.N < st.Nr {
		// Already delivered or evicted.
		return nil, ErrSkippedKeyNotFound
	}

	if err := skipUntil(st, header.N); err != nil {
		return nil, err
	}
	mk, err := kdfCKRecv(st)
	if err != nil {
		return nil, err
	}
	pt, err := open(mk, header, ad, ciphertext)
	memzero.Zero(mk)
	if err != nil {
		return nil, err
	}
	st.Nr++
	return pt, nil
}

func dhStep(st *State, peer domain.PublicKey) error {
	dh, err := crypto.DH(st.DHPriv, peer)
	if err != nil {
		return err
	}
	rk2, recvCK := kdfRK(st.RootKey, dh[:])
	memzero.Zero(dh[:])

	kp, err := crypto.GenerateKeyPair()
	if err != nil {
		return err
	}
	dh2, err := crypto.DH(kp.Private, peer)
	if err != nil {
		return err
	}
	rk3, sendCK := kdfRK(rk2, dh2[:])
	memzero.Zero(dh2[:])

	st.PN = st.Ns
	st.Ns, st.Nr = 0, 0
	st.RootKey = rk3
	st.DHPriv, st.DHPub = kp.Private, kp.Public
	st.PeerDHPub = peer
	st.SendCK, st.RecvCK = sendCK, recvCK
	return nil
}

// --- helpers ---

func seal(mk []byte, header Header, ad, plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(mk[:aeadKeySize])
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, nonceSize)
	binary.BigEndian.PutUint32(nonce[nonceSize-4:], header.N)
	return aead.Seal(nil, nonce, plaintext, fullAD(ad, header)), nil
}

func open(mk []byte, header Header, ad, ciphertext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(mk[:aeadKeySize])
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, nonceSize)
	binary.BigEndian.PutUint32(nonce[nonceSize-4:], header.N)
	pt, err := aead.Open(nil, nonce, ciphertext, fullAD(ad, header))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAuth, err)
	}
	return pt, nil
}

func fullAD(ad []byte, h Header) []byte {
	out := make([]byte, 0, len(ad)+domain.KeySize+8)
	out = append(out, ad...)
	out = append(out, h.DHPub[:]...)
	out = binary.BigEndian.AppendUint32(out, h.PN)
	return binary.BigEndian.AppendUint32(out, h.N)
}

// HKDF-based KDFs with labels.
func kdfRK(rk, dh []byte) (newRK, ck []byte) {
	r := hkdf.New(sha256.New, dh, rk, []byte("DR|rk"))
	newRK = make([]byte, 32)
	ck = make([]byte, 32)
	_, _ = io.ReadFull(r, newRK)
	_, _ = io.ReadFull(r, ck)
	return
}

func kdfCK(ck []byte) (nextCK, mk []byte) {
	r := hkdf.New(sha256.New, ck, nil, []byte("DR|ck"))
	nextCK = make([]byte, 32)
	mk = make([]byte, 32)
	_, _ = io.ReadFull(r, nextCK)
	_, _ = io.ReadFull(r, mk)
	return
}

func kdfCKSend(st *State) ([]byte, error) {
	if len(st.SendCK) == 0 {
		return nil, errChainUninitialised
	}
	nextCK, mk := kdfCK(st.SendCK)
	st.SendCK = nextCK
	return mk, nil
}

func kdfCKRecv(st *State) ([]byte, error) {
	if len(st.RecvCK) == 0 {
		return nil, errChainUninitialised
	}
	nextCK, mk := kdfCK(st.RecvCK)
	st.RecvCK = nextCK
	return mk, nil
}

func skippedKeyID(peer domain.PublicKey, n uint32) string {
	b := make([]byte, 0, domain.KeySize+4)
	b = append(b, peer[:]...)
	return string(binary.BigEndian.AppendUint32(b, n))
}

// skipUntil derives and stores message keys up to n with a hard cap.
// It is a no-op before the first receiving chain exists.
func skipUntil(st *State, n uint32) error {
	if len(st.RecvCK) == 0 || st.Nr >= n {
		return nil
	}
	if n-st.Nr > MaxSkip {
		return ErrTooManySkipped
	}
	for st.Nr < n {
		mk, err := kdfCKRecv(st)
		if err != nil {
			return err
		}
		if len(st.Skipped) >= maxSkippedMK {
			for k, v := range st.Skipped {
				memzero.Zero(v)
				delete(st.Skipped, k)
				break
			}
		}
		st.Skipped[skippedKeyID(st.PeerDHPub, st.Nr)] = mk
		st.Nr++
	}
	return nil
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

package session

import (
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"sealedchat/internal/domain"
	"sealedchat/internal/protocol/ratchet"
	"sealedchat/internal/protocol/wire"
	"sealedchat/internal/protocol/x3dh"
	"sealedchat/internal/util/memzero"
)

// Cipher encrypts and decrypts messages for one peer. It is not safe for
// concurrent use; the Manager serialises access per peer.
type Cipher struct {
	peer  domain.PeerID
	keys  domain.KeyStore
	trust domain.TrustStore
	log   *zap.Logger
	clock func() time.Time
	rec   record
}

// Peer returns the peer the cipher is bound to.
func (c *Cipher) Peer() domain.PeerID { return c.peer }

// Encrypt seals plaintext under the current state. While the handshake is
// unconfirmed the envelope carries the pre-key header.
func (c *Cipher) Encrypt(plaintext []byte) ([]byte, error) {
	st := c.rec.current()
	if st == nil {
		return nil, domain.ErrNoSession
	}
	local, err := c.keys.IdentityKeyPair()
	if err != nil {
		return nil, err
	}

	env := &wire.Envelope{Type: wire.TypeMessage}
	if p := st.pending; p != nil {
		regID, err := c.keys.RegistrationID()
		if err != nil {
			return nil, err
		}
		env.Type = wire.TypePreKey
		env.RegistrationID = regID
		env.PreKeyID = p.preKeyID
		env.SignedPreKeyID = p.signedPreKeyID
		env.BaseKey = p.baseKey
		env.IdentityKey = local.Public
	}

	h, ct, err := ratchet.Encrypt(&st.ratchet, env.AssociatedData(local.Public, st.remoteIdentity), plaintext)
	if err != nil {
		return nil, err
	}
	env.Header = h
	env.Ciphertext = ct
	return env.Marshal(), nil
}

// Decrypt opens an envelope from the peer. Every failure wraps
// domain.ErrDecryption and leaves the record untouched.
func (c *Cipher) Decrypt(data []byte) ([]byte, error) {
	env, err := wire.Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrDecryption, err)
	}
	local, err := c.keys.IdentityKeyPair()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrDecryption, err)
	}
	if env.Type == wire.TypePreKey {
		return c.decryptPreKey(local, env)
	}
	return c.decryptMessage(local, env)
}

func (c *Cipher) decryptMessage(local domain.KeyPair, env *wire.Envelope) ([]byte, error) {
	var lastErr error
	for i, st := range c.rec.states {
		ad := env.AssociatedData(st.remoteIdentity, local.Public)
		pt, err := ratchet.Decrypt(&st.ratchet, ad, env.Header, env.Ciphertext)
		if err != nil {
			lastErr = err
			continue
		}
		c.confirm(st)
		c.rec.promote(i)
		return pt, nil
	}
	return nil, fmt.Errorf("%w: %v", domain.ErrDecryption, lastErr)
}

func (c *Cipher) decryptPreKey(local domain.KeyPair, env *wire.Envelope) ([]byte, error) {
	if !c.trust.IsTrusted(c.peer, env.IdentityKey) {
		return nil, fmt.Errorf("%w: %w", domain.ErrDecryption, domain.ErrUntrustedIdentity)
	}
	ad := env.AssociatedData(env.IdentityKey, local.Public)

	// A further message of a handshake we already answered.
	if i, st := c.rec.findBaseKey(env.BaseKey); st != nil {
		if st.remoteIdentity != env.IdentityKey {
			return nil, fmt.Errorf("%w: identity does not match session", domain.ErrDecryption)
		}
		pt, err := ratchet.Decrypt(&st.ratchet, ad, env.Header, env.Ciphertext)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrDecryption, err)
		}
		c.confirm(st)
		c.rec.promote(i)
		return pt, nil
	}

	st, err := c.responderState(local, env)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrDecryption, err)
	}
	pt, err := ratchet.Decrypt(&st.ratchet, ad, env.Header, env.Ciphertext)
	if err != nil {
		st.ratchet.Wipe()
		return nil, fmt.Errorf("%w: %v", domain.ErrDecryption, err)
	}
	if err := c.trust.ApproveIdentity(c.peer, env.IdentityKey); err != nil {
		st.ratchet.Wipe()
		return nil, fmt.Errorf("%w: %w", domain.ErrDecryption, err)
	}
	if env.PreKeyID != 0 {
		c.keys.ConsumePreKey(env.PreKeyID)
	}
	c.rec.push(st)
	c.log.Info("session accepted",
		zap.String("peer", c.peer.String()),
		zap.String("session_id", st.id.String()),
		zap.Uint32("signed_pre_key_id", env.SignedPreKeyID),
		zap.Uint32("pre_key_id", env.PreKeyID))
	return pt, nil
}

// responderState derives the state a peer's pre-key envelope was built
// against from the local pre-keys it names.
func (c *Cipher) responderState(local domain.KeyPair, env *wire.Envelope) (*state, error) {
	spk, ok := c.keys.SignedPreKey(env.SignedPreKeyID)
	if !ok {
		return nil, fmt.Errorf("unknown signed pre-key %d", env.SignedPreKeyID)
	}
	var opk *domain.PrivateKey
	if env.PreKeyID != 0 {
		rec, ok := c.keys.PreKey(env.PreKeyID)
		if !ok {
			return nil, fmt.Errorf("one-time pre-key %d unknown or already used", env.PreKeyID)
		}
		opk = &rec.KeyPair.Private
	}

	root, err := x3dh.ResponderRootKey(local.Private, spk.KeyPair.Private, opk, env.IdentityKey, env.BaseKey)
	if err != nil {
		return nil, err
	}
	defer memzero.Zero(root)

	id, err := uuid.NewV4()
	if err != nil {
		return nil, err
	}
	return &state{
		id:                   id,
		ratchet:              ratchet.InitAsResponder(root, spk.KeyPair),
		baseKey:              env.BaseKey,
		remoteIdentity:       env.IdentityKey,
		remoteRegistrationID: env.RegistrationID,
		createdAt:            c.clock(),
	}, nil
}

// confirm drops the pending pre-key header once the peer has answered.
func (c *Cipher) confirm(st *state) {
	if st.pending == nil {
		return
	}
	st.pending = nil
	c.log.Debug("session confirmed by peer",
		zap.String("peer", c.peer.String()),
		zap.String("session_id", st.id.String()))
}

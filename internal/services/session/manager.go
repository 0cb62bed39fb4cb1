package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"sealedchat/internal/crypto"
	"sealedchat/internal/domain"
	"sealedchat/internal/protocol/ratchet"
	"sealedchat/internal/protocol/x3dh"
	"sealedchat/internal/util/memzero"
)

// Manager caches one Cipher per peer.
type Manager struct {
	keys  domain.KeyStore
	trust domain.TrustStore
	log   *zap.Logger
	clock func() time.Time

	mu    sync.RWMutex
	slots map[domain.PeerID]*slot
}

type slot struct {
	mu     sync.Mutex
	cipher *Cipher
}

// New returns a Manager drawing local key material from keys and applying
// the trust policy of trust.
func New(keys domain.KeyStore, trust domain.TrustStore, log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{
		keys:  keys,
		trust: trust,
		log:   log,
		clock: time.Now,
		slots: make(map[domain.PeerID]*slot),
	}
}

// EstablishSession verifies bundle, runs the initiator handshake and caches
// a Cipher for peer, replacing any previous one. On failure the cache is
// unchanged and the error wraps domain.ErrSessionEstablishment.
//
// Replacement is not a clean swap when the remote identity is unchanged:
// encryption moves to the new state, but up to maxPreviousStates earlier
// states are archived in the record and still decrypt messages that were in
// flight. A different identity wipes them.
func (m *Manager) EstablishSession(peer domain.PeerID, bundle domain.PreKeyBundle) error {
	local, err := m.keys.IdentityKeyPair()
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrSessionEstablishment, err)
	}
	if !m.trust.IsTrusted(peer, bundle.IdentityKey) {
		return fmt.Errorf("%w: %w", domain.ErrSessionEstablishment, domain.ErrUntrustedIdentity)
	}
	in, err := x3dh.Initiate(local, bundle)
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrSessionEstablishment, err)
	}
	rs, err := ratchet.InitAsInitiator(in.RootKey, bundle.SignedPreKey)
	memzero.Zero(in.RootKey)
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrSessionEstablishment, err)
	}
	id, err := uuid.NewV4()
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrSessionEstablishment, err)
	}
	st := &state{
		id:                   id,
		ratchet:              rs,
		baseKey:              in.BaseKey.Public,
		remoteIdentity:       bundle.IdentityKey,
		remoteRegistrationID: bundle.RegistrationID,
		initiator:            true,
		pending: &pendingPreKey{
			preKeyID:       in.PreKeyID,
			signedPreKeyID: in.SignedPreKeyID,
			baseKey:        in.BaseKey.Public,
		},
		createdAt: m.clock(),
	}
	memzero.Zero(in.BaseKey.Private[:])

	if err := m.trust.ApproveIdentity(peer, bundle.IdentityKey); err != nil {
		st.ratchet.Wipe()
		return fmt.Errorf("%w: %w", domain.ErrSessionEstablishment, err)
	}

	sl := m.lockSlot(peer)
	defer sl.mu.Unlock()

	c := &Cipher{peer: peer, keys: m.keys, trust: m.trust, log: m.log, clock: m.clock}
	if old := sl.cipher; old != nil {
		// Earlier states of the same identity stay usable for in-flight messages.
		if cur := old.rec.current(); cur != nil && cur.remoteIdentity == bundle.IdentityKey {
			c.rec = old.rec
		} else {
			old.rec.wipe()
		}
	}
	c.rec.push(st)
	sl.cipher = c

	m.log.Info("session established",
		zap.String("peer", peer.String()),
		zap.String("session_id", id.String()),
		zap.Uint32("signed_pre_key_id", in.SignedPreKeyID),
		zap.Uint32("pre_key_id", in.PreKeyID))
	return nil
}

// Encrypt seals plaintext for peer.
func (m *Manager) Encrypt(peer domain.PeerID, plaintext []byte) ([]byte, error) {
	var out []byte
	err := m.withCipher(peer, func(c *Cipher) error {
		var err error
		out, err = c.Encrypt(plaintext)
		return err
	})
	return out, err
}

// Decrypt opens a ciphertext from peer. Errors wrap domain.ErrNoSession when
// no session exists and domain.ErrDecryption otherwise.
func (m *Manager) Decrypt(peer domain.PeerID, ciphertext []byte) ([]byte, error) {
	var out []byte
	err := m.withCipher(peer, func(c *Cipher) error {
		var err error
		out, err = c.Decrypt(ciphertext)
		if err != nil {
			m.log.Debug("decrypt failed", zap.String("peer", peer.String()), zap.Error(err))
		}
		return err
	})
	return out, err
}

// HasSession reports whether a Cipher is cached for peer.
func (m *Manager) HasSession(peer domain.PeerID) bool {
	sl := m.slot(peer, false)
	if sl == nil {
		return false
	}
	sl.mu.Lock()
	defer sl.mu.Unlock()
	return sl.cipher != nil
}

// Session describes the current session with peer.
func (m *Manager) Session(peer domain.PeerID) (domain.SessionInfo, bool) {
	var info domain.SessionInfo
	err := m.withCipher(peer, func(c *Cipher) error {
		info = c.rec.current().info(peer)
		return nil
	})
	return info, err == nil
}

// Fingerprint returns the safety number of the local identity and the
// identity of peer's current session.
func (m *Manager) Fingerprint(peer domain.PeerID) (domain.Fingerprint, error) {
	local, err := m.keys.IdentityKeyPair()
	if err != nil {
		return "", err
	}
	var fp domain.Fingerprint
	err = m.withCipher(peer, func(c *Cipher) error {
		fp = crypto.SafetyNumber(local.Public, c.rec.current().remoteIdentity)
		return nil
	})
	return fp, err
}

// EndSession drops the Cipher for peer, e.g. after it re-registered.
func (m *Manager) EndSession(peer domain.PeerID) {
	m.mu.Lock()
	sl := m.slots[peer]
	delete(m.slots, peer)
	m.mu.Unlock()
	if sl == nil {
		return
	}
	sl.mu.Lock()
	defer sl.mu.Unlock()
	if sl.cipher != nil {
		sl.cipher.rec.wipe()
		sl.cipher = nil
	}
	m.log.Info("session ended", zap.String("peer", peer.String()))
}

// Reset drops every cached Cipher.
func (m *Manager) Reset() {
	m.mu.Lock()
	slots := m.slots
	m.slots = make(map[domain.PeerID]*slot)
	m.mu.Unlock()
	for _, sl := range slots {
		sl.mu.Lock()
		if sl.cipher != nil {
			sl.cipher.rec.wipe()
			sl.cipher = nil
		}
		sl.mu.Unlock()
	}
	m.log.Info("sessions reset", zap.Int("count", len(slots)))
}

func (m *Manager) slot(peer domain.PeerID, create bool) *slot {
	m.mu.RLock()
	sl := m.slots[peer]
	m.mu.RUnlock()
	if sl != nil || !create {
		return sl
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if sl = m.slots[peer]; sl == nil {
		sl = &slot{}
		m.slots[peer] = sl
	}
	return sl
}

// lockSlot returns peer's slot, creating it if needed, locked and still
// registered. A slot removed by EndSession or Reset before the lock was
// taken is skipped.
func (m *Manager) lockSlot(peer domain.PeerID) *slot {
	for {
		sl := m.slot(peer, true)
		sl.mu.Lock()
		m.mu.RLock()
		live := m.slots[peer] == sl
		m.mu.RUnlock()
		if live {
			return sl
		}
		sl.mu.Unlock()
	}
}

func (m *Manager) withCipher(peer domain.PeerID, fn func(*Cipher) error) error {
	sl := m.slot(peer, false)
	if sl == nil {
		return fmt.Errorf("%w: %s", domain.ErrNoSession, peer)
	}
	sl.mu.Lock()
	defer sl.mu.Unlock()
	if sl.cipher == nil || sl.cipher.rec.current() == nil {
		return fmt.Errorf("%w: %s", domain.ErrNoSession, peer)
	}
	return fn(sl.cipher)
}

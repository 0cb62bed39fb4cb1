package identity

import (
	"crypto/rand"
	"fmt"
	"io"
	"math/big"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"sealedchat/internal/crypto"
	"sealedchat/internal/domain"
	"sealedchat/internal/util/memzero"
)

// Store manages the identity key pair, registration id, pre-keys and trust
// records of the local device. It is safe for concurrent use.
type Store struct {
	log   *zap.Logger
	mode  domain.TrustMode
	rand  io.Reader
	clock func() time.Time

	mu          sync.Mutex
	initialised bool
	identity    domain.KeyPair
	regID       domain.RegistrationID
	deviceID    uint32

	nextPreKeyID       uint32
	nextSignedPreKeyID uint32
	preKeys            map[uint32]*domain.PreKeyRecord
	signedPreKeys      map[uint32]*domain.SignedPreKeyRecord
	trusted            map[domain.PeerID]domain.PublicKey
}

// New returns an empty store. Key material is generated on first use.
func New(log *zap.Logger, mode domain.TrustMode) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	if !mode.Valid() {
		mode = domain.TrustOnFirstUse
	}
	s := &Store{log: log, mode: mode, rand: rand.Reader, clock: time.Now, deviceID: domain.DefaultDeviceID}
	s.resetLocked()
	return s
}

// Init creates the identity key pair and registration id once per store
// lifetime. A failed attempt leaves the store uninitialised so it may be
// retried.
func (s *Store) Init() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.initLocked()
}

func (s *Store) initLocked() error {
	if s.initialised {
		return nil
	}
	kp, err := crypto.GenerateKeyPair()
	if err != nil {
		return err
	}
	regID, err := newRegistrationID(s.rand)
	if err != nil {
		memzero.Zero(kp.Private[:])
		return err
	}
	s.identity, s.regID, s.initialised = kp, regID, true
	s.log.Info("identity created",
		zap.Uint32("registration_id", uint32(regID)),
		zap.String("fingerprint", crypto.Fingerprint(kp.Public).String()))
	return nil
}

// newRegistrationID draws uniformly from [MinRegistrationID, MaxRegistrationID].
func newRegistrationID(r io.Reader) (domain.RegistrationID, error) {
	span := big.NewInt(int64(domain.MaxRegistrationID - domain.MinRegistrationID + 1))
	n, err := rand.Int(r, span)
	if err != nil {
		return 0, fmt.Errorf("%w: registration id: %v", domain.ErrKeyGeneration, err)
	}
	return domain.MinRegistrationID + domain.RegistrationID(n.Int64()), nil
}

// IdentityKeyPair returns the long-term identity key pair.
func (s *Store) IdentityKeyPair() (domain.KeyPair, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.initLocked(); err != nil {
		return domain.KeyPair{}, err
	}
	return s.identity, nil
}

// RegistrationID returns the registration id advertised in bundles.
func (s *Store) RegistrationID() (domain.RegistrationID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.initLocked(); err != nil {
		return 0, err
	}
	return s.regID, nil
}

// SetDeviceID sets the device id advertised in bundles. Zero restores the
// default.
func (s *Store) SetDeviceID(id uint32) {
	if id == 0 {
		id = domain.DefaultDeviceID
	}
	s.mu.Lock()
	s.deviceID = id
	s.mu.Unlock()
}

// Fingerprint returns a short fingerprint of the local identity key.
func (s *Store) Fingerprint() (domain.Fingerprint, error) {
	kp, err := s.IdentityKeyPair()
	if err != nil {
		return "", err
	}
	return crypto.Fingerprint(kp.Public), nil
}

// GeneratePreKeyBundle mints one one-time pre-key and one signed pre-key,
// keeps their private halves, and returns the public bundle.
func (s *Store) GeneratePreKeyBundle() (domain.PreKeyBundle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.initLocked(); err != nil {
		return domain.PreKeyBundle{}, err
	}

	pk, err := s.newPreKeyLocked()
	if err != nil {
		return domain.PreKeyBundle{}, err
	}
	spk, err := s.newSignedPreKeyLocked()
	if err != nil {
		// Keep the pool consistent with what was handed out.
		s.dropPreKeyLocked(pk.ID)
		return domain.PreKeyBundle{}, err
	}

	bundle := domain.PreKeyBundle{
		RegistrationID:        s.regID,
		DeviceID:              s.deviceID,
		PreKeyID:              pk.ID,
		PreKey:                pk.KeyPair.Public,
		SignedPreKeyID:        spk.ID,
		SignedPreKey:          spk.KeyPair.Public,
		SignedPreKeySignature: append([]byte(nil), spk.Signature...),
		IdentityKey:           s.identity.Public,
	}
	s.log.Debug("pre-key bundle generated",
		zap.Uint32("pre_key_id", pk.ID),
		zap.Uint32("signed_pre_key_id", spk.ID))
	return bundle, nil
}

// GeneratePreKeys adds count one-time pre-keys to the local pool.
func (s *Store) GeneratePreKeys(count int) ([]domain.PreKeyRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.initLocked(); err != nil {
		return nil, err
	}
	out := make([]domain.PreKeyRecord, 0, count)
	for i := 0; i < count; i++ {
		rec, err := s.newPreKeyLocked()
		if err != nil {
			return out, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func (s *Store) newPreKeyLocked() (domain.PreKeyRecord, error) {
	kp, err := crypto.GenerateKeyPair()
	if err != nil {
		return domain.PreKeyRecord{}, err
	}
	rec := domain.PreKeyRecord{ID: s.nextPreKeyID, KeyPair: kp}
	s.preKeys[rec.ID] = &rec
	s.nextPreKeyID++
	return rec, nil
}

func (s *Store) newSignedPreKeyLocked() (domain.SignedPreKeyRecord, error) {
	kp, err := crypto.GenerateKeyPair()
	if err != nil {
		return domain.SignedPreKeyRecord{}, err
	}
	sig, err := crypto.Sign(s.identity.Private, kp.Public.Serialize())
	if err != nil {
		return domain.SignedPreKeyRecord{}, err
	}
	rec := domain.SignedPreKeyRecord{
		ID:        s.nextSignedPreKeyID,
		Timestamp: s.clock(),
		KeyPair:   kp,
		Signature: sig,
	}
	s.signedPreKeys[rec.ID] = &rec
	s.nextSignedPreKeyID++
	return rec, nil
}

// PreKey returns the one-time pre-key with id, if still unused.
func (s *Store) PreKey(id uint32) (domain.PreKeyRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.preKeys[id]
	if !ok {
		return domain.PreKeyRecord{}, false
	}
	return *rec, true
}

// ConsumePreKey removes a one-time pre-key after a peer used it.
func (s *Store) ConsumePreKey(id uint32) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.dropPreKeyLocked(id) {
		return false
	}
	s.log.Debug("one-time pre-key consumed", zap.Uint32("pre_key_id", id))
	return true
}

// dropPreKeyLocked wipes and removes a one-time pre-key.
func (s *Store) dropPreKeyLocked(id uint32) bool {
	rec, ok := s.preKeys[id]
	if !ok {
		return false
	}
	memzero.Zero(rec.KeyPair.Private[:])
	delete(s.preKeys, id)
	return true
}

// PreKeyCount reports the number of unused one-time pre-keys.
func (s *Store) PreKeyCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.preKeys)
}

// PrunePreKeys drops all but the newest keep unused one-time pre-keys and
// returns how many were removed.
func (s *Store) PrunePreKeys(keep int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if keep < 0 {
		keep = 0
	}
	if len(s.preKeys) <= keep {
		return 0
	}
	ids := make([]uint32, 0, len(s.preKeys))
	for id := range s.preKeys {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	drop := ids[:len(ids)-keep]
	for _, id := range drop {
		s.dropPreKeyLocked(id)
	}
	s.log.Debug("one-time pre-keys pruned", zap.Int("removed", len(drop)), zap.Int("kept", keep))
	return len(drop)
}

// SignedPreKey returns the signed pre-key with id.
func (s *Store) SignedPreKey(id uint32) (domain.SignedPreKeyRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.signedPreKeys[id]
	if !ok {
		return domain.SignedPreKeyRecord{}, false
	}
	return *rec, true
}

// PruneSignedPreKeys drops all but the newest keep signed pre-keys and
// returns how many were removed. Peers still holding an older bundle can no
// longer start a session from it.
func (s *Store) PruneSignedPreKeys(keep int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if keep < 1 {
		keep = 1
	}
	if len(s.signedPreKeys) <= keep {
		return 0
	}
	ids := make([]uint32, 0, len(s.signedPreKeys))
	for id := range s.signedPreKeys {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	drop := ids[:len(ids)-keep]
	for _, id := range drop {
		memzero.Zero(s.signedPreKeys[id].KeyPair.Private[:])
		delete(s.signedPreKeys, id)
	}
	s.log.Info("signed pre-keys pruned", zap.Int("removed", len(drop)), zap.Int("kept", keep))
	return len(drop)
}

// ------------- Trust -------------

// Mode returns the trust policy in force.
func (s *Store) Mode() domain.TrustMode { return s.mode }

// TrustIdentity pins key for peer unconditionally, e.g. after an
// out-of-band fingerprint comparison.
func (s *Store) TrustIdentity(peer domain.PeerID, key domain.PublicKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trusted[peer] = key
	s.log.Info("identity pinned", zap.String("peer", peer.String()),
		zap.String("fingerprint", crypto.Fingerprint(key).String()))
}

// TrustedIdentity returns the key pinned for peer.
func (s *Store) TrustedIdentity(peer domain.PeerID) (domain.PublicKey, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key, ok := s.trusted[peer]
	return key, ok
}

// IsTrusted reports whether the policy accepts key for peer.
func (s *Store) IsTrusted(peer domain.PeerID, key domain.PublicKey) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isTrustedLocked(peer, key)
}

func (s *Store) isTrustedLocked(peer domain.PeerID, key domain.PublicKey) bool {
	pinned, ok := s.trusted[peer]
	switch s.mode {
	case domain.TrustAlways:
		return true
	case domain.TrustVerifiedOnly:
		return ok && pinned == key
	default:
		return !ok || pinned == key
	}
}

// ApproveIdentity applies the trust policy to key and pins it when accepted.
func (s *Store) ApproveIdentity(peer domain.PeerID, key domain.PublicKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.isTrustedLocked(peer, key) {
		s.log.Warn("identity rejected", zap.String("peer", peer.String()),
			zap.String("mode", string(s.mode)),
			zap.String("fingerprint", crypto.Fingerprint(key).String()))
		return fmt.Errorf("%w: peer %s", domain.ErrUntrustedIdentity, peer)
	}
	pinned, ok := s.trusted[peer]
	if ok && pinned != key {
		s.log.Warn("identity key changed, trusting new key",
			zap.String("peer", peer.String()),
			zap.String("old", crypto.Fingerprint(pinned).String()),
			zap.String("new", crypto.Fingerprint(key).String()))
	}
	s.trusted[peer] = key
	return nil
}

// ForgetIdentity drops the pin for peer.
func (s *Store) ForgetIdentity(peer domain.PeerID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.trusted, peer)
}

// Reset wipes all key material and trust records. The next call that needs
// an identity creates a new one.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	memzero.Zero(s.identity.Private[:])
	for _, rec := range s.preKeys {
		memzero.Zero(rec.KeyPair.Private[:])
	}
	for _, rec := range s.signedPreKeys {
		memzero.Zero(rec.KeyPair.Private[:])
	}
	s.resetLocked()
	s.log.Info("identity store reset")
}

func (s *Store) resetLocked() {
	s.initialised = false
	s.identity = domain.KeyPair{}
	s.regID = 0
	s.nextPreKeyID, s.nextSignedPreKeyID = 1, 1
	s.preKeys = make(map[uint32]*domain.PreKeyRecord)
	s.signedPreKeys = make(map[uint32]*domain.SignedPreKeyRecord)
	s.trusted = make(map[domain.PeerID]domain.PublicKey)
}

// Compile-time assertions that Store serves the session layer.
var (
	_ domain.KeyStore   = (*Store)(nil)
	_ domain.TrustStore = (*Store)(nil)
)

package session

import (
	"time"

	"github.com/gofrs/uuid/v5"

	"sealedchat/internal/domain"
	"sealedchat/internal/protocol/ratchet"
)

// maxPreviousStates bounds the superseded states kept per peer.
const maxPreviousStates = 40

// pendingPreKey is the handshake header an initiator repeats until the
// responder's first reply proves it holds the session.
type pendingPreKey struct {
	preKeyID       uint32
	signedPreKeyID uint32
	baseKey        domain.PublicKey
}

type state struct {
	id                   uuid.UUID
	ratchet              ratchet.State
	baseKey              domain.PublicKey
	remoteIdentity       domain.PublicKey
	remoteRegistrationID domain.RegistrationID
	initiator            bool
	pending              *pendingPreKey
	createdAt            time.Time
}

func (s *state) info(peer domain.PeerID) domain.SessionInfo {
	return domain.SessionInfo{
		Peer:                 peer,
		SessionID:            s.id.String(),
		RemoteIdentity:       s.remoteIdentity,
		RemoteRegistrationID: s.remoteRegistrationID,
		Initiator:            s.initiator,
		PendingPreKey:        s.pending != nil,
		CreatedAt:            s.createdAt,
	}
}

// record holds the states for one peer, current first.
type record struct {
	states []*state
}

func (r *record) current() *state {
	if len(r.states) == 0 {
		return nil
	}
	return r.states[0]
}

// push makes st current and drops the oldest states beyond the bound.
func (r *record) push(st *state) {
	r.states = append([]*state{st}, r.states...)
	for len(r.states) > maxPreviousStates+1 {
		last := r.states[len(r.states)-1]
		last.ratchet.Wipe()
		r.states = r.states[:len(r.states)-1]
	}
}

// promote makes states[i] current, keeping the order of the rest.
func (r *record) promote(i int) {
	if i == 0 {
		return
	}
	st := r.states[i]
	copy(r.states[1:i+1], r.states[:i])
	r.states[0] = st
}

func (r *record) findBaseKey(base domain.PublicKey) (int, *state) {
	for i, st := range r.states {
		if st.baseKey == base {
			return i, st
		}
	}
	return -1, nil
}

func (r *record) wipe() {
	for _, st := range r.states {
		st.ratchet.Wipe()
	}
	r.states = nil
}

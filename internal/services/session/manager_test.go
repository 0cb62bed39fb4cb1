package session_test

import (
	"bytes"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"sealedchat/internal/domain"
	"sealedchat/internal/services/identity"
	"sealedchat/internal/services/session"
)

const (
	envMessage = 0x32
	envPreKey  = 0x33
)

type device struct {
	id    domain.PeerID
	store *identity.Store
	mgr   *session.Manager
}

func newDevice(t *testing.T, id domain.PeerID, mode domain.TrustMode) *device {
	t.Helper()
	log := zaptest.NewLogger(t).Named(string(id))
	st := identity.New(log, mode)
	return &device{id: id, store: st, mgr: session.New(st, st, log)}
}

func (d *device) bundle(t *testing.T) domain.PreKeyBundle {
	t.Helper()
	b, err := d.store.GeneratePreKeyBundle()
	require.NoError(t, err)
	return b
}

// connect has each side establish a session from the other's bundle.
func connect(t *testing.T, a, b *device) {
	t.Helper()
	require.NoError(t, a.mgr.EstablishSession(b.id, b.bundle(t)))
	require.NoError(t, b.mgr.EstablishSession(a.id, a.bundle(t)))
}

func send(t *testing.T, from, to *device, msg string) []byte {
	t.Helper()
	ct, err := from.mgr.Encrypt(to.id, []byte(msg))
	require.NoError(t, err)
	return ct
}

func deliver(t *testing.T, to, from *device, ct []byte, want string) {
	t.Helper()
	pt, err := to.mgr.Decrypt(from.id, ct)
	require.NoError(t, err)
	require.Equal(t, want, string(pt))
}

func TestBidirectionalExchange(t *testing.T) {
	alice := newDevice(t, "alice", domain.TrustOnFirstUse)
	bob := newDevice(t, "bob", domain.TrustOnFirstUse)
	connect(t, alice, bob)

	hello := send(t, alice, bob, "hello")
	assert.EqualValues(t, envPreKey, hello[0], "first message opens the session")
	deliver(t, bob, alice, hello, "hello")

	world := send(t, bob, alice, "world")
	assert.EqualValues(t, envMessage, world[0], "responder answers on the accepted session")
	deliver(t, alice, bob, world, "world")

	for i := 0; i < 5; i++ {
		ct := send(t, alice, bob, fmt.Sprintf("a%d", i))
		assert.EqualValues(t, envMessage, ct[0], "pre-key header dropped after the reply")
		deliver(t, bob, alice, ct, fmt.Sprintf("a%d", i))
		deliver(t, alice, bob, send(t, bob, alice, fmt.Sprintf("b%d", i)), fmt.Sprintf("b%d", i))
	}

	info, ok := alice.mgr.Session(bob.id)
	require.True(t, ok)
	assert.False(t, info.PendingPreKey)
	assert.True(t, info.Initiator)
	assert.NotEmpty(t, info.SessionID)

	fa, err := alice.mgr.Fingerprint(bob.id)
	require.NoError(t, err)
	fb, err := bob.mgr.Fingerprint(alice.id)
	require.NoError(t, err)
	assert.Equal(t, fa, fb, "safety numbers match on both sides")
}

func TestOneTimePreKeyConsumedOnSuccessOnly(t *testing.T) {
	alice := newDevice(t, "alice", domain.TrustOnFirstUse)
	bob := newDevice(t, "bob", domain.TrustOnFirstUse)
	connect(t, alice, bob)
	before := bob.store.PreKeyCount()

	hello := send(t, alice, bob, "hello")
	bad := bytes.Clone(hello)
	bad[len(bad)/2] ^= 0x01
	_, err := bob.mgr.Decrypt(alice.id, bad)
	require.ErrorIs(t, err, domain.ErrDecryption)
	assert.Equal(t, before, bob.store.PreKeyCount())

	deliver(t, bob, alice, hello, "hello")
	assert.Equal(t, before-1, bob.store.PreKeyCount())

	// A second pre-key message of the same handshake still decrypts.
	deliver(t, bob, alice, send(t, alice, bob, "again"), "again")
}

func TestNoSessionHasNoSideEffects(t *testing.T) {
	alice := newDevice(t, "alice", domain.TrustOnFirstUse)
	bob := newDevice(t, "bob", domain.TrustOnFirstUse)
	require.NoError(t, alice.mgr.EstablishSession(bob.id, bob.bundle(t)))
	hello := send(t, alice, bob, "hello")
	preKeys := bob.store.PreKeyCount()

	_, err := bob.mgr.Decrypt(alice.id, hello)
	require.ErrorIs(t, err, domain.ErrNoSession)
	_, err = bob.mgr.Encrypt(alice.id, []byte("x"))
	require.ErrorIs(t, err, domain.ErrNoSession)
	_, err = bob.mgr.Fingerprint(alice.id)
	require.ErrorIs(t, err, domain.ErrNoSession)

	assert.False(t, bob.mgr.HasSession(alice.id))
	assert.Equal(t, preKeys, bob.store.PreKeyCount())
	_, pinned := bob.store.TrustedIdentity(alice.id)
	assert.False(t, pinned)
}

func TestTamperedCiphertextRejectedAndStateKept(t *testing.T) {
	alice := newDevice(t, "alice", domain.TrustOnFirstUse)
	bob := newDevice(t, "bob", domain.TrustOnFirstUse)
	connect(t, alice, bob)

	// Pre-key envelope.
	hello := send(t, alice, bob, "hello")
	for i := range hello {
		bad := bytes.Clone(hello)
		bad[i] ^= 0x01
		_, err := bob.mgr.Decrypt(alice.id, bad)
		require.ErrorIs(t, err, domain.ErrDecryption, "pre-key byte %d", i)
	}
	deliver(t, bob, alice, hello, "hello")

	// Ordinary envelope.
	world := send(t, bob, alice, "world")
	for i := range world {
		bad := bytes.Clone(world)
		bad[i] ^= 0x80
		_, err := alice.mgr.Decrypt(bob.id, bad)
		require.ErrorIs(t, err, domain.ErrDecryption, "message byte %d", i)
	}
	deliver(t, alice, bob, world, "world")

	_, err := alice.mgr.Decrypt(bob.id, nil)
	require.ErrorIs(t, err, domain.ErrDecryption)
}

func TestReplayRejected(t *testing.T) {
	alice := newDevice(t, "alice", domain.TrustOnFirstUse)
	bob := newDevice(t, "bob", domain.TrustOnFirstUse)
	connect(t, alice, bob)

	hello := send(t, alice, bob, "hello")
	deliver(t, bob, alice, hello, "hello")
	_, err := bob.mgr.Decrypt(alice.id, hello)
	require.ErrorIs(t, err, domain.ErrDecryption)
}

func TestOutOfOrderDelivery(t *testing.T) {
	alice := newDevice(t, "alice", domain.TrustOnFirstUse)
	bob := newDevice(t, "bob", domain.TrustOnFirstUse)
	connect(t, alice, bob)

	var batch [][]byte
	for i := 0; i < 4; i++ {
		batch = append(batch, send(t, alice, bob, fmt.Sprintf("m%d", i)))
	}
	for _, i := range []int{2, 0, 3, 1} {
		deliver(t, bob, alice, batch[i], fmt.Sprintf("m%d", i))
	}
}

func TestSimultaneousInitiation(t *testing.T) {
	alice := newDevice(t, "alice", domain.TrustOnFirstUse)
	bob := newDevice(t, "bob", domain.TrustOnFirstUse)
	connect(t, alice, bob)

	fromAlice := send(t, alice, bob, "hi bob")
	fromBob := send(t, bob, alice, "hi alice")
	assert.EqualValues(t, envPreKey, fromAlice[0])
	assert.EqualValues(t, envPreKey, fromBob[0])

	deliver(t, bob, alice, fromAlice, "hi bob")
	deliver(t, alice, bob, fromBob, "hi alice")

	for i := 0; i < 3; i++ {
		deliver(t, bob, alice, send(t, alice, bob, "a"), "a")
		deliver(t, alice, bob, send(t, bob, alice, "b"), "b")
	}
}

func TestBadSignatureRejected(t *testing.T) {
	alice := newDevice(t, "alice", domain.TrustOnFirstUse)
	bob := newDevice(t, "bob", domain.TrustOnFirstUse)

	b := bob.bundle(t)
	b.SignedPreKeySignature = bytes.Clone(b.SignedPreKeySignature)
	b.SignedPreKeySignature[0] ^= 0x01
	err := alice.mgr.EstablishSession(bob.id, b)
	require.ErrorIs(t, err, domain.ErrSessionEstablishment)
	assert.False(t, alice.mgr.HasSession(bob.id))
	_, pinned := alice.store.TrustedIdentity(bob.id)
	assert.False(t, pinned, "nothing is pinned for a rejected bundle")
}

func TestReestablishReplacesCipher(t *testing.T) {
	alice := newDevice(t, "alice", domain.TrustOnFirstUse)
	bob := newDevice(t, "bob", domain.TrustOnFirstUse)
	connect(t, alice, bob)

	first := send(t, alice, bob, "old")
	before, _ := alice.mgr.Session(bob.id)

	require.NoError(t, alice.mgr.EstablishSession(bob.id, bob.bundle(t)))
	after, _ := alice.mgr.Session(bob.id)
	assert.NotEqual(t, before.SessionID, after.SessionID)

	second := send(t, alice, bob, "new")
	deliver(t, bob, alice, second, "new")
	deliver(t, bob, alice, first, "old")
	deliver(t, alice, bob, send(t, bob, alice, "reply"), "reply")
}

func TestChangedIdentityUnderTrustOnFirstUse(t *testing.T) {
	alice := newDevice(t, "alice", domain.TrustOnFirstUse)
	bob := newDevice(t, "bob", domain.TrustOnFirstUse)
	connect(t, alice, bob)

	bob.store.Reset()
	err := alice.mgr.EstablishSession(bob.id, bob.bundle(t))
	require.ErrorIs(t, err, domain.ErrSessionEstablishment)
	require.ErrorIs(t, err, domain.ErrUntrustedIdentity)
	assert.True(t, alice.mgr.HasSession(bob.id), "existing session kept on failure")

	alice.mgr.EndSession(bob.id)
	alice.store.ForgetIdentity(bob.id)
	require.NoError(t, alice.mgr.EstablishSession(bob.id, bob.bundle(t)))
}

func TestChangedIdentityUnderTrustAlways(t *testing.T) {
	alice := newDevice(t, "alice", domain.TrustAlways)
	bob := newDevice(t, "bob", domain.TrustOnFirstUse)
	connect(t, alice, bob)

	bob.store.Reset()
	bob.mgr.Reset()
	connect(t, alice, bob)
	deliver(t, bob, alice, send(t, alice, bob, "hello again"), "hello again")
}

func TestParallelPeers(t *testing.T) {
	alice := newDevice(t, "alice", domain.TrustOnFirstUse)
	peers := make([]*device, 8)
	for i := range peers {
		peers[i] = newDevice(t, domain.PeerID(fmt.Sprintf("peer-%d", i)), domain.TrustOnFirstUse)
		connect(t, alice, peers[i])
	}

	var wg sync.WaitGroup
	for _, p := range peers {
		wg.Add(1)
		go func(p *device) {
			defer wg.Done()
			for i := 0; i < 10; i++ {
				msg := fmt.Sprintf("%s-%d", p.id, i)
				ct, err := alice.mgr.Encrypt(p.id, []byte(msg))
				if !assert.NoError(t, err) {
					return
				}
				pt, err := p.mgr.Decrypt(alice.id, ct)
				if !assert.NoError(t, err) {
					return
				}
				assert.Equal(t, msg, string(pt))

				ct, err = p.mgr.Encrypt(alice.id, pt)
				if !assert.NoError(t, err) {
					return
				}
				back, err := alice.mgr.Decrypt(p.id, ct)
				if !assert.NoError(t, err) {
					return
				}
				assert.Equal(t, msg, string(back))
			}
		}(p)
	}
	wg.Wait()
}

func TestResetDropsAllSessions(t *testing.T) {
	alice := newDevice(t, "alice", domain.TrustOnFirstUse)
	bob := newDevice(t, "bob", domain.TrustOnFirstUse)
	connect(t, alice, bob)

	alice.mgr.Reset()
	assert.False(t, alice.mgr.HasSession(bob.id))
	_, err := alice.mgr.Encrypt(bob.id, []byte("x"))
	require.ErrorIs(t, err, domain.ErrNoSession)
}

func TestConcurrentSamePeer(t *testing.T) {
	alice := newDevice(t, "alice", domain.TrustOnFirstUse)
	bob := newDevice(t, "bob", domain.TrustOnFirstUse)
	connect(t, alice, bob)

	const n = 50
	cts := make([][]byte, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ct, err := alice.mgr.Encrypt(bob.id, []byte(fmt.Sprintf("msg-%d", i)))
			assert.NoError(t, err)
			cts[i] = ct
		}(i)
	}
	wg.Wait()

	pts := make([]string, n)
	for i := n - 1; i >= 0; i-- {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			pt, err := bob.mgr.Decrypt(alice.id, cts[i])
			assert.NoError(t, err)
			pts[i] = string(pt)
		}(i)
	}
	wg.Wait()

	for i, pt := range pts {
		assert.Equal(t, fmt.Sprintf("msg-%d", i), pt)
	}
}

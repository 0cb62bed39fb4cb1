package session

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"sealedchat/internal/domain"
	"sealedchat/internal/services/identity"
)

func TestEstablishSkipsEndedSlot(t *testing.T) {
	log := zaptest.NewLogger(t)
	local := identity.New(log, domain.TrustOnFirstUse)
	remote := identity.New(log, domain.TrustOnFirstUse)
	b, err := remote.GeneratePreKeyBundle()
	require.NoError(t, err)
	m := New(local, local, log)

	stale := m.slot("bob", true)
	stale.mu.Lock()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		assert.NoError(t, m.EstablishSession("bob", b))
	}()
	// Let the handshake reach the held slot.
	time.Sleep(50 * time.Millisecond)
	go func() {
		defer wg.Done()
		m.EndSession("bob")
	}()
	require.Eventually(t, func() bool {
		m.mu.RLock()
		defer m.mu.RUnlock()
		return m.slots["bob"] != stale
	}, time.Second, time.Millisecond)

	stale.mu.Unlock()
	wg.Wait()

	assert.True(t, m.HasSession("bob"), "cipher installed on a registered slot")
	assert.Nil(t, stale.cipher)
}

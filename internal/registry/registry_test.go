package registry

import (
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	mu     sync.Mutex
	sent   [][]byte
	closed bool
}

func (f *fakeConn) Send(payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, payload)
	return nil
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func newTestRegistry() *Registry {
	return New(zerolog.Nop())
}

func TestRegisterDeregister(t *testing.T) {
	r := newTestRegistry()
	c1 := &fakeConn{}
	c2 := &fakeConn{}

	r.Register("alice", c1)
	r.Register("alice", c2)
	assert.Equal(t, 2, r.ConnectionCount())
	assert.Equal(t, 1, r.SubjectCount())

	r.Deregister("alice", c1)
	assert.Equal(t, 1, r.ConnectionCount())
	assert.Len(t, r.LiveConnectionsFor("alice"), 1)

	r.Deregister("alice", c2)
	assert.Equal(t, 0, r.ConnectionCount())
	assert.Equal(t, 0, r.SubjectCount())
	assert.Nil(t, r.LiveConnectionsFor("alice"))
}

func TestDeregisterUnknownConnIsNoop(t *testing.T) {
	r := newTestRegistry()
	c := &fakeConn{}

	r.Register("alice", c)
	r.Deregister("alice", &fakeConn{})
	assert.Equal(t, 1, r.ConnectionCount())

	r.Deregister("bob", c)
	assert.Equal(t, 1, r.ConnectionCount())
}

func TestSubscribeUnsubscribeMirrors(t *testing.T) {
	r := newTestRegistry()

	r.Subscribe("alice", "evt-1")
	r.Subscribe("bob", "evt-1")
	r.Subscribe("alice", "evt-2")

	recipients := r.RecipientsFor("evt-1")
	require.Len(t, recipients, 2)
	assert.Contains(t, recipients, "alice")
	assert.Contains(t, recipients, "bob")

	topics := r.TopicsFor("alice")
	require.Len(t, topics, 2)
	assert.Contains(t, topics, "evt-1")
	assert.Contains(t, topics, "evt-2")

	r.Unsubscribe("alice", "evt-1")
	assert.NotContains(t, r.RecipientsFor("evt-1"), "alice")
	assert.NotContains(t, r.TopicsFor("alice"), "evt-1")
	assert.Contains(t, r.TopicsFor("alice"), "evt-2")
}

func TestSubscribeIsIdempotent(t *testing.T) {
	r := newTestRegistry()

	r.Subscribe("alice", "evt-1")
	r.Subscribe("alice", "evt-1")
	assert.Len(t, r.RecipientsFor("evt-1"), 1)
}

func TestUnsubscribeUnknownIsNoop(t *testing.T) {
	r := newTestRegistry()
	r.Unsubscribe("alice", "evt-1")
	assert.Empty(t, r.RecipientsFor("evt-1"))
}

func TestSubscriptionsSurviveDisconnect(t *testing.T) {
	r := newTestRegistry()
	c := &fakeConn{}

	r.Register("alice", c)
	r.Subscribe("alice", "evt-1")
	r.Deregister("alice", c)

	assert.Contains(t, r.RecipientsFor("evt-1"), "alice")
}

func TestAllConnectedSubjects(t *testing.T) {
	r := newTestRegistry()
	r.Register("alice", &fakeConn{})
	r.Register("alice", &fakeConn{})
	r.Register("bob", &fakeConn{})

	subjects := r.AllConnectedSubjects()
	require.Len(t, subjects, 2)
	assert.Contains(t, subjects, "alice")
	assert.Contains(t, subjects, "bob")
}

func TestRecipientsForReturnsCopy(t *testing.T) {
	r := newTestRegistry()
	r.Subscribe("alice", "evt-1")

	recipients := r.RecipientsFor("evt-1")
	recipients["mallory"] = struct{}{}

	assert.Len(t, r.RecipientsFor("evt-1"), 1)
}

func TestCloseAll(t *testing.T) {
	r := newTestRegistry()
	c1 := &fakeConn{}
	c2 := &fakeConn{}
	r.Register("alice", c1)
	r.Register("bob", c2)

	r.CloseAll()
	assert.True(t, c1.closed)
	assert.True(t, c2.closed)
}

func TestConcurrentAccess(t *testing.T) {
	r := newTestRegistry()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c := &fakeConn{}
			r.Register("alice", c)
			r.Subscribe("alice", "evt-1")
			r.RecipientsFor("evt-1")
			r.LiveConnectionsFor("alice")
			r.Unsubscribe("alice", "evt-1")
			r.Deregister("alice", c)
		}()
	}
	wg.Wait()

	assert.Equal(t, 0, r.ConnectionCount())
}

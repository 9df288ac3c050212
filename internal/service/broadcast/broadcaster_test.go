package broadcast

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/formpilot/backend/internal/model/form"
	"github.com/zhouzirui/formpilot/backend/internal/service/session"
)

type recordingSub struct {
	id   string
	fail bool

	mu     sync.Mutex
	frames [][]byte
	closed bool
}

func (r *recordingSub) ID() string { return r.id }

func (r *recordingSub) Send(data []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail || r.closed {
		return errors.New("broken pipe")
	}
	r.frames = append(r.frames, data)
	return nil
}

func (r *recordingSub) Close() error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	return nil
}

func (r *recordingSub) received() [][]byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]byte(nil), r.frames...)
}

func TestBroadcastReachesOnlyOwnSession(t *testing.T) {
	reg := session.NewRegistry()
	a := reg.EnsureSession("token-a")
	reg.EnsureSession("token-b")

	c1, c2 := &recordingSub{id: "c1"}, &recordingSub{id: "c2"}
	c3 := &recordingSub{id: "c3"}
	require.NoError(t, reg.Attach("token-a", c1))
	require.NoError(t, reg.Attach("token-a", c2))
	require.NoError(t, reg.Attach("token-b", c3))

	delivered := New().Broadcast(a, form.Delta{"flowName": "Alpha"})
	require.Equal(t, 2, delivered)

	for _, sub := range []*recordingSub{c1, c2} {
		frames := sub.received()
		require.Len(t, frames, 1)
		require.JSONEq(t, `{"type":"update-form","payload":{"flowName":"Alpha"}}`, string(frames[0]))
	}
	require.Empty(t, c3.received())
}

func TestBroadcastNoChangeIsNoop(t *testing.T) {
	reg := session.NewRegistry()
	s := reg.EnsureSession("tok")
	sub := &recordingSub{id: "c1"}
	require.NoError(t, reg.Attach("tok", sub))

	b := New()
	require.Zero(t, b.Broadcast(s, form.NoChange))
	require.Zero(t, b.Broadcast(s, form.Delta{}))
	require.Zero(t, b.Broadcast(nil, form.Delta{"a": 1}))
	require.Empty(t, sub.received())
}

func TestBroadcastPrunesFailedSubscribers(t *testing.T) {
	reg := session.NewRegistry()
	s := reg.EnsureSession("tok")
	healthy := &recordingSub{id: "ok"}
	broken := &recordingSub{id: "broken", fail: true}
	require.NoError(t, reg.Attach("tok", healthy))
	require.NoError(t, reg.Attach("tok", broken))

	b := New()
	require.Equal(t, 1, b.Broadcast(s, form.Delta{"flowName": "Alpha"}))
	require.Equal(t, 1, s.SubscriberCount())
	require.True(t, broken.closed)

	require.Equal(t, 1, b.Broadcast(s, form.Delta{"flowName": "Beta"}))
	frames := healthy.received()
	require.Len(t, frames, 2)

	var env form.Envelope
	require.NoError(t, json.Unmarshal(frames[1], &env))
	require.Equal(t, form.UpdateFormType, env.Type)
	require.Equal(t, "Beta", env.Payload["flowName"])
}

func TestBroadcastToleratesConcurrentAttach(t *testing.T) {
	reg := session.NewRegistry()
	s := reg.EnsureSession("tok")
	b := New()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			sub := &recordingSub{id: "c", fail: i%3 == 0}
			_ = reg.Attach("tok", sub)
		}(i)
		go func() {
			defer wg.Done()
			b.Broadcast(s, form.Delta{"n": 1})
		}()
	}
	wg.Wait()

	b.Broadcast(s, form.Delta{"n": 2})
	for _, sub := range s.Subscribers() {
		require.False(t, sub.(*recordingSub).fail)
	}
}

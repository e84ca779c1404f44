package transport_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/glasskit/composerlink/internal/client"
	"github.com/glasskit/composerlink/internal/compositor"
	"github.com/glasskit/composerlink/internal/scene"
	"github.com/glasskit/composerlink/internal/transport"
)

type countingSink struct {
	mu      sync.Mutex
	updates []scene.StateUpdate
}

func (s *countingSink) OnStateUpdate(u scene.StateUpdate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updates = append(s.updates, u)
}

func (s *countingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.updates)
}

func (s *countingSink) last() scene.StateUpdate {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updates[len(s.updates)-1]
}

func startChannel(t *testing.T) (*compositor.Core, *transport.WSConn) {
	t.Helper()
	core := compositor.NewCore(zap.NewNop())
	srv := transport.NewServer(core, 0, zap.NewNop())
	ts := httptest.NewServer(http.HandlerFunc(srv.HandleWS))
	t.Cleanup(ts.Close)

	url := "ws" + strings.TrimPrefix(ts.URL, "http")
	conn, err := transport.DialWS(context.Background(), url, 0, zap.NewNop())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(conn.Close)
	return core, conn
}

func waitFor(t *testing.T, cond func() bool, what string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestChannelApply(t *testing.T) {
	core, conn := startChannel(t)

	b := scene.NewTransactionBatch()
	b.ID = 4
	s := b.LayerState(1)
	s.What = scene.ChangeCrop
	s.Crop = [4]int32{0, 0, 64, 64}

	if err := conn.Apply(context.Background(), b); err != nil {
		t.Fatalf("apply: %v", err)
	}

	got := core.AppliedOrder(b.ApplyToken.Bytes())
	if len(got) != 1 || got[0] != 4 {
		t.Fatalf("applied order: %v", got)
	}
}

func TestChannelApplyOneWay(t *testing.T) {
	core, conn := startChannel(t)

	b := scene.NewTransactionBatch()
	b.ID = 9
	b.Flags = scene.FlagOneWay
	b.LayerState(1).What = scene.ChangeZ

	if err := conn.ApplyOneWay(b); err != nil {
		t.Fatalf("oneway: %v", err)
	}

	token := b.ApplyToken.Bytes()
	waitFor(t, func() bool {
		order := core.AppliedOrder(token)
		return len(order) == 1 && order[0] == 9
	}, "oneway apply")
}

// Blocking applies on one connection land in submission order even when
// one-way applies are interleaved.
func TestChannelApplyOrdering(t *testing.T) {
	core, conn := startChannel(t)

	tok := scene.NewApplyToken()
	for i := uint64(1); i <= 6; i++ {
		b := scene.NewTransactionBatch()
		b.ID = i
		b.ApplyToken = tok
		b.LayerState(i).What = scene.ChangeZ
		if i%2 == 0 {
			if err := conn.ApplyOneWay(b); err != nil {
				t.Fatalf("oneway %d: %v", i, err)
			}
		} else if err := conn.Apply(context.Background(), b); err != nil {
			t.Fatalf("apply %d: %v", i, err)
		}
	}

	token := tok.Bytes()
	waitFor(t, func() bool { return len(core.AppliedOrder(token)) == 6 }, "all applies")

	got := core.AppliedOrder(token)
	for i, id := range got {
		if id != uint64(i+1) {
			t.Fatalf("apply order broken: %v", got)
		}
	}
}

func TestChannelListenerUpdateFlow(t *testing.T) {
	core, conn := startChannel(t)

	sink := &countingSink{}
	info, err := conn.AddUpdateListener(sink)
	if err != nil {
		t.Fatalf("add listener: %v", err)
	}
	if info.ListenerID != 1 {
		t.Fatalf("listener id: %d", info.ListenerID)
	}

	b := scene.NewTransactionBatch()
	s := b.LayerState(5)
	s.What = scene.ChangeCrop
	s.Crop = [4]int32{1, 1, 2, 2}
	if err := conn.Apply(context.Background(), b); err != nil {
		t.Fatal(err)
	}

	published := core.PublishUpdate()
	waitFor(t, func() bool { return sink.count() == 1 }, "update delivery")

	got := sink.last()
	if got.SequenceID != published.SequenceID || len(got.Windows) != 1 || got.Windows[0].LayerID != 5 {
		t.Fatalf("delivered update wrong: %+v", got)
	}

	// Acks flow back and keep the listener inside its budget.
	info.Publisher.AckUpdateReceived(got.SequenceID, info.ListenerID)
	core.PublishUpdate()
	waitFor(t, func() bool { return sink.count() == 2 }, "second delivery")
}

func TestChannelRemoveListener(t *testing.T) {
	core, conn := startChannel(t)

	sink := &countingSink{}
	if _, err := conn.AddUpdateListener(sink); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return core.ListenerCount() == 1 }, "registration")

	if err := conn.RemoveUpdateListener(sink); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if core.ListenerCount() != 0 {
		t.Fatalf("listener still registered: %d", core.ListenerCount())
	}

	core.PublishUpdate()
	time.Sleep(50 * time.Millisecond)
	if sink.count() != 0 {
		t.Fatalf("removed listener received %d updates", sink.count())
	}
}

// A client that vanishes without unregistering is cleaned up server-side.
func TestChannelDisconnectCleansUp(t *testing.T) {
	core, conn := startChannel(t)

	sink := &countingSink{}
	if _, err := conn.AddUpdateListener(sink); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return core.ListenerCount() == 1 }, "registration")

	conn.Close()
	waitFor(t, func() bool { return core.ListenerCount() == 0 }, "cleanup unregister")
}

func TestChannelApplyAfterClose(t *testing.T) {
	_, conn := startChannel(t)
	conn.Close()

	err := conn.Apply(context.Background(), scene.NewTransactionBatch())
	if err == nil {
		t.Fatal("apply on closed channel succeeded")
	}
}

// gatedSink stalls inside its first delivery until released, keeping the
// connection's delivery goroutine busy while more updates queue behind it.
type gatedSink struct {
	countingSink
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func newGatedSink() *gatedSink {
	return &gatedSink{entered: make(chan struct{}), release: make(chan struct{})}
}

func (s *gatedSink) OnStateUpdate(u scene.StateUpdate) {
	s.once.Do(func() {
		close(s.entered)
		<-s.release
	})
	s.countingSink.OnStateUpdate(u)
}

func (s *gatedSink) waitEntered(t *testing.T) {
	t.Helper()
	select {
	case <-s.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("first update never delivered")
	}
}

// Reconnect must complete while an update delivery is stalled and another
// update sits queued on the connection: the registration reply may not be
// serialized behind listener callbacks.
func TestChannelReconnectWithInFlightUpdate(t *testing.T) {
	core, conn := startChannel(t)

	r := client.NewRegistry(zap.NewNop())
	l := newGatedSink()
	if _, err := r.AddListener(l, conn); err != nil {
		t.Fatal(err)
	}

	core.PublishUpdate()
	l.waitEntered(t)
	core.PublishUpdate()

	// Service restart: registrations are gone, the client re-registers.
	core.DropListeners()

	done := make(chan error, 1)
	go func() { done <- r.Reconnect(conn) }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("reconnect: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("reconnect stalled behind in-flight update delivery")
	}

	close(l.release)
	waitFor(t, func() bool { return l.count() == 2 }, "queued update delivery")
}

// Removing the last listener must complete under the same conditions, and the
// update still queued at teardown time is dropped, not delivered late.
func TestChannelTeardownWithInFlightUpdate(t *testing.T) {
	core, conn := startChannel(t)

	r := client.NewRegistry(zap.NewNop())
	l := newGatedSink()
	if _, err := r.AddListener(l, conn); err != nil {
		t.Fatal(err)
	}

	core.PublishUpdate()
	l.waitEntered(t)
	core.PublishUpdate()

	done := make(chan error, 1)
	go func() { done <- r.RemoveListener(l, conn) }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("remove: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("teardown stalled behind in-flight update delivery")
	}

	close(l.release)
	waitFor(t, func() bool { return core.ListenerCount() == 0 }, "unregister")

	time.Sleep(50 * time.Millisecond)
	if l.count() != 1 {
		t.Fatalf("listener saw %d updates after teardown", l.count())
	}
}

// Full client stack over the wire: registry on one side, compositor core on
// the other, updates acked end to end.
func TestChannelWithRegistry(t *testing.T) {
	core, conn := startChannel(t)

	r := client.NewRegistry(zap.NewNop())
	l := &countingSink{}
	if _, err := r.AddListener(l, conn); err != nil {
		t.Fatalf("registry add: %v", err)
	}

	core.PublishUpdate()
	waitFor(t, func() bool { return l.count() == 1 }, "registry delivery")

	// The registry acked update 1, so the next publish goes straight through.
	core.PublishUpdate()
	waitFor(t, func() bool { return l.count() == 2 }, "second registry delivery")

	if err := r.RemoveListener(l, conn); err != nil {
		t.Fatalf("registry remove: %v", err)
	}
	waitFor(t, func() bool { return core.ListenerCount() == 0 }, "registry unregister")
}

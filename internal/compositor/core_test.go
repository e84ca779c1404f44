package compositor

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/glasskit/composerlink/internal/scene"
	"github.com/glasskit/composerlink/internal/wire"
)

type recordingSink struct {
	mu      sync.Mutex
	updates []scene.StateUpdate
}

func (s *recordingSink) OnStateUpdate(u scene.StateUpdate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updates = append(s.updates, u)
}

func (s *recordingSink) seqs() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]int64, 0, len(s.updates))
	for _, u := range s.updates {
		out = append(out, u.SequenceID)
	}
	return out
}

func submit(t *testing.T, c *Core, token wire.Handle, id uint64) {
	t.Helper()
	b := scene.NewTransactionBatch()
	b.ID = id
	b.ApplyToken = token
	s := b.LayerState(id)
	s.What = scene.ChangeCrop
	s.Crop = [4]int32{0, 0, int32(id), int32(id)}
	if err := c.ApplyBatch(context.Background(), b); err != nil {
		t.Fatalf("apply %d: %v", id, err)
	}
}

// Batches on one token apply in submission order even when interleaved with
// an unrelated token.
func TestApplyOrderPerToken(t *testing.T) {
	c := NewCore(zap.NewNop())
	tokA := scene.NewApplyToken()
	tokB := scene.NewApplyToken()

	submit(t, c, tokA, 1)
	submit(t, c, tokB, 100)
	submit(t, c, tokA, 2)
	submit(t, c, tokB, 101)
	submit(t, c, tokA, 3)

	gotA := c.AppliedOrder(tokA.Bytes())
	if len(gotA) != 3 || gotA[0] != 1 || gotA[1] != 2 || gotA[2] != 3 {
		t.Fatalf("token A order: %v", gotA)
	}
	gotB := c.AppliedOrder(tokB.Bytes())
	if len(gotB) != 2 || gotB[0] != 100 || gotB[1] != 101 {
		t.Fatalf("token B order: %v", gotB)
	}
}

// A desired present time in the past or future never reorders batches on the
// same token.
func TestPresentTimeDoesNotReorder(t *testing.T) {
	c := NewCore(zap.NewNop())
	tok := scene.NewApplyToken()

	early := scene.NewTransactionBatch()
	early.ID = 1
	early.ApplyToken = tok
	early.IsAutoTimestamp = false
	early.DesiredPresentTime = time.Now().Add(500 * time.Millisecond).UnixNano()
	if err := c.ApplyBatch(context.Background(), early); err != nil {
		t.Fatal(err)
	}

	late := scene.NewTransactionBatch()
	late.ID = 2
	late.ApplyToken = tok
	late.IsAutoTimestamp = false
	late.DesiredPresentTime = time.Now().Add(-time.Second).UnixNano()
	if err := c.ApplyBatch(context.Background(), late); err != nil {
		t.Fatal(err)
	}

	got := c.AppliedOrder(tok.Bytes())
	if len(got) != 2 || got[0] != 1 || got[1] != 2 {
		t.Fatalf("reordered on present time: %v", got)
	}
}

func TestPresentTimeClampedWhenTooFarAhead(t *testing.T) {
	fixed := time.Unix(1000, 0)
	c := NewCore(zap.NewNop())
	c.now = func() time.Time { return fixed }

	b := scene.NewTransactionBatch()
	b.IsAutoTimestamp = false
	b.DesiredPresentTime = fixed.Add(5 * time.Second).UnixNano()
	if err := c.ApplyBatch(context.Background(), b); err != nil {
		t.Fatal(err)
	}
	if b.DesiredPresentTime != fixed.UnixNano() {
		t.Fatalf("present time not clamped: %d", b.DesiredPresentTime)
	}
}

func TestPublishSequenceMonotonic(t *testing.T) {
	c := NewCore(zap.NewNop())
	sink := &recordingSink{}
	if _, err := c.AddUpdateListener(sink); err != nil {
		t.Fatal(err)
	}

	var last int64
	for i := 0; i < 5; i++ {
		u := c.PublishUpdate()
		if u.SequenceID <= last {
			t.Fatalf("sequence went backwards: %d after %d", u.SequenceID, last)
		}
		last = u.SequenceID
		c.AckUpdateReceived(u.SequenceID, 1)
	}

	seqs := sink.seqs()
	if len(seqs) != 5 {
		t.Fatalf("expected 5 deliveries, got %d", len(seqs))
	}
	for i := 1; i < len(seqs); i++ {
		if seqs[i] <= seqs[i-1] {
			t.Fatalf("delivery order broken: %v", seqs)
		}
	}
}

func TestPublishReflectsAppliedState(t *testing.T) {
	c := NewCore(zap.NewNop())
	tok := scene.NewApplyToken()

	b := scene.NewTransactionBatch()
	b.ApplyToken = tok
	s := b.LayerState(7)
	s.What = scene.ChangeCrop | scene.ChangeFlags
	s.Crop = [4]int32{1, 2, 3, 4}
	s.Flags = scene.LayerFlagHidden
	if err := c.ApplyBatch(context.Background(), b); err != nil {
		t.Fatal(err)
	}

	u := c.PublishUpdate()
	if len(u.Windows) != 1 {
		t.Fatalf("expected 1 window, got %d", len(u.Windows))
	}
	w := u.Windows[0]
	if w.LayerID != 7 || w.Frame != [4]int32{1, 2, 3, 4} || w.Visible {
		t.Fatalf("window state wrong: %+v", w)
	}
}

// A listener that stops acking is skipped once over budget and caught up with
// the newest update when it acks again.
func TestSlowListenerCoalescing(t *testing.T) {
	c := NewCore(zap.NewNop())
	sink := &recordingSink{}
	info, err := c.AddUpdateListener(sink)
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < maxUnackedUpdates+5; i++ {
		c.PublishUpdate()
	}

	delivered := len(sink.seqs())
	if delivered != maxUnackedUpdates {
		t.Fatalf("expected %d deliveries before coalescing, got %d", maxUnackedUpdates, delivered)
	}

	// Acking the newest delivered update frees the budget; the listener
	// immediately receives the latest published state.
	seqs := sink.seqs()
	c.AckUpdateReceived(seqs[len(seqs)-1], info.ListenerID)

	seqs = sink.seqs()
	if len(seqs) != delivered+1 {
		t.Fatalf("expected catch-up delivery, got %v", seqs)
	}
	if seqs[len(seqs)-1] != int64(maxUnackedUpdates+5) {
		t.Fatalf("catch-up was not the newest update: %v", seqs)
	}
}

func TestAckForUnknownListenerIsSilent(t *testing.T) {
	c := NewCore(zap.NewNop())
	// Expected teardown race; must not panic or error.
	c.AckUpdateReceived(12, 999)
}

func TestRemoveUpdateListener(t *testing.T) {
	c := NewCore(zap.NewNop())
	s1 := &recordingSink{}
	s2 := &recordingSink{}
	if _, err := c.AddUpdateListener(s1); err != nil {
		t.Fatal(err)
	}
	if _, err := c.AddUpdateListener(s2); err != nil {
		t.Fatal(err)
	}
	if err := c.RemoveUpdateListener(s1); err != nil {
		t.Fatal(err)
	}
	if c.ListenerCount() != 1 {
		t.Fatalf("expected 1 listener, got %d", c.ListenerCount())
	}

	c.PublishUpdate()
	if len(s1.seqs()) != 0 || len(s2.seqs()) != 1 {
		t.Fatalf("delivery after removal wrong: s1=%v s2=%v", s1.seqs(), s2.seqs())
	}

	if err := c.RemoveUpdateListener(s1); err != ErrNotRegistered {
		t.Fatalf("expected ErrNotRegistered, got %v", err)
	}
}

func TestDropListeners(t *testing.T) {
	c := NewCore(zap.NewNop())
	sink := &recordingSink{}
	if _, err := c.AddUpdateListener(sink); err != nil {
		t.Fatal(err)
	}

	c.DropListeners()
	if c.ListenerCount() != 0 {
		t.Fatalf("expected 0 listeners, got %d", c.ListenerCount())
	}

	c.PublishUpdate()
	if len(sink.seqs()) != 0 {
		t.Fatal("dropped listener still received updates")
	}

	// Re-registration after the simulated restart gets a fresh id.
	info, err := c.AddUpdateListener(sink)
	if err != nil {
		t.Fatal(err)
	}
	if info.ListenerID != 2 {
		t.Fatalf("expected id 2 after restart, got %d", info.ListenerID)
	}
}

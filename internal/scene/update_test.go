package scene

import (
	"encoding/binary"
	"errors"
	"reflect"
	"testing"

	"github.com/glasskit/composerlink/internal/wire"
)

func sampleUpdate() *StateUpdate {
	return &StateUpdate{
		SequenceID: 42,
		Timestamp:  987654321,
		Windows: []WindowInfo{
			{Token: wire.HandleFromBytes([16]byte{1}), LayerID: 10, Frame: [4]int32{0, 0, 800, 600}, Visible: true},
			{Token: wire.HandleFromBytes([16]byte{2}), LayerID: 11, Frame: [4]int32{10, 10, 20, 20}},
		},
	}
}

func TestUpdateRoundTrip(t *testing.T) {
	u := sampleUpdate()
	decoded, err := DecodeUpdate(EncodeUpdate(u))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !reflect.DeepEqual(u, decoded) {
		t.Fatalf("round trip mismatch:\n got %+v\nwant %+v", decoded, u)
	}
}

func TestUpdateTruncationSweep(t *testing.T) {
	full := EncodeUpdate(sampleUpdate())
	for cut := 0; cut < len(full); cut++ {
		if _, err := DecodeUpdate(full[:cut]); err == nil {
			t.Fatalf("truncation at %d of %d accepted", cut, len(full))
		}
	}
}

func TestUpdateCorruptedWindowCount(t *testing.T) {
	buf := EncodeUpdate(sampleUpdate())
	// Window count sits after the envelope length and two i64 fields.
	binary.BigEndian.PutUint32(buf[4+16:4+20], 10000)
	_, err := DecodeUpdate(buf)
	if !errors.Is(err, wire.ErrCountTooLarge) {
		t.Fatalf("expected ErrCountTooLarge, got %v", err)
	}
}

func TestUpdateCloneIsDeep(t *testing.T) {
	u := sampleUpdate()
	c := u.Clone()
	c.Windows[0].LayerID = 999
	if u.Windows[0].LayerID == 999 {
		t.Fatal("clone shares window storage")
	}
}

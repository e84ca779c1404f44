package scene

import "github.com/glasskit/composerlink/internal/wire"

const minWindowInfoSize = 20 + 8 + 16 + 1

// WindowInfo is one window-geometry record inside a state update.
type WindowInfo struct {
	Token   wire.Handle
	LayerID uint64
	Frame   [4]int32 // left, top, right, bottom
	Visible bool
}

// StateUpdate is a server-pushed snapshot of window state. SequenceID is
// assigned by the compositor and is non-decreasing per registry instance.
type StateUpdate struct {
	SequenceID int64
	Timestamp  int64
	Windows    []WindowInfo
}

// Clone returns a deep copy of u. Cached updates are copied, not shared, when
// handed to a newly joined listener.
func (u StateUpdate) Clone() StateUpdate {
	out := u
	if len(u.Windows) > 0 {
		out.Windows = make([]WindowInfo, len(u.Windows))
		copy(out.Windows, u.Windows)
	}
	return out
}

// EncodeUpdate serializes u into the flattened parcel form.
func EncodeUpdate(u *StateUpdate) []byte {
	p := &wire.Parcel{}
	p.WriteInt64(u.SequenceID)
	p.WriteInt64(u.Timestamp)
	p.WriteUint32(uint32(len(u.Windows)))
	for i := range u.Windows {
		w := &u.Windows[i]
		p.WriteHandle(w.Token)
		p.WriteUint64(w.LayerID)
		for _, v := range w.Frame {
			p.WriteInt32(v)
		}
		p.WriteBool(w.Visible)
	}
	return p.MarshalBinary()
}

// DecodeUpdate rebuilds a state update from its flattened parcel form under
// the same bounds rules as DecodeBatch.
func DecodeUpdate(buf []byte) (*StateUpdate, error) {
	p, err := wire.UnmarshalParcel(buf)
	if err != nil {
		return nil, err
	}
	r := wire.NewReader(p)
	u := &StateUpdate{}

	if u.SequenceID, err = r.ReadInt64(); err != nil {
		return nil, err
	}
	if u.Timestamp, err = r.ReadInt64(); err != nil {
		return nil, err
	}

	count, err := r.ReadCount(minWindowInfoSize)
	if err != nil {
		return nil, err
	}
	u.Windows = make([]WindowInfo, 0, count)
	for i := 0; i < count; i++ {
		var w WindowInfo
		if w.Token, err = r.ReadHandle(); err != nil {
			return nil, err
		}
		if w.LayerID, err = r.ReadUint64(); err != nil {
			return nil, err
		}
		for j := range w.Frame {
			if w.Frame[j], err = r.ReadInt32(); err != nil {
				return nil, err
			}
		}
		if w.Visible, err = r.ReadBool(); err != nil {
			return nil, err
		}
		u.Windows = append(u.Windows, w)
	}
	return u, nil
}

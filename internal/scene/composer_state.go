package scene

import "github.com/glasskit/composerlink/internal/wire"

// ComposerState change-mask bits.
const (
	ChangeZ uint64 = 1 << iota
	ChangeAlpha
	ChangeFlags
	ChangeLayerStack
	ChangeCrop
	ChangeBuffer
)

// minComposerStateSize is the smallest encoded form of one ComposerState,
// used to bound declared counts.
const minComposerStateSize = 8 + 8 + 4 + 4 + 4 + 4 + 16 + 20

// ComposerState is one per-surface property fragment. What is a change mask;
// only fields whose bit is set are meaningful to the receiver.
type ComposerState struct {
	LayerID    uint64
	What       uint64
	Z          int32
	Alpha      float32
	Flags      uint32
	LayerStack uint32
	Crop       [4]int32
	Buffer     wire.Handle
}

func (s *ComposerState) writeTo(p *wire.Parcel) {
	p.WriteUint64(s.LayerID)
	p.WriteUint64(s.What)
	p.WriteInt32(s.Z)
	p.WriteFloat32(s.Alpha)
	p.WriteUint32(s.Flags)
	p.WriteUint32(s.LayerStack)
	for _, v := range s.Crop {
		p.WriteInt32(v)
	}
	p.WriteHandle(s.Buffer)
}

func (s *ComposerState) readFrom(r *wire.Reader) error {
	var err error
	if s.LayerID, err = r.ReadUint64(); err != nil {
		return err
	}
	if s.What, err = r.ReadUint64(); err != nil {
		return err
	}
	if s.Z, err = r.ReadInt32(); err != nil {
		return err
	}
	if s.Alpha, err = r.ReadFloat32(); err != nil {
		return err
	}
	if s.Flags, err = r.ReadUint32(); err != nil {
		return err
	}
	if s.LayerStack, err = r.ReadUint32(); err != nil {
		return err
	}
	for i := range s.Crop {
		if s.Crop[i], err = r.ReadInt32(); err != nil {
			return err
		}
	}
	if s.Buffer, err = r.ReadHandle(); err != nil {
		return err
	}
	return nil
}

// merge folds the masked fields of other into s.
func (s *ComposerState) merge(other *ComposerState) {
	if other.What&ChangeZ != 0 {
		s.Z = other.Z
	}
	if other.What&ChangeAlpha != 0 {
		s.Alpha = other.Alpha
	}
	if other.What&ChangeFlags != 0 {
		s.Flags = other.Flags
	}
	if other.What&ChangeLayerStack != 0 {
		s.LayerStack = other.LayerStack
	}
	if other.What&ChangeCrop != 0 {
		s.Crop = other.Crop
	}
	if other.What&ChangeBuffer != 0 {
		s.Buffer = other.Buffer
	}
	s.What |= other.What
}

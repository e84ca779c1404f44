package scene

import "github.com/glasskit/composerlink/internal/wire"

// DisplayState change-mask bits.
const (
	DisplayChangeLayerStack uint32 = 1 << iota
	DisplayChangeOrientation
	DisplayChangeSize
)

const minDisplayStateSize = 20 + 4 + 4 + 4 + 4 + 4

// DisplayState is one per-display property fragment, addressed by the
// display's capability token.
type DisplayState struct {
	Token       wire.Handle
	What        uint32
	LayerStack  uint32
	Orientation uint32
	Width       uint32
	Height      uint32
}

func (d *DisplayState) writeTo(p *wire.Parcel) {
	p.WriteHandle(d.Token)
	p.WriteUint32(d.What)
	p.WriteUint32(d.LayerStack)
	p.WriteUint32(d.Orientation)
	p.WriteUint32(d.Width)
	p.WriteUint32(d.Height)
}

func (d *DisplayState) readFrom(r *wire.Reader) error {
	var err error
	if d.Token, err = r.ReadHandle(); err != nil {
		return err
	}
	if d.What, err = r.ReadUint32(); err != nil {
		return err
	}
	if d.LayerStack, err = r.ReadUint32(); err != nil {
		return err
	}
	if d.Orientation, err = r.ReadUint32(); err != nil {
		return err
	}
	if d.Width, err = r.ReadUint32(); err != nil {
		return err
	}
	if d.Height, err = r.ReadUint32(); err != nil {
		return err
	}
	return nil
}

func (d *DisplayState) merge(other *DisplayState) {
	if other.What&DisplayChangeLayerStack != 0 {
		d.LayerStack = other.LayerStack
	}
	if other.What&DisplayChangeOrientation != 0 {
		d.Orientation = other.Orientation
	}
	if other.What&DisplayChangeSize != 0 {
		d.Width = other.Width
		d.Height = other.Height
	}
	d.What |= other.What
}

// Package wire implements the bounded parcel codec used on the compositor
// IPC boundary. A parcel is a flat byte buffer plus an object table recording
// where capability slots (handles, file descriptors) live. Plain data and
// objects are kept strictly apart: reading across the boundary in either
// direction fails with ErrBadObjectAccess instead of returning bytes.
//
// Every decode step validates declared sizes against the bytes actually
// remaining before allocating or reading, so arbitrarily truncated or
// corrupted input fails cleanly rather than reading out of bounds.
package wire

import (
	"encoding/binary"
	"math"
)

const (
	slotSize = 20 // u32 kind + 16-byte body

	slotKindHandle uint32 = 1
	slotKindFD     uint32 = 2
)

// Parcel accumulates encoded data. The zero value is an empty parcel ready
// for writing.
type Parcel struct {
	data    []byte
	objects []int // ascending offsets of object slots within data
}

// Len returns the number of plain data bytes written so far.
func (p *Parcel) Len() int { return len(p.data) }

// ObjectCount returns the number of object slots written so far.
func (p *Parcel) ObjectCount() int { return len(p.objects) }

func (p *Parcel) WriteUint32(v uint32) {
	p.data = binary.BigEndian.AppendUint32(p.data, v)
}

func (p *Parcel) WriteUint64(v uint64) {
	p.data = binary.BigEndian.AppendUint64(p.data, v)
}

func (p *Parcel) WriteInt32(v int32) {
	p.WriteUint32(uint32(v))
}

func (p *Parcel) WriteInt64(v int64) {
	p.WriteUint64(uint64(v))
}

func (p *Parcel) WriteFloat32(v float32) {
	p.WriteUint32(math.Float32bits(v))
}

func (p *Parcel) WriteBool(v bool) {
	if v {
		p.data = append(p.data, 1)
	} else {
		p.data = append(p.data, 0)
	}
}

func (p *Parcel) WriteString(s string) {
	p.WriteUint32(uint32(len(s)))
	p.data = append(p.data, s...)
}

func (p *Parcel) WriteBytes(b []byte) {
	p.WriteUint32(uint32(len(b)))
	p.data = append(p.data, b...)
}

// WriteHandle appends a capability slot and records it in the object table.
func (p *Parcel) WriteHandle(h Handle) {
	p.writeSlot(slotKindHandle, h.raw)
}

// WriteFileDescriptor appends a descriptor slot and records it in the object
// table.
func (p *Parcel) WriteFileDescriptor(fd FileDescriptor) {
	var body [16]byte
	binary.BigEndian.PutUint32(body[:4], uint32(fd))
	p.writeSlot(slotKindFD, body)
}

func (p *Parcel) writeSlot(kind uint32, body [16]byte) {
	p.objects = append(p.objects, len(p.data))
	p.data = binary.BigEndian.AppendUint32(p.data, kind)
	p.data = append(p.data, body[:]...)
}

// MarshalBinary flattens the parcel into a self-delimiting byte form:
// data length, data bytes, object count, object offsets.
func (p *Parcel) MarshalBinary() []byte {
	out := make([]byte, 0, 8+len(p.data)+4*len(p.objects))
	out = binary.BigEndian.AppendUint32(out, uint32(len(p.data)))
	out = append(out, p.data...)
	out = binary.BigEndian.AppendUint32(out, uint32(len(p.objects)))
	for _, off := range p.objects {
		out = binary.BigEndian.AppendUint32(out, uint32(off))
	}
	return out
}

// UnmarshalParcel validates and rebuilds a parcel from its flattened form.
// The object table is checked structurally here (in-bounds, ascending,
// non-overlapping, known slot kinds) so readers can trust it.
func UnmarshalParcel(buf []byte) (*Parcel, error) {
	if len(buf) < 4 {
		return nil, ErrShortBuffer
	}
	dataLen := int(binary.BigEndian.Uint32(buf[:4]))
	rest := buf[4:]
	if dataLen > len(rest) {
		return nil, ErrShortBuffer
	}
	data := rest[:dataLen]
	rest = rest[dataLen:]

	if len(rest) < 4 {
		return nil, ErrShortBuffer
	}
	objCount := int(binary.BigEndian.Uint32(rest[:4]))
	rest = rest[4:]
	if objCount > len(rest)/4 {
		return nil, ErrCountTooLarge
	}

	objects := make([]int, 0, objCount)
	prevEnd := 0
	for i := 0; i < objCount; i++ {
		off := int(binary.BigEndian.Uint32(rest[i*4 : i*4+4]))
		if off < prevEnd || off+slotSize > dataLen {
			return nil, ErrMalformed
		}
		kind := binary.BigEndian.Uint32(data[off : off+4])
		if kind != slotKindHandle && kind != slotKindFD {
			return nil, ErrMalformed
		}
		objects = append(objects, off)
		prevEnd = off + slotSize
	}

	cp := make([]byte, dataLen)
	copy(cp, data)
	return &Parcel{data: cp, objects: objects}, nil
}

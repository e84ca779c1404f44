package wire

import (
	"encoding/binary"
	"math"
)

// Reader is a bounds-checked cursor over a parcel. Reads never touch bytes
// past the end of the data, and plain-data reads never touch bytes belonging
// to an object slot.
type Reader struct {
	data    []byte
	objects []int
	pos     int
	nextObj int
}

// NewReader returns a cursor positioned at the start of p.
func NewReader(p *Parcel) *Reader {
	return &Reader{data: p.data, objects: p.objects}
}

// Remaining returns the number of unread data bytes.
func (r *Reader) Remaining() int {
	return len(r.data) - r.pos
}

// readPlain consumes n plain bytes. It fails before touching anything if the
// span would run past the buffer or into an object slot.
func (r *Reader) readPlain(n int) ([]byte, error) {
	if n < 0 || n > r.Remaining() {
		return nil, ErrShortBuffer
	}
	if r.nextObj < len(r.objects) && r.pos+n > r.objects[r.nextObj] {
		return nil, ErrBadObjectAccess
	}
	b := r.data[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

func (r *Reader) ReadUint32() (uint32, error) {
	b, err := r.readPlain(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

func (r *Reader) ReadUint64() (uint64, error) {
	b, err := r.readPlain(8)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b), nil
}

func (r *Reader) ReadInt32() (int32, error) {
	v, err := r.ReadUint32()
	return int32(v), err
}

func (r *Reader) ReadInt64() (int64, error) {
	v, err := r.ReadUint64()
	return int64(v), err
}

func (r *Reader) ReadFloat32() (float32, error) {
	v, err := r.ReadUint32()
	return math.Float32frombits(v), err
}

func (r *Reader) ReadBool() (bool, error) {
	b, err := r.readPlain(1)
	if err != nil {
		return false, err
	}
	switch b[0] {
	case 0:
		return false, nil
	case 1:
		return true, nil
	default:
		return false, ErrInvalidBool
	}
}

func (r *Reader) ReadString() (string, error) {
	n, err := r.ReadUint32()
	if err != nil {
		return "", err
	}
	b, err := r.readPlain(int(n))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (r *Reader) ReadBytes() ([]byte, error) {
	n, err := r.ReadUint32()
	if err != nil {
		return nil, err
	}
	b, err := r.readPlain(int(n))
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out, nil
}

// ReadCount reads an element count and rejects values whose minimum encoded
// size cannot fit in the remaining bytes. The returned value is safe to use
// as a capacity hint for a pre-sized container.
func (r *Reader) ReadCount(minRecordSize int) (int, error) {
	c, err := r.ReadUint32()
	if err != nil {
		return 0, err
	}
	if minRecordSize > 0 && uint64(c)*uint64(minRecordSize) > uint64(r.Remaining()) {
		return 0, ErrCountTooLarge
	}
	return int(c), nil
}

// ReadHandle consumes the object slot at the cursor. Reading a handle where
// the object table records no slot, or where the slot holds a descriptor,
// fails with ErrBadObjectAccess.
func (r *Reader) ReadHandle() (Handle, error) {
	body, err := r.readSlot(slotKindHandle)
	if err != nil {
		return NullHandle, err
	}
	var h Handle
	copy(h.raw[:], body)
	return h, nil
}

// ReadFileDescriptor consumes the descriptor slot at the cursor.
func (r *Reader) ReadFileDescriptor() (FileDescriptor, error) {
	body, err := r.readSlot(slotKindFD)
	if err != nil {
		return 0, err
	}
	return FileDescriptor(binary.BigEndian.Uint32(body[:4])), nil
}

func (r *Reader) readSlot(wantKind uint32) ([]byte, error) {
	if slotSize > r.Remaining() {
		return nil, ErrShortBuffer
	}
	if r.nextObj >= len(r.objects) || r.objects[r.nextObj] != r.pos {
		return nil, ErrBadObjectAccess
	}
	kind := binary.BigEndian.Uint32(r.data[r.pos : r.pos+4])
	if kind != wantKind {
		return nil, ErrBadObjectAccess
	}
	body := r.data[r.pos+4 : r.pos+slotSize]
	r.pos += slotSize
	r.nextObj++
	return body, nil
}

package wire

import "encoding/hex"

// Handle is an opaque capability reference. It is carried in a parcel's object
// table, never in the plain data stream, so a receiver cannot read one as raw
// integers or forge one from raw integers.
type Handle struct {
	raw [16]byte
}

// NullHandle is the zero handle. It is valid to write and read but refers to
// no capability.
var NullHandle = Handle{}

// HandleFromBytes builds a handle from a 16-byte identity.
func HandleFromBytes(b [16]byte) Handle {
	return Handle{raw: b}
}

// Bytes returns the handle's 16-byte identity.
func (h Handle) Bytes() [16]byte {
	return h.raw
}

// IsNull reports whether h refers to no capability.
func (h Handle) IsNull() bool {
	return h == NullHandle
}

func (h Handle) String() string {
	if h.IsNull() {
		return "handle(null)"
	}
	return "handle(" + hex.EncodeToString(h.raw[:6]) + ")"
}

// FileDescriptor is a process-local descriptor carried through a parcel's
// object table. Transports that cross a process boundary are responsible for
// translating the descriptor; the codec only guarantees it cannot be read as
// plain data.
type FileDescriptor int32

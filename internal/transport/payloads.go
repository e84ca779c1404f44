package transport

import "github.com/glasskit/composerlink/internal/wire"

// Control payloads ride in the same flattened parcel form as batches so they
// get the same bounds checking.

const applyOK uint32 = 0

func encodeApplyReply(code uint32, msg string) []byte {
	p := &wire.Parcel{}
	p.WriteUint32(code)
	p.WriteString(msg)
	return p.MarshalBinary()
}

func decodeApplyReply(buf []byte) (uint32, string, error) {
	p, err := wire.UnmarshalParcel(buf)
	if err != nil {
		return 0, "", err
	}
	r := wire.NewReader(p)
	code, err := r.ReadUint32()
	if err != nil {
		return 0, "", err
	}
	msg, err := r.ReadString()
	if err != nil {
		return 0, "", err
	}
	return code, msg, nil
}

func encodeListenerReply(listenerID int64) []byte {
	p := &wire.Parcel{}
	p.WriteInt64(listenerID)
	return p.MarshalBinary()
}

func decodeListenerReply(buf []byte) (int64, error) {
	p, err := wire.UnmarshalParcel(buf)
	if err != nil {
		return 0, err
	}
	return wire.NewReader(p).ReadInt64()
}

func encodeAck(sequenceID, listenerID int64) []byte {
	p := &wire.Parcel{}
	p.WriteInt64(sequenceID)
	p.WriteInt64(listenerID)
	return p.MarshalBinary()
}

func decodeAck(buf []byte) (sequenceID, listenerID int64, err error) {
	p, err := wire.UnmarshalParcel(buf)
	if err != nil {
		return 0, 0, err
	}
	r := wire.NewReader(p)
	if sequenceID, err = r.ReadInt64(); err != nil {
		return 0, 0, err
	}
	if listenerID, err = r.ReadInt64(); err != nil {
		return 0, 0, err
	}
	return sequenceID, listenerID, nil
}

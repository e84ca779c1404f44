package transport

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// Frame kinds.
const (
	frameApply uint8 = iota + 1
	frameApplyOneWay
	frameApplyReply
	frameAddListener
	frameAddListenerReply
	frameRemoveListener
	frameRemoveListenerReply
	frameUpdate
	frameAck
)

const (
	frameHeaderSize = 1 + 1 + 8 + 4

	flagCompressed uint8 = 1 << 0

	// oneWaySeq marks frames that expect no reply.
	oneWaySeq uint64 = 0

	maxFramePayload = 8 * 1024 * 1024
)

var (
	ErrFrameTruncated = errors.New("transport: truncated frame")
	ErrFrameTooLarge  = errors.New("transport: frame payload too large")
	ErrFrameBadKind   = errors.New("transport: unknown frame kind")
	errDecompress     = errors.New("transport: corrupt compressed payload")
)

// frame is one websocket binary message: kind, flags, correlation seq and an
// opaque payload (usually a flattened parcel).
type frame struct {
	Kind    uint8
	Flags   uint8
	Seq     uint64
	Payload []byte
}

// frameCodec encodes and decodes frames, compressing payloads at or above the
// threshold. Safe for use from one writer and one reader goroutine.
type frameCodec struct {
	threshold int
	enc       *zstd.Encoder
	dec       *zstd.Decoder
}

func newFrameCodec(compressionThreshold int) (*frameCodec, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil, zstd.WithDecoderMaxMemory(maxFramePayload))
	if err != nil {
		enc.Close()
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	return &frameCodec{threshold: compressionThreshold, enc: enc, dec: dec}, nil
}

func (c *frameCodec) Close() {
	if c.enc != nil {
		c.enc.Close()
	}
	if c.dec != nil {
		c.dec.Close()
	}
}

func (c *frameCodec) Encode(f frame) ([]byte, error) {
	payload := f.Payload
	flags := f.Flags &^ flagCompressed
	if c.threshold > 0 && len(payload) >= c.threshold {
		payload = c.enc.EncodeAll(payload, nil)
		flags |= flagCompressed
	}
	if len(payload) > maxFramePayload {
		return nil, ErrFrameTooLarge
	}

	buf := make([]byte, frameHeaderSize, frameHeaderSize+len(payload))
	buf[0] = f.Kind
	buf[1] = flags
	binary.BigEndian.PutUint64(buf[2:10], f.Seq)
	binary.BigEndian.PutUint32(buf[10:14], uint32(len(payload)))
	return append(buf, payload...), nil
}

func (c *frameCodec) Decode(msg []byte) (frame, error) {
	if len(msg) < frameHeaderSize {
		return frame{}, ErrFrameTruncated
	}
	f := frame{
		Kind:  msg[0],
		Flags: msg[1],
		Seq:   binary.BigEndian.Uint64(msg[2:10]),
	}
	if f.Kind < frameApply || f.Kind > frameAck {
		return frame{}, ErrFrameBadKind
	}
	payloadLen := int(binary.BigEndian.Uint32(msg[10:14]))
	if payloadLen > maxFramePayload {
		return frame{}, ErrFrameTooLarge
	}
	if payloadLen != len(msg)-frameHeaderSize {
		return frame{}, ErrFrameTruncated
	}
	payload := msg[frameHeaderSize:]

	if f.Flags&flagCompressed != 0 {
		out, err := c.dec.DecodeAll(payload, nil)
		if err != nil {
			return frame{}, fmt.Errorf("%w: %v", errDecompress, err)
		}
		if len(out) > maxFramePayload {
			return frame{}, ErrFrameTooLarge
		}
		f.Flags &^= flagCompressed
		f.Payload = out
		return f, nil
	}

	f.Payload = make([]byte, payloadLen)
	copy(f.Payload, payload)
	return f, nil
}

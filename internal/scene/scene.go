// Package scene defines the transaction batch and state-update payloads
// exchanged with the compositor, together with their parcel codecs.
package scene

import (
	"github.com/google/uuid"

	"github.com/glasskit/composerlink/internal/wire"
)

// Batch flags.
const (
	// FlagOneWay requests fire-and-forget submission: the channel enqueues the
	// batch and does not wait for the compositor's reply.
	FlagOneWay uint32 = 1 << 0

	FlagAnimation        uint32 = 1 << 1
	FlagEarlyWakeupStart uint32 = 1 << 2
	FlagEarlyWakeupEnd   uint32 = 1 << 3
)

// NewApplyToken mints a fresh ordering-stream token. Batches applied with the
// same token are applied in submission order.
func NewApplyToken() wire.Handle {
	return wire.HandleFromBytes([16]byte(uuid.New()))
}

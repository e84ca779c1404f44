// Package client implements the process-side protocol surfaces: the
// transaction submission channel and the singleton state-update registry.
package client

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/glasskit/composerlink/internal/scene"
	"github.com/glasskit/composerlink/internal/transport"
)

// Channel submits transaction batches to the compositor, choosing the
// fire-and-forget path when the batch asks for it.
type Channel struct {
	composer transport.Composer
	logger   *zap.Logger
	lastID   atomic.Uint64
	now      func() time.Time
}

func NewChannel(composer transport.Composer, logger *zap.Logger) *Channel {
	return &Channel{composer: composer, logger: logger, now: time.Now}
}

// Submit sends b. A batch with FlagOneWay is enqueued and the only observable
// failure is a local encode or enqueue error; otherwise Submit blocks until
// the compositor has applied or rejected the batch. A batch without a
// caller-assigned id gets a fresh one here; if the caller supplied no present
// time, the batch is stamped here too, at submission.
func (ch *Channel) Submit(ctx context.Context, b *scene.TransactionBatch) error {
	if b.ID == 0 {
		b.ID = ch.lastID.Add(1)
	}
	if b.IsAutoTimestamp {
		b.DesiredPresentTime = ch.now().UnixNano()
	}

	if b.Flags&scene.FlagOneWay != 0 {
		if err := ch.composer.ApplyOneWay(b); err != nil {
			return err
		}
		ch.logger.Debug("batch enqueued",
			zap.Uint64("batchID", b.ID),
			zap.Stringer("applyToken", b.ApplyToken),
		)
		return nil
	}

	if err := ch.composer.Apply(ctx, b); err != nil {
		return err
	}
	ch.logger.Debug("batch applied",
		zap.Uint64("batchID", b.ID),
		zap.Stringer("applyToken", b.ApplyToken),
	)
	return nil
}

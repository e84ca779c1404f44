package transport

import (
	"context"

	"go.uber.org/zap"

	"github.com/glasskit/composerlink/internal/scene"
)

const localQueueSize = 64

// Local adapts a Service into a Composer for same-process use. Blocking
// applies call straight through; one-way applies are enqueued to a single
// worker so per-token submission order is preserved while the caller returns
// immediately.
type Local struct {
	svc    Service
	logger *zap.Logger

	oneway chan *scene.TransactionBatch
	done   chan struct{}
}

// NewLocal wires a loopback composer to svc and starts its one-way worker.
func NewLocal(svc Service, logger *zap.Logger) *Local {
	l := &Local{
		svc:    svc,
		logger: logger,
		oneway: make(chan *scene.TransactionBatch, localQueueSize),
		done:   make(chan struct{}),
	}
	go l.run()
	return l
}

func (l *Local) run() {
	for b := range l.oneway {
		if err := l.svc.ApplyBatch(context.Background(), b); err != nil {
			// Fire-and-forget: the outcome is not reported to the caller.
			l.logger.Debug("oneway apply failed", zap.Uint64("batchID", b.ID), zap.Error(err))
		}
	}
	close(l.done)
}

// Close stops the one-way worker after draining queued batches.
func (l *Local) Close() {
	close(l.oneway)
	<-l.done
}

func (l *Local) Apply(ctx context.Context, b *scene.TransactionBatch) error {
	return l.svc.ApplyBatch(ctx, b)
}

func (l *Local) ApplyOneWay(b *scene.TransactionBatch) error {
	select {
	case l.oneway <- b:
		return nil
	default:
		return ErrChannelDown
	}
}

func (l *Local) AddUpdateListener(sink UpdateSink) (ListenerInfo, error) {
	return l.svc.AddUpdateListener(sink)
}

func (l *Local) RemoveUpdateListener(sink UpdateSink) error {
	return l.svc.RemoveUpdateListener(sink)
}

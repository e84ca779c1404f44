package scene

import "github.com/glasskit/composerlink/internal/wire"

// MaxMergeHistory caps how many merged-batch ids a batch remembers, ordered
// most recently merged first.
const MaxMergeHistory = 10

// TransactionBatch is the unit of submission: per-surface and per-display
// property fragments plus batch-level metadata. Fragment order is insertion
// order and survives the wire round trip.
type TransactionBatch struct {
	ID                 uint64
	Flags              uint32
	DesiredPresentTime int64
	IsAutoTimestamp    bool

	ComposerStates []ComposerState
	DisplayStates  []DisplayState

	// ApplyToken names the ordering stream this batch belongs to. Batches
	// sharing a token apply in submission order regardless of desired present
	// time.
	ApplyToken wire.Handle

	MergedIDs []uint64
}

// NewTransactionBatch returns an empty batch on a fresh ordering stream with
// auto timestamping enabled.
func NewTransactionBatch() *TransactionBatch {
	return &TransactionBatch{
		IsAutoTimestamp: true,
		ApplyToken:      NewApplyToken(),
	}
}

// LayerState returns the composer state for layerID, appending an initialized
// fragment if the batch has none yet.
func (b *TransactionBatch) LayerState(layerID uint64) *ComposerState {
	for i := range b.ComposerStates {
		if b.ComposerStates[i].LayerID == layerID {
			return &b.ComposerStates[i]
		}
	}
	b.ComposerStates = append(b.ComposerStates, ComposerState{LayerID: layerID})
	return &b.ComposerStates[len(b.ComposerStates)-1]
}

// DisplayStateFor returns the display state for token, appending an
// initialized fragment if the batch has none yet.
func (b *TransactionBatch) DisplayStateFor(token wire.Handle) *DisplayState {
	for i := range b.DisplayStates {
		if b.DisplayStates[i].Token == token {
			return &b.DisplayStates[i]
		}
	}
	b.DisplayStates = append(b.DisplayStates, DisplayState{Token: token})
	return &b.DisplayStates[len(b.DisplayStates)-1]
}

// Merge folds other into b and clears other. Flags are ORed, fragments for a
// surface or display already present in b are merged field-by-field under
// other's change masks, and other's id is recorded in MergedIDs. b keeps its
// own desired present time.
func (b *TransactionBatch) Merge(other *TransactionBatch) {
	b.Flags |= other.Flags

	merged := make([]uint64, 0, MaxMergeHistory)
	merged = append(merged, other.ID)
	merged = append(merged, other.MergedIDs...)
	merged = append(merged, b.MergedIDs...)
	if len(merged) > MaxMergeHistory {
		merged = merged[:MaxMergeHistory]
	}
	b.MergedIDs = merged

	for i := range other.ComposerStates {
		src := &other.ComposerStates[i]
		if dst := b.findLayer(src.LayerID); dst != nil {
			dst.merge(src)
		} else {
			b.ComposerStates = append(b.ComposerStates, *src)
		}
	}

	for i := range other.DisplayStates {
		src := &other.DisplayStates[i]
		if dst := b.findDisplay(src.Token); dst != nil {
			dst.merge(src)
		} else {
			b.DisplayStates = append(b.DisplayStates, *src)
		}
	}

	other.Clear()
}

func (b *TransactionBatch) findLayer(layerID uint64) *ComposerState {
	for i := range b.ComposerStates {
		if b.ComposerStates[i].LayerID == layerID {
			return &b.ComposerStates[i]
		}
	}
	return nil
}

func (b *TransactionBatch) findDisplay(token wire.Handle) *DisplayState {
	for i := range b.DisplayStates {
		if b.DisplayStates[i].Token == token {
			return &b.DisplayStates[i]
		}
	}
	return nil
}

// Clear resets b to an empty batch on its existing ordering stream.
func (b *TransactionBatch) Clear() {
	token := b.ApplyToken
	*b = TransactionBatch{IsAutoTimestamp: true, ApplyToken: token}
}

// EncodeBatch serializes b into the flattened parcel form. Fragment runs are
// length-prefixed and written in insertion order.
func EncodeBatch(b *TransactionBatch) []byte {
	p := &wire.Parcel{}

	p.WriteUint32(uint32(len(b.ComposerStates)))
	for i := range b.ComposerStates {
		b.ComposerStates[i].writeTo(p)
	}

	p.WriteUint32(uint32(len(b.DisplayStates)))
	for i := range b.DisplayStates {
		b.DisplayStates[i].writeTo(p)
	}

	p.WriteUint64(b.ID)
	p.WriteUint32(b.Flags)
	p.WriteInt64(b.DesiredPresentTime)
	p.WriteBool(b.IsAutoTimestamp)

	p.WriteUint32(uint32(len(b.MergedIDs)))
	for _, id := range b.MergedIDs {
		p.WriteUint64(id)
	}

	p.WriteHandle(b.ApplyToken)
	return p.MarshalBinary()
}

// DecodeBatch rebuilds a batch from its flattened parcel form. Any declared
// size that does not fit the remaining buffer aborts the whole decode; a
// partially decoded batch is never returned.
func DecodeBatch(buf []byte) (*TransactionBatch, error) {
	p, err := wire.UnmarshalParcel(buf)
	if err != nil {
		return nil, err
	}
	r := wire.NewReader(p)
	b := &TransactionBatch{}

	count, err := r.ReadCount(minComposerStateSize)
	if err != nil {
		return nil, err
	}
	b.ComposerStates = make([]ComposerState, 0, count)
	for i := 0; i < count; i++ {
		var s ComposerState
		if err := s.readFrom(r); err != nil {
			return nil, err
		}
		b.ComposerStates = append(b.ComposerStates, s)
	}

	count, err = r.ReadCount(minDisplayStateSize)
	if err != nil {
		return nil, err
	}
	b.DisplayStates = make([]DisplayState, 0, count)
	for i := 0; i < count; i++ {
		var d DisplayState
		if err := d.readFrom(r); err != nil {
			return nil, err
		}
		b.DisplayStates = append(b.DisplayStates, d)
	}

	if b.ID, err = r.ReadUint64(); err != nil {
		return nil, err
	}
	if b.Flags, err = r.ReadUint32(); err != nil {
		return nil, err
	}
	if b.DesiredPresentTime, err = r.ReadInt64(); err != nil {
		return nil, err
	}
	if b.IsAutoTimestamp, err = r.ReadBool(); err != nil {
		return nil, err
	}

	count, err = r.ReadCount(8)
	if err != nil {
		return nil, err
	}
	if count > 0 {
		b.MergedIDs = make([]uint64, 0, count)
		for i := 0; i < count; i++ {
			id, err := r.ReadUint64()
			if err != nil {
				return nil, err
			}
			b.MergedIDs = append(b.MergedIDs, id)
		}
	}

	if b.ApplyToken, err = r.ReadHandle(); err != nil {
		return nil, err
	}
	return b, nil
}

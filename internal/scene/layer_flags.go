package scene

// ComposerState.Flags bits.
const (
	LayerFlagHidden uint32 = 1 << 0
	LayerFlagOpaque uint32 = 1 << 1
)

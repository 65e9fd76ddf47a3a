package transfer

const (
	// ChannelLabel names the data channel every peer link opens for files.
	ChannelLabel = "files"

	ChunkSize     = 16 * 1024
	HighWaterMark = 8 * 1024 * 1024
	LowWaterMark  = HighWaterMark / 2
)

// Message types.
const (
	TypeMeta     = "file-meta"
	TypeChunk    = "file-chunk"
	TypeComplete = "file-complete"
)

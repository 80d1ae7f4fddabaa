package port

import "github.com/techthiyanes/lightning-pose/pkg/frames"

// TensorWriter persists one windowed batch as a tensor shard on disk.
type TensorWriter interface {
	WriteBatch(path string, batch *frames.WindowedBatch) error
}

package gap1side

import (
	"github.com/grinuri/ib-benchmark/cmn/cos"
	"github.com/grinuri/ib-benchmark/netstats"
	"github.com/grinuri/ib-benchmark/router"
	"github.com/grinuri/ib-benchmark/transport"
)

// CircularConfig streams a fixed total buffer through the one-sided engine
// in fixed-size chunks, looping the whole buffer Iterations times. This is
// the supplemented circular/chunked RDMA streaming mode (present in
// original_source's ucx_1side_gap_runner.h as a ring-buffered variant but
// dropped from the distilled spec's core contract); it reuses the same
// put-then-atomic-add engine, just with one chunk standing in for one
// packet and the iteration count scaled by chunks-per-buffer.
type CircularConfig struct {
	TotalBytes int64
	ChunkSize  int
	Iterations int
	MaxGap     int32
	WorldSize  int
	Rank       int
	Route      []router.Rank
}

// CircularEngine wraps an Engine configured to treat each chunk as one
// packet, exposing a byte-granular cursor instead of a chunk-granular id.
type CircularEngine struct {
	chunkSize int
	inner     *Engine
}

// NewCircular validates that the total buffer is an exact multiple of the
// chunk size and constructs the underlying chunked engine against t.
func NewCircular(cfg CircularConfig, t transport.Transport) (*CircularEngine, error) {
	if cfg.ChunkSize <= 0 || cfg.TotalBytes%int64(cfg.ChunkSize) != 0 {
		return nil, cos.NewErrConfig("total_bytes %d must be a positive multiple of chunk_size %d", cfg.TotalBytes, cfg.ChunkSize)
	}
	chunksPerBuffer := cfg.TotalBytes / int64(cfg.ChunkSize)
	inner, err := New(Config{
		Iterations: cfg.Iterations * int(chunksPerBuffer),
		MaxGap:     cfg.MaxGap,
		PacketSize: cfg.ChunkSize,
		WorldSize:  cfg.WorldSize,
		Rank:       cfg.Rank,
		Route:      cfg.Route,
	}, t)
	if err != nil {
		return nil, err
	}
	return &CircularEngine{chunkSize: cfg.ChunkSize, inner: inner}, nil
}

// Setup delegates to the inner engine's metadata exchange.
func (c *CircularEngine) Setup() error { return c.inner.Setup() }

// Run delegates to the inner engine's put/atomic loop.
func (c *CircularEngine) Run() (*netstats.NetStats, error) { return c.inner.Run() }

// CursorBytes reports how many bytes of the circular buffer a given sender
// has had acknowledged so far: chunks-complete * chunk_size.
func (c *CircularEngine) CursorBytes(sender int) int64 {
	return int64(c.inner.AtomicValue(sender)) * int64(c.chunkSize)
}

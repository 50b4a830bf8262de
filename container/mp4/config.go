package mp4

// Defaults for Config.
const (
	DefaultMaxSampleSize   = 64 << 20
	DefaultMaxSampleCount  = 1 << 24
	DefaultMaxMetadataSize = 256 << 20
	DefaultBufferSize      = 128 * 1024
	DefaultBufferHistory   = 4
)

// Config bounds what the demuxer will allocate on behalf of a file.
type Config struct {
	// MaxSampleSize is the largest sample read_packet will allocate for.
	MaxSampleSize uint32
	// MaxSampleCount caps the per-track sample index.
	MaxSampleCount uint32
	// MaxMetadataSize caps the moov box.
	MaxMetadataSize uint64

	BufferSize    int
	BufferHistory int
}

func DefaultConfig() Config {
	return Config{
		MaxSampleSize:   DefaultMaxSampleSize,
		MaxSampleCount:  DefaultMaxSampleCount,
		MaxMetadataSize: DefaultMaxMetadataSize,
		BufferSize:      DefaultBufferSize,
		BufferHistory:   DefaultBufferHistory,
	}
}

type Option func(*Config)

func WithMaxSampleSize(n uint32) Option {
	return func(c *Config) { c.MaxSampleSize = n }
}

func WithMaxSampleCount(n uint32) Option {
	return func(c *Config) { c.MaxSampleCount = n }
}

func WithMaxMetadataSize(n uint64) Option {
	return func(c *Config) { c.MaxMetadataSize = n }
}

// WithBuffer sets the read buffer size and the number of buffers kept for
// backward seeks.
func WithBuffer(size, history int) Option {
	return func(c *Config) {
		c.BufferSize = size
		c.BufferHistory = history
	}
}

package deltawriter

import (
	"github.com/lakehouse-go/deltawriter/flushtoken"
	"github.com/lakehouse-go/deltawriter/schema"
	"github.com/lakehouse-go/deltawriter/tabletwriter"
)

// Config holds process-wide defaults applied to every writer an Engine
// builds, mirroring engine.FlushConfig/engine.CompactionConfig in the
// teacher: narrow, data-only structs an Option layers onto the shared
// process state, with per-writer values from the builder (§6) taking
// precedence whenever they are explicitly set.
type Config struct {
	// DefaultMaxBufferSize is used when a builder's MaxBufferSize is
	// left at zero ("use engine default", §6).
	DefaultMaxBufferSize int64

	// DefaultImmutableTabletSize is used when a builder's
	// ImmutableTabletSize is left at zero. When it is zero as well,
	// immutable tracking is disabled for that writer.
	DefaultImmutableTabletSize int64

	// DefaultCodec is the compression codec new writers use unless a
	// builder overrides it.
	DefaultCodec tabletwriter.Codec

	// FlushPoolSize is the number of goroutines backing the shared,
	// process-wide flush pool (§5's "Flush thread pool... owned by a
	// storage-engine singleton").
	FlushPoolSize int

	// IOLimitBytesPerSec caps the shared flush pool's cumulative flush
	// I/O throughput via a token-bucket limiter. Zero disables the cap.
	IOLimitBytesPerSec int

	logger  *Logger
	metrics MetricsObserver
}

// Option configures an Engine at construction time.
type Option func(*Config)

// WithDefaultMaxBufferSize sets the engine-wide default memtable
// buffer size used when a writer doesn't specify its own.
func WithDefaultMaxBufferSize(bytes int64) Option {
	return func(c *Config) { c.DefaultMaxBufferSize = bytes }
}

// WithDefaultImmutableTabletSize sets the engine-wide default
// immutable-tablet threshold used when a writer doesn't specify its
// own.
func WithDefaultImmutableTabletSize(bytes int64) Option {
	return func(c *Config) { c.DefaultImmutableTabletSize = bytes }
}

// WithDefaultCodec sets the engine-wide default segment compression
// codec used when a writer doesn't specify its own.
func WithDefaultCodec(codec tabletwriter.Codec) Option {
	return func(c *Config) { c.DefaultCodec = codec }
}

// WithFlushPoolSize sets the number of goroutines in the shared flush
// pool. Zero or negative sizes the pool to GOMAXPROCS; without this
// option the pool has 4 workers.
func WithFlushPoolSize(n int) Option {
	return func(c *Config) { c.FlushPoolSize = n }
}

// WithIOLimitBytesPerSec caps the shared flush pool's cumulative flush
// I/O throughput, smoothing bursty uploads when many writers flush at
// once. Zero (the default) leaves flush I/O unthrottled.
func WithIOLimitBytesPerSec(bytesPerSec int) Option {
	return func(c *Config) { c.IOLimitBytesPerSec = bytesPerSec }
}

// WithLogger sets the logger every writer the engine builds shares.
// Pass nil to disable logging.
func WithLogger(l *Logger) Option {
	return func(c *Config) { c.logger = l }
}

// WithMetricsObserver sets the metrics observer every writer the
// engine builds shares. Pass nil to disable metrics.
func WithMetricsObserver(mo MetricsObserver) Option {
	return func(c *Config) { c.metrics = mo }
}

const defaultFlushPoolSize = 4

func applyOptions(optFns []Option) Config {
	c := Config{
		FlushPoolSize: defaultFlushPoolSize,
		DefaultCodec:  tabletwriter.CodecZstd,
		logger:        defaultNoopLogger(),
		metrics:       NoopMetricsObserver{},
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&c)
		}
	}
	if c.logger == nil {
		c.logger = defaultNoopLogger()
	}
	if c.metrics == nil {
		c.metrics = NoopMetricsObserver{}
	}
	return c
}

// Engine is the process-wide singleton that owns the shared flush pool
// (§5) and the engine-wide configuration defaults every writer it
// builds inherits. Exactly one Engine should exist per process, mirroring
// the teacher's own single-Engine-per-store model.
type Engine struct {
	cfg        Config
	pool       *flushtoken.Pool
	reconciler *schema.Reconciler
}

// NewEngine constructs an Engine, creating the shared flush pool sized
// per Config.FlushPoolSize (or a small default) and the singleflight-
// collapsed schema reconciler every writer built from this Engine
// shares (§2B: "loaded at most once per writer... across writers
// sharing a tablet manager").
func NewEngine(optFns ...Option) *Engine {
	cfg := applyOptions(optFns)
	return &Engine{
		cfg:        cfg,
		pool:       flushtoken.NewPool(cfg.FlushPoolSize, flushtoken.WithIOLimitBytesPerSec(cfg.IOLimitBytesPerSec)),
		reconciler: schema.New(),
	}
}

// Close shuts down the shared flush pool. Outstanding writers must be
// closed first; Close does not wait for them.
func (e *Engine) Close() {
	e.pool.Close()
}

package pipeq

// Option configures a Queue at construction time. Positional arguments to
// NewQueue cover the load-bearing knobs (elemSize, limit); Option covers the
// rest, the way momentics-hioload-ws/server/options.go layers optional
// behavior onto a positionally-constructed server.
type Option func(*queueConfig)

type queueConfig struct {
	minCap int
}

// WithMinCap overrides the ring's shrink floor. Mirrors pipe.c's debug build,
// which compiles DEFAULT_MINCAP down to 2 instead of the release value of 32.
func WithMinCap(n int) Option {
	return func(c *queueConfig) {
		c.minCap = n
	}
}

func newQueueConfig(opts []Option) *queueConfig {
	c := &queueConfig{minCap: DefaultMinCap}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// PipelineOption configures a Pipeline at construction time.
type PipelineOption func(*pipelineConfig)

type pipelineConfig struct {
	stageBatch int
}

// WithStageBatch overrides how many elements a stage worker pops per
// transform call. pipe.c hard-codes this as BUFFER_SIZE = 32.
func WithStageBatch(n int) PipelineOption {
	return func(c *pipelineConfig) {
		c.stageBatch = n
	}
}

func newPipelineConfig(opts []PipelineOption) *pipelineConfig {
	c := &pipelineConfig{stageBatch: defaultStageBatch}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

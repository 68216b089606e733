package job

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestManagerOptions(t *testing.T) {
	t.Parallel()

	logger := slog.Default()
	cfg := newConfig()
	for _, opt := range []Option{
		WithQueue("newsletters", 4),
		WithQueue("ignored", 0),
		WithQueue("negative", -1),
		WithLogger(logger),
		WithLogger(nil),
		WithMaxWorkers(10),
		WithMaxWorkers(0),
	} {
		opt(cfg)
	}

	assert.Equal(t, map[string]int{"newsletters": 4}, cfg.queues)
	assert.Same(t, logger, cfg.logger)
	assert.Equal(t, 10, cfg.maxWorkers)
}

func TestNewManager_NilPool(t *testing.T) {
	t.Parallel()

	_, err := NewManager(nil)
	assert.ErrorIs(t, err, ErrPoolRequired)

	_, err = NewEnqueuer(nil)
	assert.ErrorIs(t, err, ErrPoolRequired)
}

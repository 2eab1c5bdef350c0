package transcribe

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// ModelCache memoizes loaded models by backend, model, device, and compute
// type. Concurrent first requests for the same model share a single load.
type ModelCache struct {
	loader Loader
	logger zerolog.Logger

	group  singleflight.Group
	mu     sync.Mutex
	models map[Params]Model
}

// NewModelCache wraps loader with memoization.
func NewModelCache(loader Loader, logger zerolog.Logger) *ModelCache {
	return &ModelCache{
		loader: loader,
		logger: logger,
		models: make(map[Params]Model),
	}
}

// Load returns the cached model for params, loading it on first use.
func (c *ModelCache) Load(ctx context.Context, params Params) (Model, error) {
	key := params.handleKey()
	if m, ok := c.cached(key); ok {
		return m, nil
	}

	v, err, _ := c.group.Do(key.String(), func() (any, error) {
		if m, ok := c.cached(key); ok {
			return m, nil
		}

		c.logger.Info().Str("model", key.Model).Str("device", key.Device).Msg("loading speech model")
		m, err := c.loader.Load(ctx, params.normalized())
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		c.models[key] = m
		c.mu.Unlock()
		return m, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(Model), nil
}

// cached returns a live cached model. Models whose backing process died are
// dropped so the next Load starts a fresh one.
func (c *ModelCache) cached(key Params) (Model, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.models[key]
	if !ok {
		return nil, false
	}
	if a, ok := m.(interface{ Alive() bool }); ok && !a.Alive() {
		delete(c.models, key)
		return nil, false
	}
	return m, true
}

// Close releases every cached model that holds resources.
func (c *ModelCache) Close() error {
	c.mu.Lock()
	models := c.models
	c.models = make(map[Params]Model)
	c.mu.Unlock()

	var errs []error
	for _, m := range models {
		if closer, ok := m.(io.Closer); ok {
			errs = append(errs, closer.Close())
		}
	}
	return errors.Join(errs...)
}

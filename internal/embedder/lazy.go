package embedder

import (
	"context"
	"sync"
)

// Service is a lazily initialized embedder handle. The model is loaded at
// most once per process; concurrent first callers serialize on the mutex
// so exactly one performs initialization while the rest block on it.
//
// Initialization failure is returned to the caller that observed it and
// the handle stays empty, so the next caller retries instead of being
// stuck with a poisoned handle.
type Service struct {
	mu       sync.Mutex
	factory  func() (Embedder, error)
	embedder Embedder
}

// NewService wraps factory in a lazy handle. The factory is not invoked
// until the first Get.
func NewService(factory func() (Embedder, error)) *Service {
	return &Service{factory: factory}
}

// Get returns the initialized embedder, initializing it on first use.
func (s *Service) Get(ctx context.Context) (Embedder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.embedder != nil {
		return s.embedder, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	emb, err := s.factory()
	if err != nil {
		return nil, err
	}
	s.embedder = emb
	return emb, nil
}

// Close releases the underlying embedder if it was ever initialized.
func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.embedder == nil {
		return nil
	}
	err := s.embedder.Close()
	s.embedder = nil
	return err
}

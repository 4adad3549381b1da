package reranker

import (
	"context"
	"sync"
)

// Service is a lazily initialized reranker handle, loaded at most once per
// process. Concurrent first callers serialize on the mutex; a failed
// initialization leaves the handle empty so the next caller retries.
type Service struct {
	mu       sync.Mutex
	factory  func() (Reranker, error)
	reranker Reranker
}

// NewService wraps factory in a lazy handle.
func NewService(factory func() (Reranker, error)) *Service {
	return &Service{factory: factory}
}

// Get returns the initialized reranker, initializing it on first use.
func (s *Service) Get(ctx context.Context) (Reranker, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.reranker != nil {
		return s.reranker, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r, err := s.factory()
	if err != nil {
		return nil, err
	}
	s.reranker = r
	return r, nil
}

// Close releases the underlying reranker if it was ever initialized.
func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.reranker == nil {
		return nil
	}
	err := s.reranker.Close()
	s.reranker = nil
	return err
}

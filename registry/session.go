package registry

import (
	"context"
	"sync"

	"docqa/app/agent"
	"docqa/store"
	"docqa/types"
)

// session is one registered document: its index and the engine bound to it.
//
// Queries hold the read side of mu for their whole run. Teardown takes the
// write side, so it waits for in-flight queries and later ones observe
// closed and report not found.
type session struct {
	meta   types.DocumentMetadata
	index  store.VectorIndex
	engine *agent.Engine

	mu     sync.RWMutex
	closed bool
}

func (s *session) answer(ctx context.Context, question string) (types.QueryResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return types.QueryResult{}, types.NotFoundf("document %s", s.meta.DocumentID)
	}
	return s.engine.Answer(ctx, question)
}

// close blocks until running queries finish, then releases the index.
// Only the first call does any work.
func (s *session) close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.index.Close()
}

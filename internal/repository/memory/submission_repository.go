package memory

import (
	"context"
	"time"

	"reflection-chat-be/internal/dto"

	"github.com/patrickmn/go-cache"
)

// Submission is one client-identified send. The first caller to reserve a key
// owns it and must call Complete; later callers Wait for its outcome.
type Submission struct {
	done     chan struct{}
	response *dto.SendChatResponse
	err      error
}

func (s *Submission) Wait(ctx context.Context) (*dto.SendChatResponse, error) {
	select {
	case <-s.done:
		return s.response, s.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type SubmissionRepository struct {
	cache *cache.Cache
}

func NewSubmissionRepository(ttl time.Duration) *SubmissionRepository {
	// Expired entries are purged every ttl
	c := cache.New(ttl, ttl)
	return &SubmissionRepository{
		cache: c,
	}
}

func (r *SubmissionRepository) Reserve(key string) (*Submission, bool) {
	for {
		if x, found := r.cache.Get(key); found {
			return x.(*Submission), false
		}
		sub := &Submission{done: make(chan struct{})}
		if err := r.cache.Add(key, sub, cache.DefaultExpiration); err == nil {
			return sub, true
		}
	}
}

// Complete publishes the outcome to waiters. Failed submissions are forgotten
// so the client can retry with the same key.
func (r *SubmissionRepository) Complete(key string, sub *Submission, response *dto.SendChatResponse, err error) {
	sub.response = response
	sub.err = err
	if err != nil {
		r.cache.Delete(key)
	}
	close(sub.done)
}

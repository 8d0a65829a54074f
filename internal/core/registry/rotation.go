package registry

import (
	"sync"

	"github.com/nulzo/llm-gateway-api/internal/core/domain"
)

// rotator is the process-global round-robin cursor for one provider's
// credential list. The cursor is shared across all requests to the
// provider; the critical section is the increment-and-read, nothing
// else.
type rotator struct {
	mu   sync.Mutex
	keys []string
	idx  int
}

func newRotator(keys []string) *rotator {
	copied := make([]string, len(keys))
	copy(copied, keys)
	// idx tracks the last credential handed out; -1 means none yet, so
	// the first advance lands on the first configured key.
	return &rotator{keys: copied, idx: -1}
}

func (r *rotator) size() int {
	return len(r.keys)
}

// current returns the credential at the cursor without advancing it.
func (r *rotator) current() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.idx < 0 {
		return r.keys[0]
	}
	return r.keys[r.idx%len(r.keys)]
}

// next advances the shared cursor and returns the resulting credential,
// skipping keys in the exclusion set. When the exclusion set covers the
// whole list the provider is exhausted for this request.
func (r *rotator) next(provider string, exclude map[string]struct{}) (string, error) {
	if len(exclude) >= len(r.keys) {
		return "", &domain.AllKeysExhaustedError{Provider: provider, KeyCount: len(r.keys)}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for {
		r.idx = (r.idx + 1) % len(r.keys)
		key := r.keys[r.idx]
		if _, excluded := exclude[key]; !excluded {
			return key, nil
		}
	}
}

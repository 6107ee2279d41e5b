package runner

import (
	"sync"

	"github.com/apiprobe/apiprobe/model"
)

// FailureSet records failures at most once per fingerprint. Safe for
// concurrent use by the worker pool.
type FailureSet struct {
	mu       sync.Mutex
	seen     map[string]struct{}
	failures []*model.Failure
	// cap limits recorded failures; zero means unlimited.
	cap int
}

// NewFailureSet builds a set that stops recording after max failures.
func NewFailureSet(max int) *FailureSet {
	return &FailureSet{seen: map[string]struct{}{}, cap: max}
}

// Add records the failure unless its fingerprint was seen before or the cap
// is reached. Reports whether the failure was newly recorded.
func (s *FailureSet) Add(f *model.Failure) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.seen[f.Fingerprint]; dup {
		return false
	}
	s.seen[f.Fingerprint] = struct{}{}
	if s.cap > 0 && len(s.failures) >= s.cap {
		return false
	}
	s.failures = append(s.failures, f)
	return true
}

// Full reports whether the recording cap is reached.
func (s *FailureSet) Full() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cap > 0 && len(s.failures) >= s.cap
}

// Failures returns the recorded failures in recording order.
func (s *FailureSet) Failures() []*model.Failure {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*model.Failure, len(s.failures))
	copy(out, s.failures)
	return out
}

// Len returns the number of recorded failures.
func (s *FailureSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.failures)
}

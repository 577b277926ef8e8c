package template

import (
	"strings"
	"sync"

	"github.com/dolthub/swiss"
)

// shareSet records submission keys seen for one job. It only grows and is
// dropped together with its job.
type shareSet struct {
	mu   sync.Mutex
	seen *swiss.Map[string, struct{}]
}

func newShareSet() *shareSet {
	return &shareSet{seen: swiss.NewMap[string, struct{}](64)}
}

// add inserts key and reports whether it was new.
func (s *shareSet) add(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.seen.Has(key) {
		return false
	}
	s.seen.Put(key, struct{}{})
	return true
}

func (s *shareSet) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seen.Count()
}

func submissionKey(parts ...string) string {
	return strings.ToLower(strings.Join(parts, ""))
}

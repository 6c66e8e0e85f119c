package tutor

import "sync"

// Registry tracks live sessions by id. Sessions exist only in memory and
// disappear on process restart.
type Registry struct {
	m sync.Map // id -> *Session
}

func NewRegistry() *Registry { return &Registry{} }

func (r *Registry) Add(s *Session) { r.m.Store(s.ID(), s) }

func (r *Registry) Get(id string) (*Session, bool) {
	v, ok := r.m.Load(id)
	if !ok {
		return nil, false
	}
	return v.(*Session), true
}

func (r *Registry) Remove(id string) { r.m.Delete(id) }

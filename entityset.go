package erpdk

import (
	"sort"
	"sync"
)

// EntitySet is the set of entity ids affected during a run. It only ever
// grows. It is safe for concurrent use, and readers never observe a
// partially applied Add.
type EntitySet struct {
	lock sync.RWMutex
	ids  map[int64]struct{}
}

// NewEntitySet returns an EntitySet holding ids.
func NewEntitySet(ids ...int64) *EntitySet {
	s := &EntitySet{
		ids: make(map[int64]struct{}, len(ids)),
	}
	s.Add(ids...)
	return s
}

// Add inserts ids into the set and returns the ones which were not already
// present.
func (s *EntitySet) Add(ids ...int64) (added []int64) {
	if len(ids) == 0 {
		return nil
	}
	s.lock.Lock()
	defer s.lock.Unlock()
	for _, id := range ids {
		if _, ok := s.ids[id]; ok {
			continue
		}
		s.ids[id] = struct{}{}
		added = append(added, id)
	}
	return added
}

// Contains reports whether id is in the set.
func (s *EntitySet) Contains(id int64) bool {
	s.lock.RLock()
	_, ok := s.ids[id]
	s.lock.RUnlock()
	return ok
}

// Len returns the number of ids in the set.
func (s *EntitySet) Len() int {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return len(s.ids)
}

// IDs returns a sorted snapshot of the set.
func (s *EntitySet) IDs() []int64 {
	s.lock.RLock()
	ret := make([]int64, 0, len(s.ids))
	for id := range s.ids {
		ret = append(ret, id)
	}
	s.lock.RUnlock()
	sort.Slice(ret, func(i, j int) bool { return ret[i] < ret[j] })
	return ret
}

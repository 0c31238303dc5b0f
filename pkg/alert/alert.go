package alert

import "sync"

// Set tracks conditions that hold across control ticks so the loop can log
// them on the transition instead of once per tick.
type Set struct {
	active []string
	sync.RWMutex
}

// Raise marks condition as active and returns true if it was not already.
func (s *Set) Raise(condition string) bool {
	s.Lock()
	defer s.Unlock()
	for _, active := range s.active {
		if active == condition {
			return false
		}
	}

	s.active = append(s.active, condition)
	return true
}

// Clear removes condition and returns true if it was active.
func (s *Set) Clear(condition string) bool {
	s.Lock()
	defer s.Unlock()
	for i, active := range s.active {
		if active == condition {
			s.active = append(s.active[:i], s.active[i+1:]...)
			return true
		}
	}
	return false
}

func (s *Set) Active(condition string) bool {
	s.RLock()
	defer s.RUnlock()
	for _, active := range s.active {
		if active == condition {
			return true
		}
	}
	return false
}

package store

// LockCount reports how many account mutexes exist.
func (s *MemoryStore) LockCount() int {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	return len(s.locks)
}

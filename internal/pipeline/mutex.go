package pipeline

import "sync"

// keyedMutex serializes work per message ID so two workers never
// enrich or index the same message concurrently. Entries are not
// removed.
type keyedMutex struct {
	locks sync.Map
}

func (k *keyedMutex) lock(id uint) func() {
	value, _ := k.locks.LoadOrStore(id, &sync.Mutex{})
	mu := value.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

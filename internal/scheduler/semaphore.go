package scheduler

// Semaphore caps how many check passes run at once inside this process.
// The run lock guards against other processes; this guards against our own
// ticks stacking up behind a slow engine.
type Semaphore struct {
	slots chan struct{}
}

// NewSemaphore creates a semaphore admitting at most n holders.
func NewSemaphore(n int) *Semaphore {
	if n <= 0 {
		n = 1
	}
	return &Semaphore{slots: make(chan struct{}, n)}
}

// TryAcquire takes a slot without blocking and reports whether it got one.
func (s *Semaphore) TryAcquire() bool {
	select {
	case s.slots <- struct{}{}:
		return true
	default:
		return false
	}
}

// Release frees a slot taken by a successful TryAcquire.
func (s *Semaphore) Release() {
	<-s.slots
}

// Available reports how many slots remain.
func (s *Semaphore) Available() int {
	return cap(s.slots) - len(s.slots)
}

package dispatch

import (
	"sync"

	"github.com/behrlich/go-raid1mirror/internal/interfaces"
)

// WaitList is the concrete back-pressure queue behind
// interfaces.IOWaiter: a FIFO of resume callbacks per base device, drained when the
// mirror learns that base is submittable again. Resumes for different
// bases are independent; a base's own queue stays ordered.
type WaitList struct {
	mu     sync.Mutex
	queues map[interfaces.BaseDevice][]func()
}

// NewWaitList creates an empty WaitList.
func NewWaitList() *WaitList {
	return &WaitList{queues: make(map[interfaces.BaseDevice][]func())}
}

// QueueIOWait implements interfaces.IOWaiter.
func (w *WaitList) QueueIOWait(base interfaces.BaseDevice, resume func()) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.queues[base] = append(w.queues[base], resume)
}

// Drain pops and invokes every resume queued for base, oldest first. The
// mirror calls this once it observes base's submission queue has freed
// up (e.g. after one of its own completions). Resumes are invoked
// outside the lock so a resume that re-queues itself on SubmitBusy
// doesn't deadlock.
func (w *WaitList) Drain(base interfaces.BaseDevice) {
	w.mu.Lock()
	pending := w.queues[base]
	delete(w.queues, base)
	w.mu.Unlock()

	for _, resume := range pending {
		resume()
	}
}

// Len reports how many resumes are queued for base, for tests and
// diagnostics.
func (w *WaitList) Len(base interfaces.BaseDevice) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.queues[base])
}

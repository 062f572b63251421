package lib

import "sync"

// LossWindow records the outcome of the last N send attempts in a ring.
// A slot holds true when the segment was acknowledged and false when its
// acknowledgment timed out. The window starts out all successful.
type LossWindow struct {
	outcomes []bool
	writeIdx int
	losses   int // number of false slots, kept in step with outcomes
	mtx      sync.Mutex
}

func newLossWindow(size int) *LossWindow {
	outcomes := make([]bool, size)
	for i := range outcomes {
		outcomes[i] = true
	}
	return &LossWindow{outcomes: outcomes}
}

// Record overwrites the current slot and moves the write index circularly.
func (w *LossWindow) Record(success bool) {
	w.mtx.Lock()
	defer w.mtx.Unlock()

	old := w.outcomes[w.writeIdx]
	if old && !success {
		w.losses++
	} else if !old && success {
		w.losses--
	}
	w.outcomes[w.writeIdx] = success
	w.writeIdx = (w.writeIdx + 1) % len(w.outcomes)
}

// Losses returns the number of timed out attempts in the window.
func (w *LossWindow) Losses() int {
	w.mtx.Lock()
	defer w.mtx.Unlock()
	return w.losses
}

// Tolerates reports whether the current loss count is within threshold.
func (w *LossWindow) Tolerates(threshold int) bool {
	return w.Losses() <= threshold
}

func (w *LossWindow) Size() int {
	return len(w.outcomes)
}

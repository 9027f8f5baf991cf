package target

import "sync"

// commitTracker folds batch acknowledgements, which arrive in any order, into
// the highest journal sequence at or below which every entry was written.
// A batch that is never acknowledged holds the mark below its first entry.
type commitTracker struct {
	mu    sync.Mutex
	mark  uint64
	acked map[uint64]struct{}
}

func newCommitTracker(committed uint64) *commitTracker {
	return &commitTracker{mark: committed, acked: make(map[uint64]struct{})}
}

// ack records seqs as written. It returns the new mark and whether it moved.
func (t *commitTracker) ack(seqs []uint64) (uint64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, seq := range seqs {
		if seq > t.mark {
			t.acked[seq] = struct{}{}
		}
	}
	start := t.mark
	for {
		next := t.mark + 1
		if _, ok := t.acked[next]; !ok {
			break
		}
		delete(t.acked, next)
		t.mark = next
	}
	return t.mark, t.mark != start
}

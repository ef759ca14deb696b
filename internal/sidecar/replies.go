package sidecar

import (
	"errors"
	"sync"
)

var (
	errNoRunWaiting = errors.New("no fix run is waiting for a reply")
	errUnknownRun   = errors.New("unknown run")
	errNotAwaiting  = errors.New("run is not awaiting permission")
)

type replySlot struct {
	ch    chan string
	armed bool
}

// replyBoard holds one pending typed reply per active fix run. A run only
// accepts replies while it is awaiting permission; posting again replaces
// a reply the run has not read yet.
type replyBoard struct {
	mu    sync.Mutex
	slots map[string]*replySlot
	order []string // active run ids, latest last
}

func newReplyBoard() *replyBoard {
	return &replyBoard{slots: make(map[string]*replySlot)}
}

// open registers runID and returns the channel its listener reads from.
func (b *replyBoard) open(runID string) <-chan string {
	b.mu.Lock()
	defer b.mu.Unlock()
	slot := &replySlot{ch: make(chan string, 1)}
	b.slots[runID] = slot
	b.order = append(b.order, runID)
	return slot.ch
}

func (b *replyBoard) close(runID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.slots, runID)
	for i, id := range b.order {
		if id == runID {
			b.order = append(b.order[:i], b.order[i+1:]...)
			break
		}
	}
}

// arm opens or closes runID for replies. Closing drops an unread reply.
func (b *replyBoard) arm(runID string, armed bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	slot, ok := b.slots[runID]
	if !ok {
		return
	}
	slot.armed = armed
	if !armed {
		select {
		case <-slot.ch:
		default:
		}
	}
}

// post delivers text to runID, or to the latest run when runID is empty,
// and returns the run that received it.
func (b *replyBoard) post(runID, text string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if runID == "" {
		if len(b.order) == 0 {
			return "", errNoRunWaiting
		}
		runID = b.order[len(b.order)-1]
	}
	slot, ok := b.slots[runID]
	if !ok {
		return "", errUnknownRun
	}
	if !slot.armed {
		return "", errNotAwaiting
	}
	select {
	case <-slot.ch:
	default:
	}
	slot.ch <- text
	return runID, nil
}

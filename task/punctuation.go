package task

import (
	"context"
	"time"

	"github.com/google/btree"
	"github.com/hugolhafner/go-streams-runtime/processor"
)

type punctuation struct {
	node      string
	interval  time.Duration
	fn        processor.Punctuator
	due       time.Time
	seq       uint64
	queue     *punctuationQueue
	cancelled bool
}

func (p *punctuation) Cancel() {
	if p.cancelled {
		return
	}
	p.cancelled = true
	p.queue.remove(p)
}

func lessPunctuation(a, b *punctuation) bool {
	if !a.due.Equal(b.due) {
		return a.due.Before(b.due)
	}
	return a.seq < b.seq
}

// punctuationQueue orders the punctuators of one clock by due time
type punctuationQueue struct {
	tree *btree.BTreeG[*punctuation]
	// scheduled before the clock had a value, anchored on its first observation
	unanchored []*punctuation
	seq        uint64
}

func newPunctuationQueue() *punctuationQueue {
	return &punctuationQueue{tree: btree.NewG[*punctuation](8, lessPunctuation)}
}

func (q *punctuationQueue) schedule(node string, interval time.Duration, now time.Time, fn processor.Punctuator) *punctuation {
	q.seq++
	p := &punctuation{node: node, interval: interval, fn: fn, seq: q.seq, queue: q}

	if now.IsZero() {
		q.unanchored = append(q.unanchored, p)
		return p
	}

	p.due = now.Add(interval)
	q.tree.ReplaceOrInsert(p)
	return p
}

func (q *punctuationQueue) remove(p *punctuation) {
	if p.due.IsZero() {
		for i, u := range q.unanchored {
			if u == p {
				q.unanchored = append(q.unanchored[:i], q.unanchored[i+1:]...)
				break
			}
		}
		return
	}
	q.tree.Delete(p)
}

func (q *punctuationQueue) len() int {
	return q.tree.Len() + len(q.unanchored)
}

func (q *punctuationQueue) clear() {
	q.tree.Clear(false)
	q.unanchored = nil
}

// fire runs every punctuator due at now. Each runs once however many intervals were missed,
// and is then due at the first multiple of its interval after now.
func (q *punctuationQueue) fire(
	ctx context.Context, now time.Time, run func(ctx context.Context, p *punctuation, now time.Time) error,
) (int, error) {
	if now.IsZero() {
		return 0, nil
	}

	for _, p := range q.unanchored {
		p.due = now.Add(p.interval)
		q.tree.ReplaceOrInsert(p)
	}
	q.unanchored = nil

	fired := 0
	for {
		p, ok := q.tree.Min()
		if !ok || p.due.After(now) {
			return fired, nil
		}
		q.tree.DeleteMin()

		err := run(ctx, p, now)
		fired++

		if !p.cancelled {
			missed := now.Sub(p.due) / p.interval
			p.due = p.due.Add((missed + 1) * p.interval)
			q.tree.ReplaceOrInsert(p)
		}

		if err != nil {
			return fired, err
		}
	}
}

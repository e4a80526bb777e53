package queue

import "slices"

// Queue is the ordered, append-only log of pending operations. Values
// are immutable: every method that changes the queue returns a new one,
// so a queue held by an earlier board state never changes underneath it.
type Queue []Operation

// Append returns the queue with op added at the tail.
func (q Queue) Append(op Operation) Queue {
	out := make(Queue, len(q), len(q)+1)
	copy(out, q)

	return append(out, op)
}

// Remove returns the queue without the operation with the given id.
// Removal is by id, not position: conflict resolution may finish an
// operation that is no longer at the head.
func (q Queue) Remove(id string) Queue {
	out := make(Queue, 0, len(q))
	for _, op := range q {
		if op.ID != id {
			out = append(out, op)
		}
	}

	return out
}

// Head returns the oldest pending operation.
func (q Queue) Head() (Operation, bool) {
	if len(q) == 0 {
		return Operation{}, false
	}

	return q[0], true
}

// Len returns the number of pending operations.
func (q Queue) Len() int { return len(q) }

// Items returns a copy of the operations in replay order.
func (q Queue) Items() []Operation { return slices.Clone([]Operation(q)) }

// Rebase shifts the version assumptions of every operation after the
// given op id that targets kind/id. Used when the server acknowledges a
// create with a version different from the local one.
func (q Queue) Rebase(afterOpID, kind, id string, delta int64) Queue {
	out := make(Queue, len(q))
	copy(out, q)

	seen := afterOpID == ""
	for i, op := range out {
		if !seen {
			seen = op.ID == afterOpID
			continue
		}

		if rebased, ok := Rebase(op, kind, id, delta); ok {
			out[i] = rebased
		}
	}

	return out
}

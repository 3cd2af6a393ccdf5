package call

import "campus_call/native/internal/domain"

// candidateQueue holds remote candidates received before the remote
// description is set, in arrival order.
type candidateQueue struct {
	items []domain.Candidate
}

func (q *candidateQueue) push(c domain.Candidate) {
	q.items = append(q.items, c)
}

func (q *candidateQueue) len() int {
	return len(q.items)
}

// drain empties the queue and returns its contents in arrival order.
func (q *candidateQueue) drain() []domain.Candidate {
	items := q.items
	q.items = nil
	return items
}

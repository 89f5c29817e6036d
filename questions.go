package main

import (
	"sort"
	"time"
)

// List ordering modes.
const (
	OrderInsertion = "insertion"
	OrderUpvotes   = "upvotes"
)

// QuestionLedger holds every room's questions in insertion order. Mutating
// operations signal a missing room or question by returning ok == false,
// never by panicking; callers check before broadcasting.
//
// Upvotes are deduplicated per user: each user counts at most once per
// question, tracked as an upvoter set like poll option voter sets.
//
// Access is serialized by the gateway's coordinator lock.
type QuestionLedger struct {
	byRoom map[string][]*Question
	order  string
	now    func() time.Time
}

func NewQuestionLedger(order string) *QuestionLedger {
	if order != OrderUpvotes {
		order = OrderInsertion
	}
	return &QuestionLedger{
		byRoom: make(map[string][]*Question),
		order:  order,
		now:    time.Now,
	}
}

// Add appends the question to its room, assigning the server timestamp if the
// caller left it zero. Returns a detached snapshot safe to broadcast.
func (l *QuestionLedger) Add(q *Question) Question {
	if q.CreatedAt.IsZero() {
		q.CreatedAt = l.now()
	}
	if q.upvoters == nil {
		q.upvoters = make(map[string]bool)
	}
	l.byRoom[q.RoomID] = append(l.byRoom[q.RoomID], q)
	return snapshotQuestion(q)
}

// List returns a snapshot of the room's questions in the configured order.
// Unknown rooms yield an empty list.
func (l *QuestionLedger) List(roomID string) []Question {
	stored := l.byRoom[roomID]
	out := make([]Question, 0, len(stored))
	for _, q := range stored {
		out = append(out, snapshotQuestion(q))
	}
	if l.order == OrderUpvotes {
		sort.SliceStable(out, func(i, j int) bool {
			return out[i].Upvotes > out[j].Upvotes
		})
	}
	return out
}

func (l *QuestionLedger) find(roomID, questionID string) *Question {
	for _, q := range l.byRoom[roomID] {
		if q.ID == questionID {
			return q
		}
	}
	return nil
}

func (l *QuestionLedger) SetAnswer(roomID, questionID, answer string) (Question, bool) {
	q := l.find(roomID, questionID)
	if q == nil {
		return Question{}, false
	}
	q.Answer = answer
	q.IsAnswered = true
	return snapshotQuestion(q), true
}

// Upvote records userID's upvote. counted is false when the user already
// upvoted this question; the state is unchanged in that case.
func (l *QuestionLedger) Upvote(roomID, questionID, userID string) (q Question, found, counted bool) {
	stored := l.find(roomID, questionID)
	if stored == nil {
		return Question{}, false, false
	}
	if stored.upvoters[userID] {
		return snapshotQuestion(stored), true, false
	}
	stored.upvoters[userID] = true
	stored.Upvotes = len(stored.upvoters)
	return snapshotQuestion(stored), true, true
}

func (l *QuestionLedger) ToggleAnswered(roomID, questionID string) (Question, bool) {
	q := l.find(roomID, questionID)
	if q == nil {
		return Question{}, false
	}
	q.IsAnswered = !q.IsAnswered
	return snapshotQuestion(q), true
}

func (l *QuestionLedger) ToggleHidden(roomID, questionID string) (Question, bool) {
	q := l.find(roomID, questionID)
	if q == nil {
		return Question{}, false
	}
	q.IsHidden = !q.IsHidden
	return snapshotQuestion(q), true
}

func (l *QuestionLedger) Delete(roomID, questionID string) bool {
	stored := l.byRoom[roomID]
	for i, q := range stored {
		if q.ID == questionID {
			l.byRoom[roomID] = append(stored[:i], stored[i+1:]...)
			return true
		}
	}
	return false
}

func (l *QuestionLedger) Count(roomID string) int {
	return len(l.byRoom[roomID])
}

func snapshotQuestion(q *Question) Question {
	copy := *q
	copy.upvoters = nil
	return copy
}

package main

import (
	"testing"
	"time"
)

func newTestLedger(order string) *QuestionLedger {
	l := NewQuestionLedger(order)
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return base }
	return l
}

func TestLedgerAddAssignsTimestamp(t *testing.T) {
	l := newTestLedger(OrderInsertion)

	q := l.Add(&Question{ID: "q1", RoomID: "r1", UserID: "u1", Question: "What time does this start?"})
	if q.CreatedAt.IsZero() {
		t.Fatalf("Add should assign a server timestamp")
	}
	if l.Count("r1") != 1 {
		t.Fatalf("expected one question in r1")
	}
}

func TestLedgerListInsertionOrder(t *testing.T) {
	l := newTestLedger(OrderInsertion)
	l.Add(&Question{ID: "q1", RoomID: "r1", Question: "first one"})
	l.Add(&Question{ID: "q2", RoomID: "r1", Question: "second one"})

	list := l.List("r1")
	if len(list) != 2 || list[0].ID != "q1" || list[1].ID != "q2" {
		t.Fatalf("expected insertion order, got %+v", list)
	}

	if got := l.List("missing"); len(got) != 0 {
		t.Fatalf("unknown room should list empty, got %+v", got)
	}
}

func TestLedgerListUpvoteOrder(t *testing.T) {
	l := newTestLedger(OrderUpvotes)
	l.Add(&Question{ID: "q1", RoomID: "r1", Question: "first one"})
	l.Add(&Question{ID: "q2", RoomID: "r1", Question: "second one"})

	l.Upvote("r1", "q2", "u1")
	l.Upvote("r1", "q2", "u2")
	l.Upvote("r1", "q1", "u1")

	list := l.List("r1")
	if list[0].ID != "q2" || list[1].ID != "q1" {
		t.Fatalf("expected q2 first by upvotes, got %+v", list)
	}
}

func TestLedgerUpvoteDedup(t *testing.T) {
	l := newTestLedger(OrderInsertion)
	l.Add(&Question{ID: "q1", RoomID: "r1", Question: "first one"})

	q, found, counted := l.Upvote("r1", "q1", "u1")
	if !found || !counted || q.Upvotes != 1 {
		t.Fatalf("first upvote should count, got %+v counted=%v", q, counted)
	}

	q, found, counted = l.Upvote("r1", "q1", "u1")
	if !found || counted || q.Upvotes != 1 {
		t.Fatalf("repeat upvote from same user must not count, got %+v counted=%v", q, counted)
	}

	q, _, counted = l.Upvote("r1", "q1", "u2")
	if !counted || q.Upvotes != 2 {
		t.Fatalf("different user should count, got %+v", q)
	}
}

func TestLedgerSetAnswer(t *testing.T) {
	l := newTestLedger(OrderInsertion)
	l.Add(&Question{ID: "q1", RoomID: "r1", Question: "first one"})

	q, found := l.SetAnswer("r1", "q1", "At nine.")
	if !found || q.Answer != "At nine." || !q.IsAnswered {
		t.Fatalf("answer not recorded: %+v", q)
	}

	if _, found := l.SetAnswer("r1", "missing", "x"); found {
		t.Fatalf("missing question should report not found")
	}
	if _, found := l.SetAnswer("missing", "q1", "x"); found {
		t.Fatalf("missing room should report not found")
	}
}

func TestLedgerToggles(t *testing.T) {
	l := newTestLedger(OrderInsertion)
	l.Add(&Question{ID: "q1", RoomID: "r1", Question: "first one"})

	q, _ := l.ToggleAnswered("r1", "q1")
	if !q.IsAnswered {
		t.Fatalf("toggle should flip isAnswered")
	}
	q, _ = l.ToggleAnswered("r1", "q1")
	if q.IsAnswered {
		t.Fatalf("toggle should flip back")
	}

	q, _ = l.ToggleHidden("r1", "q1")
	if !q.IsHidden {
		t.Fatalf("toggle should flip isHidden")
	}

	if _, found := l.ToggleAnswered("r1", "missing"); found {
		t.Fatalf("missing question should report not found")
	}
}

func TestLedgerDelete(t *testing.T) {
	l := newTestLedger(OrderInsertion)
	l.Add(&Question{ID: "q1", RoomID: "r1", Question: "first one"})
	l.Add(&Question{ID: "q2", RoomID: "r1", Question: "second one"})

	if !l.Delete("r1", "q1") {
		t.Fatalf("delete should succeed")
	}
	if l.Delete("r1", "q1") {
		t.Fatalf("deleting twice should report not found")
	}
	if l.Count("r1") != 1 {
		t.Fatalf("one question should remain")
	}
	if l.Delete("missing", "q2") {
		t.Fatalf("missing room should report not found")
	}
}

func TestLedgerSnapshotsAreDetached(t *testing.T) {
	l := newTestLedger(OrderInsertion)
	l.Add(&Question{ID: "q1", RoomID: "r1", Question: "first one"})

	list := l.List("r1")
	list[0].Question = "mutated"

	if fresh := l.List("r1"); fresh[0].Question != "first one" {
		t.Fatalf("ledger state leaked through a snapshot")
	}
}

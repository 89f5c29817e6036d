package main

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	minPollOptions = 2
	maxPollOptions = 10

	pollNameMaxLen     = 100
	pollQuestionMaxLen = 500
	optionTextMaxLen   = 100
)

var (
	ErrPollNotFound   = errors.New("poll not found")
	ErrOptionNotFound = errors.New("option not found")
	ErrPollClosed     = errors.New("poll is closed")
)

// pollScheduler owns the auto-close timers, one per poll. Cancelling an
// already-fired timer is a safe no-op; the engine's status check under the
// coordinator lock guarantees at-most-once close even when a manual close
// races the timer callback.
type pollScheduler struct {
	timers map[string]*time.Timer
}

func newPollScheduler() *pollScheduler {
	return &pollScheduler{timers: make(map[string]*time.Timer)}
}

func (s *pollScheduler) schedule(pollID string, delay time.Duration, fn func()) {
	s.cancel(pollID)
	s.timers[pollID] = time.AfterFunc(delay, fn)
}

func (s *pollScheduler) cancel(pollID string) {
	if t, ok := s.timers[pollID]; ok {
		t.Stop()
		delete(s.timers, pollID)
	}
}

// PollEngine holds every room's polls and their lifecycle: a poll is active
// from creation until its timer expires or it is closed explicitly, and
// closed is terminal. Each user holds at most one vote per poll.
//
// Access is serialized by the gateway's coordinator lock; timer callbacks
// re-enter through onExpire, which must take that lock before calling Close.
type PollEngine struct {
	byRoom    map[string]map[string]*Poll
	duration  time.Duration
	scheduler *pollScheduler
	onExpire  func(roomID, pollID string)
	now       func() time.Time
}

func NewPollEngine(duration time.Duration, onExpire func(roomID, pollID string)) *PollEngine {
	return &PollEngine{
		byRoom:    make(map[string]map[string]*Poll),
		duration:  duration,
		scheduler: newPollScheduler(),
		onExpire:  onExpire,
		now:       time.Now,
	}
}

// Create validates and stores a new active poll and schedules its auto-close.
func (e *PollEngine) Create(roomID, creatorID, name, question string, options []string) (Poll, error) {
	name = strings.TrimSpace(name)
	question = strings.TrimSpace(question)
	if name == "" {
		return Poll{}, errors.New("poll name is required")
	}
	if question == "" {
		return Poll{}, errors.New("poll question is required")
	}

	if len(options) < minPollOptions || len(options) > maxPollOptions {
		return Poll{}, fmt.Errorf("polls need between %d and %d options", minPollOptions, maxPollOptions)
	}

	opts := make([]PollOption, 0, len(options))
	for _, text := range options {
		text = strings.TrimSpace(text)
		if text == "" {
			return Poll{}, errors.New("poll options cannot be empty")
		}
		opts = append(opts, PollOption{
			ID:     uuid.NewString(),
			Text:   capLen(text, optionTextMaxLen),
			Voters: []string{},
		})
	}

	now := e.now()
	poll := &Poll{
		ID:        uuid.NewString(),
		RoomID:    roomID,
		Name:      capLen(name, pollNameMaxLen),
		Question:  capLen(question, pollQuestionMaxLen),
		Status:    PollActive,
		CreatedBy: creatorID,
		CreatedAt: now,
		ExpiresAt: now.Add(e.duration),
		Options:   opts,
	}

	polls, ok := e.byRoom[roomID]
	if !ok {
		polls = make(map[string]*Poll)
		e.byRoom[roomID] = polls
	}
	polls[poll.ID] = poll

	if e.onExpire != nil {
		pollID := poll.ID
		e.scheduler.schedule(pollID, e.duration, func() {
			e.onExpire(roomID, pollID)
		})
	}

	return snapshotPoll(poll), nil
}

func (e *PollEngine) find(roomID, pollID string) *Poll {
	return e.byRoom[roomID][pollID]
}

// Get returns a snapshot, used for authorization checks before Close.
func (e *PollEngine) Get(roomID, pollID string) (Poll, bool) {
	poll := e.find(roomID, pollID)
	if poll == nil {
		return Poll{}, false
	}
	return snapshotPoll(poll), true
}

// Vote records userID's vote for the given option. Any prior vote on another
// option of the same poll is removed first: last vote wins. Re-voting the
// same option is idempotent. changed reports whether a prior vote on a
// different option was replaced.
func (e *PollEngine) Vote(roomID, pollID, optionID, userID string) (Poll, bool, error) {
	poll := e.find(roomID, pollID)
	if poll == nil {
		return Poll{}, false, ErrPollNotFound
	}
	if poll.Status != PollActive {
		return Poll{}, false, ErrPollClosed
	}

	target := -1
	for i := range poll.Options {
		if poll.Options[i].ID == optionID {
			target = i
			break
		}
	}
	if target < 0 {
		return Poll{}, false, ErrOptionNotFound
	}

	changed := false
	already := false
	for i := range poll.Options {
		opt := &poll.Options[i]
		for j, voter := range opt.Voters {
			if voter != userID {
				continue
			}
			if i == target {
				already = true
				break
			}
			opt.Voters = append(opt.Voters[:j], opt.Voters[j+1:]...)
			changed = true
			break
		}
	}
	if !already {
		poll.Options[target].Voters = append(poll.Options[target].Voters, userID)
	}

	return snapshotPoll(poll), changed, nil
}

// Close transitions the poll to closed and cancels its timer. Closing an
// already-closed poll is idempotent: didClose is false and no error is
// returned, so callers broadcast at most once.
func (e *PollEngine) Close(roomID, pollID string) (Poll, bool, error) {
	poll := e.find(roomID, pollID)
	if poll == nil {
		return Poll{}, false, ErrPollNotFound
	}
	if poll.Status == PollClosed {
		return snapshotPoll(poll), false, nil
	}

	e.scheduler.cancel(pollID)
	poll.Status = PollClosed
	closedAt := e.now()
	poll.ClosedAt = &closedAt

	return snapshotPoll(poll), true, nil
}

// ListActive returns the room's active polls, oldest first. Expiry is checked
// against the clock as well as the status flag, in case a timer has not fired
// yet for a poll that is already past its deadline.
func (e *PollEngine) ListActive(roomID string) []Poll {
	now := e.now()
	out := []Poll{}
	for _, poll := range e.byRoom[roomID] {
		if poll.Status != PollActive || !now.Before(poll.ExpiresAt) {
			continue
		}
		out = append(out, snapshotPoll(poll))
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func snapshotPoll(p *Poll) Poll {
	out := *p
	out.Options = make([]PollOption, len(p.Options))
	for i, opt := range p.Options {
		out.Options[i] = opt
		out.Options[i].Voters = append([]string{}, opt.Voters...)
	}
	if p.ClosedAt != nil {
		closedAt := *p.ClosedAt
		out.ClosedAt = &closedAt
	}
	return out
}

package main

import (
	"math"
	"time"
)

// Action classes tracked independently per user.
const (
	actionQuestion = "question"
	actionPoll     = "poll"
	actionVote     = "vote"
)

// RateLimiter enforces a per-user cooldown between noisy actions. It keeps one
// last-action timestamp per user per action class. Not safe for concurrent use
// on its own; the gateway serializes all access under its coordinator lock so
// that check-then-record cannot interleave.
type RateLimiter struct {
	last map[string]map[string]time.Time
	now  func() time.Time
}

func NewRateLimiter() *RateLimiter {
	return &RateLimiter{
		last: make(map[string]map[string]time.Time),
		now:  time.Now,
	}
}

// Check reports whether userID may perform an action of the given class, and
// if not, how long until it may.
func (rl *RateLimiter) Check(userID, action string, window time.Duration) (bool, time.Duration) {
	if window <= 0 {
		return true, 0
	}
	users, ok := rl.last[action]
	if !ok {
		return true, 0
	}
	lastAt, ok := users[userID]
	if !ok {
		return true, 0
	}
	elapsed := rl.now().Sub(lastAt)
	if elapsed >= window {
		return true, 0
	}
	return false, window - elapsed
}

// Record must be called before the rate-limited action's side effects begin.
func (rl *RateLimiter) Record(userID, action string) {
	users, ok := rl.last[action]
	if !ok {
		users = make(map[string]time.Time)
		rl.last[action] = users
	}
	users[userID] = rl.now()
}

// Purge drops all entries for a user. Called when the user's last connection
// disconnects.
func (rl *RateLimiter) Purge(userID string) {
	for action, users := range rl.last {
		delete(users, userID)
		if len(users) == 0 {
			delete(rl.last, action)
		}
	}
}

// remainingSeconds rounds up so clients never retry a hair too early.
func remainingSeconds(d time.Duration) int {
	return int(math.Ceil(d.Seconds()))
}

package main

import (
	"encoding/json"
	"time"
)

type Moderator struct {
	ID           int       `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"createdAt"`
}

type Room struct {
	ID          string    `json:"id"`
	Slug        string    `json:"slug"`
	Title       string    `json:"title"`
	ModeratorID int       `json:"moderatorId"`
	CreatedAt   time.Time `json:"createdAt"`
}

type Question struct {
	ID         string    `json:"id"`
	RoomID     string    `json:"roomId"`
	UserID     string    `json:"userId"`
	Username   string    `json:"username"`
	Question   string    `json:"question"`
	Answer     string    `json:"answer,omitempty"`
	IsAnswered bool      `json:"isAnswered"`
	IsHidden   bool      `json:"isHidden"`
	Upvotes    int       `json:"upvotes"`
	CreatedAt  time.Time `json:"createdAt"`

	upvoters map[string]bool
}

const (
	PollActive = "active"
	PollClosed = "closed"
)

type Poll struct {
	ID        string       `json:"id"`
	RoomID    string       `json:"roomId"`
	Name      string       `json:"name"`
	Question  string       `json:"question"`
	Status    string       `json:"status"`
	CreatedBy string       `json:"createdBy"`
	CreatedAt time.Time    `json:"createdAt"`
	ExpiresAt time.Time    `json:"expiresAt"`
	ClosedAt  *time.Time   `json:"closedAt,omitempty"`
	Options   []PollOption `json:"options"`
}

type PollOption struct {
	ID     string   `json:"id"`
	Text   string   `json:"text"`
	Voters []string `json:"voters"`
}

const (
	RoleModerator = "moderator"
	RoleUser      = "user"
)

// WebSocket envelope. Inbound payloads stay raw until the event type is known.
type wsEnvelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type WSMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// Inbound event names.
const (
	evtJoinRoom       = "joinRoom"
	evtAskQuestion    = "askQuestion"
	evtReplyQuestion  = "replyToQuestion"
	evtUpvoteQuestion = "upvoteQuestion"
	evtToggleAnswered = "toggleAnswered"
	evtToggleHidden   = "toggleHidden"
	evtDeleteQuestion = "deleteQuestion"
	evtGetQuestions   = "getQuestions"
	evtCreatePoll     = "createPoll"
	evtVotePoll       = "votePoll"
	evtGetActivePolls = "getActivePolls"
	evtClosePoll      = "closePoll"
)

// Outbound event names.
const (
	evtJoinedRoom      = "joinedRoom"
	evtUserJoined      = "userJoined"
	evtUserLeft        = "userLeft"
	evtNewQuestion     = "newQuestion"
	evtQuestionReplied = "questionReplied"
	evtQuestionUpdated = "questionUpdated"
	evtQuestionDeleted = "questionDeleted"
	evtQuestionsList   = "questionsList"
	evtNewPoll         = "newPoll"
	evtPollVoteAdded   = "pollVoteAdded"
	evtVoteConfirmed   = "voteConfirmed"
	evtActivePollsList = "activePollsList"
	evtPollClosed      = "pollClosed"
	evtJoinRoomError   = "joinRoomError"
	evtQuestionError   = "questionError"
	evtPollError       = "pollError"
	evtRateLimitError  = "rateLimitError"
)

type JoinRoomData struct {
	Token    string `json:"token,omitempty"`
	RoomID   string `json:"roomId,omitempty"`
	UserID   string `json:"userId,omitempty"`
	Username string `json:"username,omitempty"`
}

type AskQuestionData struct {
	RoomID   string `json:"roomId"`
	Question string `json:"question"`
}

type ReplyQuestionData struct {
	RoomID     string `json:"roomId"`
	QuestionID string `json:"questionId"`
	Content    string `json:"content"`
}

type QuestionRefData struct {
	RoomID     string `json:"roomId"`
	QuestionID string `json:"questionId"`
}

type RoomRefData struct {
	RoomID string `json:"roomId"`
}

type CreatePollData struct {
	RoomID   string   `json:"roomId"`
	Name     string   `json:"name"`
	Question string   `json:"question"`
	Options  []string `json:"options"`
}

type VotePollData struct {
	RoomID   string `json:"roomId"`
	PollID   string `json:"pollId"`
	OptionID string `json:"optionId"`
}

type PollRefData struct {
	RoomID string `json:"roomId"`
	PollID string `json:"pollId"`
}

type ErrorData struct {
	Message       string `json:"message"`
	RemainingTime int    `json:"remainingTime,omitempty"`
}

type PresenceData struct {
	UserID   string `json:"userId"`
	Username string `json:"username,omitempty"`
	Role     string `json:"role,omitempty"`
}

type VoteConfirmedData struct {
	PollID   string `json:"pollId"`
	OptionID string `json:"optionId"`
	Changed  bool   `json:"changed"`
}

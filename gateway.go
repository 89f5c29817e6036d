package main

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	questionMinLen = 5
	questionMaxLen = 500
	answerMaxLen   = 1000
	usernameMaxLen = 50
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for development
	},
}

// Gateway owns every live connection and all room coordination state. Each
// inbound event is validated (membership, payload shape, rate limit),
// delegated to the question ledger or poll engine, and the result broadcast
// to the room — all under one lock, so events for the same room never
// interleave mid-mutation and broadcasts leave in mutation order.
type Gateway struct {
	tokens *TokenManager
	cfg    Config

	mu          sync.Mutex
	clients     map[*wsClient]bool
	roomClients map[string]map[*wsClient]bool
	registry    *Registry
	questions   *QuestionLedger
	polls       *PollEngine
	limiter     *RateLimiter

	// canModerate gates reply/toggle/delete/close. Injected so the policy
	// lives in one place instead of scattered conditionals.
	canModerate func(rec *memberRecord) bool
}

type wsClient struct {
	id       string
	conn     *websocket.Conn
	send     chan []byte
	gateway  *Gateway
	lastPing time.Time
}

func NewGateway(tokens *TokenManager, cfg Config) *Gateway {
	g := &Gateway{
		tokens:      tokens,
		cfg:         cfg,
		clients:     make(map[*wsClient]bool),
		roomClients: make(map[string]map[*wsClient]bool),
		registry:    NewRegistry(),
		questions:   NewQuestionLedger(cfg.QuestionOrder),
		limiter:     NewRateLimiter(),
		canModerate: func(rec *memberRecord) bool {
			return rec.Role == RoleModerator
		},
	}
	g.polls = NewPollEngine(cfg.PollDuration, g.expirePoll)

	go g.healthLoop()
	return g
}

func (g *Gateway) healthLoop() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for range ticker.C {
		g.mu.Lock()
		for client := range g.clients {
			if time.Since(client.lastPing) > 60*time.Second {
				client.conn.Close()
			}
		}
		g.mu.Unlock()
	}
}

func (g *Gateway) HandleConnection(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	client := &wsClient{
		id:       uuid.NewString(),
		conn:     conn,
		send:     make(chan []byte, 256),
		gateway:  g,
		lastPing: time.Now(),
	}

	g.mu.Lock()
	g.clients[client] = true
	g.mu.Unlock()
	log.Printf("Connection opened: %s", client.id)

	go client.writePump()
	go client.readPump()
}

// touch marks the connection alive. lastPing is read by healthLoop under the
// gateway lock, so the write from the read pump takes it too.
func (c *wsClient) touch() {
	c.gateway.mu.Lock()
	c.lastPing = time.Now()
	c.gateway.mu.Unlock()
}

func (c *wsClient) readPump() {
	defer func() {
		c.gateway.removeClient(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.touch()
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, messageBytes, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error: %v", err)
			}
			break
		}

		var env wsEnvelope
		if err := json.Unmarshal(messageBytes, &env); err != nil {
			log.Printf("Invalid JSON from %s: %v", c.id, err)
			continue
		}

		c.gateway.dispatch(c, env)
	}
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			c.conn.WriteMessage(websocket.TextMessage, message)

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// dispatch routes one inbound event. A panic in any handler is contained
// here: logged, converted to a sender-scoped error, never allowed to take
// down the process or another room.
func (g *Gateway) dispatch(c *wsClient, env wsEnvelope) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Panic handling %s from %s: %v", env.Type, c.id, r)
			g.mu.Lock()
			g.sendError(c, errorEventFor(env.Type), "internal error", 0)
			g.mu.Unlock()
		}
	}()

	switch env.Type {
	case evtJoinRoom:
		g.handleJoinRoom(c, env.Data)
	case evtAskQuestion:
		g.handleAskQuestion(c, env.Data)
	case evtReplyQuestion:
		g.handleReplyToQuestion(c, env.Data)
	case evtUpvoteQuestion:
		g.handleUpvoteQuestion(c, env.Data)
	case evtToggleAnswered:
		g.handleToggleAnswered(c, env.Data)
	case evtToggleHidden:
		g.handleToggleHidden(c, env.Data)
	case evtDeleteQuestion:
		g.handleDeleteQuestion(c, env.Data)
	case evtGetQuestions:
		g.handleGetQuestions(c, env.Data)
	case evtCreatePoll:
		g.handleCreatePoll(c, env.Data)
	case evtVotePoll:
		g.handleVotePoll(c, env.Data)
	case evtGetActivePolls:
		g.handleGetActivePolls(c, env.Data)
	case evtClosePoll:
		g.handleClosePoll(c, env.Data)
	default:
		log.Printf("Unknown event type: %s", env.Type)
	}
}

func (g *Gateway) handleJoinRoom(c *wsClient, data json.RawMessage) {
	var req JoinRoomData
	if err := json.Unmarshal(data, &req); err != nil {
		g.senderError(c, evtJoinRoomError, "invalid joinRoom payload")
		return
	}

	var roomID, userID, username, role string
	if req.Token != "" {
		claims, err := g.tokens.Verify(req.Token)
		if err != nil {
			g.senderError(c, evtJoinRoomError, "invalid or expired join token")
			return
		}
		roomID, userID, username, role = claims.RoomID, claims.UserID, claims.Username, claims.Role
	} else {
		// Anonymous join path: the room id is trusted (slug lookup happened
		// at the HTTP join endpoint) but the role never is.
		roomID = strings.TrimSpace(req.RoomID)
		userID = strings.TrimSpace(req.UserID)
		username = req.Username
		role = RoleUser
		if userID == "" {
			userID = uuid.NewString()
		}
	}

	if roomID == "" {
		g.senderError(c, evtJoinRoomError, "room id is required")
		return
	}
	if role != RoleModerator {
		role = RoleUser
	}
	username = capLen(strings.TrimSpace(username), usernameMaxLen)
	if username == "" {
		username = "anonymous"
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	prev, prevLast := g.registry.Join(c.id, roomID, userID, username, role)
	if prev != nil && prev.RoomID != roomID {
		if room, ok := g.roomClients[prev.RoomID]; ok {
			delete(room, c)
			if len(room) == 0 {
				delete(g.roomClients, prev.RoomID)
			}
		}
		if prevLast {
			g.broadcast(prev.RoomID, evtUserLeft, PresenceData{UserID: prev.UserID})
		}
	}

	room, ok := g.roomClients[roomID]
	if !ok {
		room = make(map[*wsClient]bool)
		g.roomClients[roomID] = room
	}
	room[c] = true

	g.broadcastExcept(roomID, c, evtUserJoined, PresenceData{UserID: userID, Username: username, Role: role})

	g.sendTo(c, evtJoinedRoom, map[string]interface{}{
		"userId":   userID,
		"username": username,
		"roomId":   roomID,
		"role":     role,
	})
	// Courtesy snapshot so a fresh join sees ongoing polls immediately.
	g.sendTo(c, evtActivePollsList, map[string]interface{}{
		"roomId": roomID,
		"polls":  g.polls.ListActive(roomID),
	})

	log.Printf("User %s joined room %s as %s", userID, roomID, role)
}

func (g *Gateway) handleAskQuestion(c *wsClient, data json.RawMessage) {
	var req AskQuestionData
	if err := json.Unmarshal(data, &req); err != nil {
		g.senderError(c, evtQuestionError, "invalid askQuestion payload")
		return
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	rec := g.member(c, req.RoomID, evtQuestionError)
	if rec == nil {
		return
	}

	if ok, remaining := g.limiter.Check(rec.UserID, actionQuestion, g.cfg.QuestionCooldown); !ok {
		g.sendError(c, evtRateLimitError, "you are asking questions too fast", remainingSeconds(remaining))
		return
	}

	text := strings.TrimSpace(req.Question)
	if utf8.RuneCountInString(text) < questionMinLen {
		g.sendError(c, evtQuestionError, "question must be at least 5 characters", 0)
		return
	}
	text = capLen(text, questionMaxLen)

	g.limiter.Record(rec.UserID, actionQuestion)

	snap := g.questions.Add(&Question{
		ID:       uuid.NewString(),
		RoomID:   req.RoomID,
		UserID:   rec.UserID,
		Username: rec.Username,
		Question: text,
	})
	g.broadcast(req.RoomID, evtNewQuestion, snap)
}

func (g *Gateway) handleReplyToQuestion(c *wsClient, data json.RawMessage) {
	var req ReplyQuestionData
	if err := json.Unmarshal(data, &req); err != nil {
		g.senderError(c, evtQuestionError, "invalid replyToQuestion payload")
		return
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	rec := g.moderator(c, req.RoomID, evtQuestionError)
	if rec == nil {
		return
	}

	content := strings.TrimSpace(req.Content)
	if content == "" {
		g.sendError(c, evtQuestionError, "reply content is required", 0)
		return
	}

	snap, found := g.questions.SetAnswer(req.RoomID, req.QuestionID, capLen(content, answerMaxLen))
	if !found {
		g.sendError(c, evtQuestionError, "question not found", 0)
		return
	}
	g.broadcast(req.RoomID, evtQuestionReplied, snap)
}

func (g *Gateway) handleUpvoteQuestion(c *wsClient, data json.RawMessage) {
	var req QuestionRefData
	if err := json.Unmarshal(data, &req); err != nil {
		g.senderError(c, evtQuestionError, "invalid upvoteQuestion payload")
		return
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	rec := g.member(c, req.RoomID, evtQuestionError)
	if rec == nil {
		return
	}

	snap, found, counted := g.questions.Upvote(req.RoomID, req.QuestionID, rec.UserID)
	if !found {
		g.sendError(c, evtQuestionError, "question not found", 0)
		return
	}
	if !counted {
		// Repeat upvote from the same user: current state back to the
		// sender only, nothing changed for the room.
		g.sendTo(c, evtQuestionUpdated, snap)
		return
	}
	g.broadcast(req.RoomID, evtQuestionUpdated, snap)
}

func (g *Gateway) handleToggleAnswered(c *wsClient, data json.RawMessage) {
	g.handleToggle(c, data, "toggleAnswered", g.questions.ToggleAnswered)
}

func (g *Gateway) handleToggleHidden(c *wsClient, data json.RawMessage) {
	g.handleToggle(c, data, "toggleHidden", g.questions.ToggleHidden)
}

func (g *Gateway) handleToggle(c *wsClient, data json.RawMessage, name string, toggle func(string, string) (Question, bool)) {
	var req QuestionRefData
	if err := json.Unmarshal(data, &req); err != nil {
		g.senderError(c, evtQuestionError, "invalid "+name+" payload")
		return
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	rec := g.moderator(c, req.RoomID, evtQuestionError)
	if rec == nil {
		return
	}

	snap, found := toggle(req.RoomID, req.QuestionID)
	if !found {
		g.sendError(c, evtQuestionError, "question not found", 0)
		return
	}
	g.broadcast(req.RoomID, evtQuestionUpdated, snap)
}

func (g *Gateway) handleDeleteQuestion(c *wsClient, data json.RawMessage) {
	var req QuestionRefData
	if err := json.Unmarshal(data, &req); err != nil {
		g.senderError(c, evtQuestionError, "invalid deleteQuestion payload")
		return
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	rec := g.moderator(c, req.RoomID, evtQuestionError)
	if rec == nil {
		return
	}

	if !g.questions.Delete(req.RoomID, req.QuestionID) {
		g.sendError(c, evtQuestionError, "question not found", 0)
		return
	}
	g.broadcast(req.RoomID, evtQuestionDeleted, map[string]string{
		"roomId":     req.RoomID,
		"questionId": req.QuestionID,
	})
}

func (g *Gateway) handleGetQuestions(c *wsClient, data json.RawMessage) {
	var req RoomRefData
	if err := json.Unmarshal(data, &req); err != nil {
		g.senderError(c, evtQuestionError, "invalid getQuestions payload")
		return
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if rec := g.member(c, req.RoomID, evtQuestionError); rec == nil {
		return
	}

	g.sendTo(c, evtQuestionsList, map[string]interface{}{
		"roomId":    req.RoomID,
		"questions": g.questions.List(req.RoomID),
	})
}

func (g *Gateway) handleCreatePoll(c *wsClient, data json.RawMessage) {
	var req CreatePollData
	if err := json.Unmarshal(data, &req); err != nil {
		g.senderError(c, evtPollError, "invalid createPoll payload")
		return
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	rec := g.member(c, req.RoomID, evtPollError)
	if rec == nil {
		return
	}

	if ok, remaining := g.limiter.Check(rec.UserID, actionPoll, g.cfg.PollCooldown); !ok {
		g.sendError(c, evtRateLimitError, "you are creating polls too fast", remainingSeconds(remaining))
		return
	}

	poll, err := g.polls.Create(req.RoomID, rec.UserID, req.Name, req.Question, req.Options)
	if err != nil {
		g.sendError(c, evtPollError, err.Error(), 0)
		return
	}
	// Rejected creates do not burn the cooldown.
	g.limiter.Record(rec.UserID, actionPoll)
	g.broadcast(req.RoomID, evtNewPoll, poll)
	log.Printf("Poll %s created in room %s by %s", poll.ID, req.RoomID, rec.UserID)
}

func (g *Gateway) handleVotePoll(c *wsClient, data json.RawMessage) {
	var req VotePollData
	if err := json.Unmarshal(data, &req); err != nil {
		g.senderError(c, evtPollError, "invalid votePoll payload")
		return
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	rec := g.member(c, req.RoomID, evtPollError)
	if rec == nil {
		return
	}

	if ok, remaining := g.limiter.Check(rec.UserID, actionVote, g.cfg.VoteCooldown); !ok {
		g.sendError(c, evtRateLimitError, "you are voting too fast", remainingSeconds(remaining))
		return
	}

	poll, changed, err := g.polls.Vote(req.RoomID, req.PollID, req.OptionID, rec.UserID)
	if err != nil {
		g.sendError(c, evtPollError, err.Error(), 0)
		return
	}
	g.limiter.Record(rec.UserID, actionVote)

	g.broadcast(req.RoomID, evtPollVoteAdded, poll)
	g.sendTo(c, evtVoteConfirmed, VoteConfirmedData{
		PollID:   req.PollID,
		OptionID: req.OptionID,
		Changed:  changed,
	})
}

func (g *Gateway) handleGetActivePolls(c *wsClient, data json.RawMessage) {
	var req RoomRefData
	if err := json.Unmarshal(data, &req); err != nil {
		g.senderError(c, evtPollError, "invalid getActivePolls payload")
		return
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if rec := g.member(c, req.RoomID, evtPollError); rec == nil {
		return
	}

	g.sendTo(c, evtActivePollsList, map[string]interface{}{
		"roomId": req.RoomID,
		"polls":  g.polls.ListActive(req.RoomID),
	})
}

func (g *Gateway) handleClosePoll(c *wsClient, data json.RawMessage) {
	var req PollRefData
	if err := json.Unmarshal(data, &req); err != nil {
		g.senderError(c, evtPollError, "invalid closePoll payload")
		return
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	rec := g.member(c, req.RoomID, evtPollError)
	if rec == nil {
		return
	}

	poll, found := g.polls.Get(req.RoomID, req.PollID)
	if !found {
		g.sendError(c, evtPollError, "poll not found", 0)
		return
	}
	if !g.canModerate(rec) && rec.UserID != poll.CreatedBy {
		g.sendError(c, evtPollError, "not allowed to close this poll", 0)
		return
	}

	snap, didClose, err := g.polls.Close(req.RoomID, req.PollID)
	if err != nil {
		g.sendError(c, evtPollError, err.Error(), 0)
		return
	}
	if didClose {
		g.broadcast(req.RoomID, evtPollClosed, snap)
		log.Printf("Poll %s closed in room %s by %s", req.PollID, req.RoomID, rec.UserID)
	}
}

// expirePoll is the auto-close timer callback. It re-enters through the
// coordinator lock, so a timer that fires while a manual close is in flight
// finds the poll already closed and broadcasts nothing.
func (g *Gateway) expirePoll(roomID, pollID string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	snap, didClose, err := g.polls.Close(roomID, pollID)
	if err != nil || !didClose {
		return
	}
	g.broadcast(roomID, evtPollClosed, snap)
	log.Printf("Poll %s expired in room %s", pollID, roomID)
}

// member validates room membership; on failure it emits a sender-scoped
// error and returns nil. Callers must hold g.mu.
func (g *Gateway) member(c *wsClient, roomID, errEvent string) *memberRecord {
	if !g.registry.IsMember(c.id, roomID) {
		g.sendError(c, errEvent, "you are not a member of this room", 0)
		return nil
	}
	return g.registry.Get(c.id)
}

// moderator is member plus the moderation capability check.
func (g *Gateway) moderator(c *wsClient, roomID, errEvent string) *memberRecord {
	rec := g.member(c, roomID, errEvent)
	if rec == nil {
		return nil
	}
	if !g.canModerate(rec) {
		g.sendError(c, errEvent, "moderator role required", 0)
		return nil
	}
	return rec
}

// removeClient tears down a connection: membership, broadcast group, and —
// when this was the user's last connection in the room — the rate-limit
// entry and a userLeft announcement.
func (g *Gateway) removeClient(c *wsClient) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.clients[c]; !ok {
		return
	}
	delete(g.clients, c)
	close(c.send)

	rec, lastOfUser := g.registry.Leave(c.id)
	if rec == nil {
		log.Printf("Connection closed: %s", c.id)
		return
	}

	if room, ok := g.roomClients[rec.RoomID]; ok {
		delete(room, c)
		if len(room) == 0 {
			delete(g.roomClients, rec.RoomID)
		}
	}

	if lastOfUser {
		g.limiter.Purge(rec.UserID)
		g.broadcast(rec.RoomID, evtUserLeft, PresenceData{UserID: rec.UserID})
	}
	log.Printf("User %s disconnected from room %s", rec.UserID, rec.RoomID)
}

// broadcast queues an event to every connection in the room. Runs under
// g.mu, which is what makes delivery FIFO per room: enqueue order is
// mutation order.
func (g *Gateway) broadcast(roomID, msgType string, data interface{}) {
	g.broadcastExcept(roomID, nil, msgType, data)
}

func (g *Gateway) broadcastExcept(roomID string, skip *wsClient, msgType string, data interface{}) {
	payload, err := json.Marshal(WSMessage{Type: msgType, Data: data})
	if err != nil {
		log.Printf("Failed to marshal %s broadcast: %v", msgType, err)
		return
	}
	for client := range g.roomClients[roomID] {
		if client == skip {
			continue
		}
		g.enqueue(client, payload)
	}
}

func (g *Gateway) sendTo(c *wsClient, msgType string, data interface{}) {
	payload, err := json.Marshal(WSMessage{Type: msgType, Data: data})
	if err != nil {
		log.Printf("Failed to marshal %s message: %v", msgType, err)
		return
	}
	g.enqueue(c, payload)
}

func (g *Gateway) sendError(c *wsClient, event, message string, remaining int) {
	g.sendTo(c, event, ErrorData{Message: message, RemainingTime: remaining})
}

// senderError is sendError for callers that do not hold g.mu yet.
func (g *Gateway) senderError(c *wsClient, event, message string) {
	g.mu.Lock()
	g.sendError(c, event, message, 0)
	g.mu.Unlock()
}

// enqueue never blocks; a connection that cannot keep up is dropped the way
// the write pump would drop it. Callers must hold g.mu.
func (g *Gateway) enqueue(c *wsClient, payload []byte) {
	if _, ok := g.clients[c]; !ok {
		return
	}
	select {
	case c.send <- payload:
	default:
		delete(g.clients, c)
		close(c.send)
		if rec, lastOfUser := g.registry.Leave(c.id); rec != nil {
			if room, ok := g.roomClients[rec.RoomID]; ok {
				delete(room, c)
				if len(room) == 0 {
					delete(g.roomClients, rec.RoomID)
				}
			}
			if lastOfUser {
				g.limiter.Purge(rec.UserID)
				// Same teardown as removeClient: peers must hear the leave
				// even when the connection died for falling behind. c is
				// already out of the room set, so this cannot recurse into it.
				g.broadcast(rec.RoomID, evtUserLeft, PresenceData{UserID: rec.UserID})
			}
		}
		log.Printf("Dropped slow connection: %s", c.id)
	}
}

func errorEventFor(eventType string) string {
	switch eventType {
	case evtJoinRoom:
		return evtJoinRoomError
	case evtCreatePoll, evtVotePoll, evtGetActivePolls, evtClosePoll:
		return evtPollError
	default:
		return evtQuestionError
	}
}

func capLen(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}

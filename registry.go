package main

// Registry tracks which live connection belongs to which room, user and role.
// It is the gate for every room-scoped action: a connection that never joined
// a room is rejected even if it supplies that room's id directly. Entirely
// volatile; a process restart drops all membership.
//
// Access is serialized by the gateway's coordinator lock.
type Registry struct {
	conns map[string]*memberRecord
	rooms map[string]map[string]int // roomID -> userID -> live connection count
}

type memberRecord struct {
	RoomID   string
	UserID   string
	Username string
	Role     string
}

func NewRegistry() *Registry {
	return &Registry{
		conns: make(map[string]*memberRecord),
		rooms: make(map[string]map[string]int),
	}
}

// Join records the connection's membership. Re-joining moves the connection:
// the old room association is dropped first, as if the connection had left.
// Returns the previous record, if any, so the caller can announce the leave.
func (r *Registry) Join(connID, roomID, userID, username, role string) (prev *memberRecord, prevLast bool) {
	if old, ok := r.conns[connID]; ok {
		prev = old
		prevLast = r.dropFromRoom(old)
	}

	r.conns[connID] = &memberRecord{
		RoomID:   roomID,
		UserID:   userID,
		Username: username,
		Role:     role,
	}

	users, ok := r.rooms[roomID]
	if !ok {
		users = make(map[string]int)
		r.rooms[roomID] = users
	}
	users[userID]++

	return prev, prevLast
}

// Leave removes the connection. lastOfUser is true when no other connection
// for the same user remains in the room, which is the caller's cue to purge
// rate-limit state and announce userLeft.
func (r *Registry) Leave(connID string) (rec *memberRecord, lastOfUser bool) {
	rec, ok := r.conns[connID]
	if !ok {
		return nil, false
	}
	delete(r.conns, connID)
	return rec, r.dropFromRoom(rec)
}

func (r *Registry) dropFromRoom(rec *memberRecord) bool {
	users, ok := r.rooms[rec.RoomID]
	if !ok {
		return false
	}
	users[rec.UserID]--
	if users[rec.UserID] > 0 {
		return false
	}
	delete(users, rec.UserID)
	if len(users) == 0 {
		delete(r.rooms, rec.RoomID)
	}
	return true
}

// IsMember is true iff the connection's recorded room matches exactly.
func (r *Registry) IsMember(connID, roomID string) bool {
	rec, ok := r.conns[connID]
	return ok && roomID != "" && rec.RoomID == roomID
}

func (r *Registry) Get(connID string) *memberRecord {
	return r.conns[connID]
}

func (r *Registry) RoleOf(connID string) string {
	if rec, ok := r.conns[connID]; ok {
		return rec.Role
	}
	return ""
}

// UserCount reports how many distinct users are live in a room.
func (r *Registry) UserCount(roomID string) int {
	return len(r.rooms[roomID])
}

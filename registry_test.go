package main

import "testing"

func TestRegistryMembership(t *testing.T) {
	r := NewRegistry()

	r.Join("c1", "room-a", "u1", "alice", RoleUser)

	if !r.IsMember("c1", "room-a") {
		t.Fatalf("c1 should be a member of room-a")
	}
	if r.IsMember("c1", "room-b") {
		t.Fatalf("c1 should not be a member of a room it never joined")
	}
	if r.IsMember("c2", "room-a") {
		t.Fatalf("unknown connections are never members")
	}
	if r.RoleOf("c1") != RoleUser {
		t.Fatalf("unexpected role %q", r.RoleOf("c1"))
	}
}

func TestRegistryRejoinMovesRoom(t *testing.T) {
	r := NewRegistry()

	r.Join("c1", "room-a", "u1", "alice", RoleUser)
	prev, prevLast := r.Join("c1", "room-b", "u1", "alice", RoleUser)

	if prev == nil || prev.RoomID != "room-a" {
		t.Fatalf("expected previous record for room-a, got %+v", prev)
	}
	if !prevLast {
		t.Fatalf("u1 had one connection in room-a, leaving should be last-of-user")
	}
	if r.IsMember("c1", "room-a") {
		t.Fatalf("rejoining should drop the old room")
	}
	if !r.IsMember("c1", "room-b") {
		t.Fatalf("rejoining should record the new room")
	}
	if r.UserCount("room-a") != 0 {
		t.Fatalf("room-a should be empty")
	}
}

func TestRegistryLastConnectionSemantics(t *testing.T) {
	r := NewRegistry()

	// Same user on two connections in the same room.
	r.Join("c1", "room-a", "u1", "alice", RoleUser)
	r.Join("c2", "room-a", "u1", "alice", RoleUser)

	rec, last := r.Leave("c1")
	if rec == nil || rec.UserID != "u1" {
		t.Fatalf("unexpected leave record %+v", rec)
	}
	if last {
		t.Fatalf("u1 still has a live connection, not last-of-user")
	}

	_, last = r.Leave("c2")
	if !last {
		t.Fatalf("second leave should be last-of-user")
	}
	if r.UserCount("room-a") != 0 {
		t.Fatalf("room should be empty after all leaves")
	}
}

func TestRegistryLeaveUnknownConnection(t *testing.T) {
	r := NewRegistry()
	if rec, last := r.Leave("ghost"); rec != nil || last {
		t.Fatalf("leaving an unknown connection should be a no-op")
	}
}

func TestRegistryUserCount(t *testing.T) {
	r := NewRegistry()
	r.Join("c1", "room-a", "u1", "alice", RoleUser)
	r.Join("c2", "room-a", "u2", "bob", RoleUser)
	r.Join("c3", "room-a", "u2", "bob", RoleUser)

	if got := r.UserCount("room-a"); got != 2 {
		t.Fatalf("expected 2 distinct users, got %d", got)
	}
}

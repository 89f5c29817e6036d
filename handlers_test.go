package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestSlugify(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"Team Standup", "team-standup"},
		{"  All Hands Q&A!  ", "all-hands-qa"},
		{"already-a-slug", "already-a-slug"},
		{"Multiple   Spaces", "multiple-spaces"},
		{"---dashes---", "dashes"},
		{"ÜberMeeting", "bermeeting"},
		{"!!!", ""},
		{"This Title Is Much Longer Than Forty Characters Total", "this-title-is-much-longer-than-forty-cha"},
	}
	for _, tc := range cases {
		if got := slugify(tc.in); got != tc.want {
			t.Errorf("slugify(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	db := newTestDB(t)
	cfg := testConfig()
	tokens := NewTokenManager(cfg.JWTSecret, cfg.TokenTTL)
	gateway := NewGateway(tokens, cfg)
	srv := NewServer(db, tokens, gateway)
	ts := httptest.NewServer(srv.RegisterRoutes())
	t.Cleanup(ts.Close)
	return srv, ts
}

func postJSON(t *testing.T, url, token string, body interface{}) *http.Response {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestRegisterCreateJoinFlow(t *testing.T) {
	srv, ts := newTestServer(t)

	// Register a moderator account.
	resp := postJSON(t, ts.URL+"/api/register", "", map[string]string{
		"username": "host", "password": "hunter22",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("register status %d", resp.StatusCode)
	}
	var reg struct {
		Token string `json:"token"`
	}
	decodeBody(t, resp, &reg)
	if reg.Token == "" {
		t.Fatalf("register should return a session token")
	}

	// Create a room.
	resp = postJSON(t, ts.URL+"/api/rooms/create", reg.Token, map[string]string{
		"title": "Team Standup",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("create room status %d", resp.StatusCode)
	}
	var created struct {
		Room Room `json:"room"`
	}
	decodeBody(t, resp, &created)
	if created.Room.Slug != "team-standup" {
		t.Fatalf("unexpected slug %q", created.Room.Slug)
	}

	// Public room lookup.
	getResp, err := http.Get(ts.URL + "/api/rooms/team-standup")
	if err != nil {
		t.Fatalf("get room: %v", err)
	}
	if getResp.StatusCode != http.StatusOK {
		t.Fatalf("get room status %d", getResp.StatusCode)
	}
	getResp.Body.Close()

	// Anonymous participant join: minted identity, user role.
	resp = postJSON(t, ts.URL+"/api/rooms/team-standup/join", "", map[string]string{
		"username": "alice",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("join status %d", resp.StatusCode)
	}
	var joined struct {
		User struct {
			ID   string `json:"id"`
			Role string `json:"role"`
		} `json:"user"`
		Token string `json:"token"`
	}
	decodeBody(t, resp, &joined)
	if joined.User.ID == "" || joined.User.Role != RoleUser {
		t.Fatalf("unexpected join identity: %+v", joined.User)
	}

	claims, err := srv.tokens.Verify(joined.Token)
	if err != nil {
		t.Fatalf("join token must verify: %v", err)
	}
	if claims.RoomID != created.Room.ID || claims.Role != RoleUser {
		t.Fatalf("unexpected join claims: %+v", claims)
	}

	// The room's own moderator joins with a session: moderator role claim.
	resp = postJSON(t, ts.URL+"/api/rooms/team-standup/join", reg.Token, map[string]string{})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("moderator join status %d", resp.StatusCode)
	}
	var modJoined struct {
		User struct {
			Role     string `json:"role"`
			Username string `json:"username"`
		} `json:"user"`
		Token string `json:"token"`
	}
	decodeBody(t, resp, &modJoined)
	if modJoined.User.Role != RoleModerator {
		t.Fatalf("room owner should join as moderator, got %+v", modJoined.User)
	}
	claims, err = srv.tokens.Verify(modJoined.Token)
	if err != nil || claims.Role != RoleModerator {
		t.Fatalf("moderator claim missing: %+v %v", claims, err)
	}
}

func TestJoinUnknownRoom(t *testing.T) {
	_, ts := newTestServer(t)
	resp := postJSON(t, ts.URL+"/api/rooms/no-such-room/join", "", map[string]string{})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestModeratorSessionNotOwnRoom(t *testing.T) {
	_, ts := newTestServer(t)

	resp := postJSON(t, ts.URL+"/api/register", "", map[string]string{
		"username": "owner", "password": "pw",
	})
	var owner struct {
		Token string `json:"token"`
	}
	decodeBody(t, resp, &owner)

	resp = postJSON(t, ts.URL+"/api/rooms/create", owner.Token, map[string]string{
		"title": "Owner Room",
	})
	resp.Body.Close()

	resp = postJSON(t, ts.URL+"/api/register", "", map[string]string{
		"username": "intruder", "password": "pw",
	})
	var intruder struct {
		Token string `json:"token"`
	}
	decodeBody(t, resp, &intruder)

	// A moderator session for a different room joins as a plain user.
	resp = postJSON(t, ts.URL+"/api/rooms/owner-room/join", intruder.Token, map[string]string{
		"username": "sneaky",
	})
	var joined struct {
		User struct {
			Role string `json:"role"`
		} `json:"user"`
	}
	decodeBody(t, resp, &joined)
	if joined.User.Role != RoleUser {
		t.Fatalf("foreign moderator must join as user, got %q", joined.User.Role)
	}
}

func TestCreateRoomRequiresAuth(t *testing.T) {
	_, ts := newTestServer(t)
	resp := postJSON(t, ts.URL+"/api/rooms/create", "", map[string]string{"title": "Nope"})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
}

func TestDeleteRoomForbiddenForNonOwner(t *testing.T) {
	_, ts := newTestServer(t)

	resp := postJSON(t, ts.URL+"/api/register", "", map[string]string{
		"username": "owner", "password": "pw",
	})
	var owner struct {
		Token string `json:"token"`
	}
	decodeBody(t, resp, &owner)
	resp = postJSON(t, ts.URL+"/api/rooms/create", owner.Token, map[string]string{"title": "Mine"})
	resp.Body.Close()

	resp = postJSON(t, ts.URL+"/api/register", "", map[string]string{
		"username": "other", "password": "pw",
	})
	var other struct {
		Token string `json:"token"`
	}
	decodeBody(t, resp, &other)

	resp = postJSON(t, ts.URL+"/api/rooms/mine/delete", other.Token, map[string]string{})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", resp.StatusCode)
	}
}

func TestLogoutInvalidatesSession(t *testing.T) {
	_, ts := newTestServer(t)

	resp := postJSON(t, ts.URL+"/api/register", "", map[string]string{
		"username": "host", "password": "pw",
	})
	var reg struct {
		Token string `json:"token"`
	}
	decodeBody(t, resp, &reg)

	resp = postJSON(t, ts.URL+"/api/logout", reg.Token, map[string]string{})
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("logout status %d", resp.StatusCode)
	}

	resp = postJSON(t, ts.URL+"/api/rooms/create", reg.Token, map[string]string{"title": "After"})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("session should be dead after logout, got %d", resp.StatusCode)
	}
}

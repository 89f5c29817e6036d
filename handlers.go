package main

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"log"
	"net/http"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// slugify turns a room title into a URL slug
func slugify(title string) string {
	slug := strings.ToLower(strings.TrimSpace(title))

	// Replace spaces with dashes
	slug = strings.ReplaceAll(slug, " ", "-")

	// Remove everything that is not a letter, digit or dash
	reg := regexp.MustCompile(`[^a-z0-9-]+`)
	slug = reg.ReplaceAllString(slug, "")

	// Handle double dashes - replace with single dash
	for strings.Contains(slug, "--") {
		slug = strings.ReplaceAll(slug, "--", "-")
	}

	slug = strings.Trim(slug, "-")

	// Limit to 40 characters
	if len(slug) > 40 {
		slug = slug[:40]
		slug = strings.TrimRight(slug, "-")
	}

	return slug
}

func randomSuffix() string {
	bytes := make([]byte, 3)
	if _, err := rand.Read(bytes); err != nil {
		return "0000"
	}
	return hex.EncodeToString(bytes)
}

type Server struct {
	db      *Database
	auth    *AuthManager
	tokens  *TokenManager
	gateway *Gateway
}

func NewServer(db *Database, tokens *TokenManager, gateway *Gateway) *Server {
	return &Server{
		db:      db,
		auth:    NewAuthManager(db),
		tokens:  tokens,
		gateway: gateway,
	}
}

func (s *Server) RegisterRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	// Moderator auth
	mux.HandleFunc("/api/register", s.handleRegister)
	mux.HandleFunc("/api/login", s.handleLogin)
	mux.HandleFunc("/api/logout", s.auth.RequireAuth(s.handleLogout))

	// Room management
	mux.HandleFunc("/api/rooms/create", s.auth.RequireAuth(s.handleCreateRoom))
	mux.HandleFunc("/api/rooms", s.auth.RequireAuth(s.handleMyRooms))
	mux.HandleFunc("/api/rooms/", s.handleRoomWithSlug)

	// WebSocket endpoint
	mux.HandleFunc("/ws", s.gateway.HandleConnection)

	return mux
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	if req.Username == "" || req.Password == "" {
		respondError(w, "Username and password required", http.StatusBadRequest)
		return
	}

	mod, err := s.db.CreateModerator(req.Username, req.Password)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			respondError(w, "Username already exists", http.StatusConflict)
			return
		}
		respondError(w, "Failed to create account", http.StatusInternalServerError)
		return
	}

	session, err := s.auth.CreateSession(mod)
	if err != nil {
		respondError(w, "Failed to create session", http.StatusInternalServerError)
		return
	}

	respondJSON(w, map[string]interface{}{
		"moderator": mod,
		"token":     session.Token,
	})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	mod, err := s.db.AuthenticateModerator(req.Username, req.Password)
	if err != nil {
		respondError(w, "Invalid credentials", http.StatusUnauthorized)
		return
	}

	session, err := s.auth.CreateSession(mod)
	if err != nil {
		respondError(w, "Failed to create session", http.StatusInternalServerError)
		return
	}

	respondJSON(w, map[string]interface{}{
		"moderator": mod,
		"token":     session.Token,
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	token := s.auth.ExtractToken(r)
	s.auth.DeleteSession(token)

	respondJSON(w, map[string]string{"status": "logged out"})
}

func (s *Server) handleCreateRoom(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	session := sessionFromContext(r.Context())
	if session == nil {
		respondError(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req struct {
		Title string `json:"title"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	slug := slugify(req.Title)
	if slug == "" {
		respondError(w, "Room title required", http.StatusBadRequest)
		return
	}

	// Append a random suffix if the slug is taken
	candidate := slug
	for i := 0; i < 5; i++ {
		exists, err := s.db.SlugExists(candidate)
		if err != nil {
			respondError(w, "Failed to create room", http.StatusInternalServerError)
			return
		}
		if !exists {
			break
		}
		candidate = slug + "-" + randomSuffix()
	}

	room, err := s.db.CreateRoom(candidate, strings.TrimSpace(req.Title), session.ModeratorID)
	if err != nil {
		respondError(w, "Failed to create room", http.StatusInternalServerError)
		return
	}

	log.Printf("Room %s created by moderator %d", room.Slug, session.ModeratorID)
	respondJSON(w, map[string]interface{}{"room": room})
}

func (s *Server) handleMyRooms(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	session := sessionFromContext(r.Context())
	if session == nil {
		respondError(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	rooms, err := s.db.GetModeratorRooms(session.ModeratorID)
	if err != nil {
		respondError(w, "Failed to fetch rooms", http.StatusInternalServerError)
		return
	}

	respondJSON(w, map[string]interface{}{"rooms": rooms})
}

// handleRoomWithSlug routes /api/rooms/{slug} and /api/rooms/{slug}/{action}.
func (s *Server) handleRoomWithSlug(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/rooms/")
	parts := strings.Split(path, "/")

	switch {
	case len(parts) == 1 && parts[0] != "":
		s.handleGetRoom(w, r, parts[0])
	case len(parts) == 2 && parts[1] == "join":
		s.auth.OptionalAuth(func(w http.ResponseWriter, r *http.Request) {
			s.handleJoinRoom(w, r, parts[0])
		})(w, r)
	case len(parts) == 2 && parts[1] == "delete":
		s.auth.RequireAuth(func(w http.ResponseWriter, r *http.Request) {
			s.handleDeleteRoom(w, r, parts[0])
		})(w, r)
	default:
		respondError(w, "Invalid URL format", http.StatusNotFound)
	}
}

func (s *Server) handleGetRoom(w http.ResponseWriter, r *http.Request, slug string) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	room, err := s.db.FindRoomBySlug(slug)
	if err != nil {
		respondError(w, "Failed to fetch room", http.StatusInternalServerError)
		return
	}
	if room == nil {
		respondError(w, "Room not found", http.StatusNotFound)
		return
	}

	respondJSON(w, map[string]interface{}{
		"room": map[string]interface{}{
			"id":    room.ID,
			"slug":  room.Slug,
			"title": room.Title,
		},
	})
}

// handleJoinRoom mints a participant identity and a signed join token for the
// websocket gateway. A logged-in moderator joining their own room gets the
// moderator role claim; everyone else is a plain user.
func (s *Server) handleJoinRoom(w http.ResponseWriter, r *http.Request, slug string) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		Username string `json:"username"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	room, err := s.db.FindRoomBySlug(slug)
	if err != nil {
		respondError(w, "Failed to fetch room", http.StatusInternalServerError)
		return
	}
	if room == nil {
		respondError(w, "Room not found", http.StatusNotFound)
		return
	}

	role := RoleUser
	username := capLen(strings.TrimSpace(req.Username), usernameMaxLen)
	if session := sessionFromContext(r.Context()); session != nil && session.ModeratorID == room.ModeratorID {
		role = RoleModerator
		if username == "" {
			username = session.Username
		}
	}
	if username == "" {
		username = "anonymous"
	}

	userID := uuid.NewString()
	token, err := s.tokens.Sign(userID, username, room.ID, role)
	if err != nil {
		respondError(w, "Failed to issue join token", http.StatusInternalServerError)
		return
	}

	respondJSON(w, map[string]interface{}{
		"user": map[string]interface{}{
			"id":       userID,
			"username": username,
			"roomId":   room.ID,
			"role":     role,
		},
		"room": map[string]interface{}{
			"id":    room.ID,
			"slug":  room.Slug,
			"title": room.Title,
		},
		"token": token,
	})
}

func (s *Server) handleDeleteRoom(w http.ResponseWriter, r *http.Request, slug string) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	session := sessionFromContext(r.Context())
	if session == nil {
		respondError(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	room, err := s.db.FindRoomBySlug(slug)
	if err != nil {
		respondError(w, "Failed to fetch room", http.StatusInternalServerError)
		return
	}
	if room == nil {
		respondError(w, "Room not found", http.StatusNotFound)
		return
	}

	deleted, err := s.db.DeleteRoom(room.ID, session.ModeratorID)
	if err != nil {
		respondError(w, "Failed to delete room", http.StatusInternalServerError)
		return
	}
	if !deleted {
		respondError(w, "Not your room", http.StatusForbidden)
		return
	}

	respondJSON(w, map[string]interface{}{"success": true})
}

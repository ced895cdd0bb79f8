// Package chesstest runs an in-process chess backend for tests: the real
// wire contract (REST endpoints plus lobby/game websockets) over scripted
// state. Tests drive pushes explicitly instead of relying on game logic.
package chesstest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"chessclient/pkg/types"
)

type user struct {
	id       string
	password string
}

// Server is the fake backend. URL() is a plain http base; the client under
// test derives the ws base from it the same way it does in production.
type Server struct {
	mu      sync.Mutex
	users   map[string]user   // username -> account
	tokens  map[string]string // token -> username
	lobbies map[string]*types.Lobby
	broken  map[string]bool // path -> forced 500

	lobbyConns map[string][]*websocket.Conn // gameID -> live lobby sockets
	gameConns  map[string][]*websocket.Conn // gameID -> live game sockets

	moveIntents chan types.MoveMessage

	httpSrv *httptest.Server
}

func NewServer() *Server {
	s := &Server{
		users:       make(map[string]user),
		tokens:      make(map[string]string),
		lobbies:     make(map[string]*types.Lobby),
		broken:      make(map[string]bool),
		lobbyConns:  make(map[string][]*websocket.Conn),
		gameConns:   make(map[string][]*websocket.Conn),
		moveIntents: make(chan types.MoveMessage, 16),
	}

	r := chi.NewRouter()
	r.Use(s.faults)
	r.Post("/users/register", s.handleRegister)
	r.Post("/auth/login", s.handleLogin)
	r.Get("/auth/check-token", s.authed(s.handleCheckToken))
	r.Get("/users/me", s.authed(s.handleMe))
	r.Post("/auth/logout", s.authed(s.handleLogout))

	r.Post("/lobby/create", s.authed(s.handleCreateLobby))
	r.Get("/lobby/list", s.handleListLobbies)
	r.Post("/lobby/join/{gameID}", s.authed(s.handleJoinLobby))
	r.Post("/lobby/leave/{gameID}/{userID}", s.authed(s.handleLeaveLobby))
	r.Post("/lobby/set_color/{gameID}/{userID}/{color}", s.authed(s.handleSetColor))
	r.Post("/lobby/set_status/{gameID}/{userID}/{status}", s.authed(s.handleSetStatus))
	r.Post("/game/start_game/{gameID}/{userID}", s.authed(s.handleStartGame))

	r.Get("/lobby/ws/{gameID}", s.handleLobbyWS)
	r.Get("/game/ws/{gameID}", s.handleGameWS)

	s.httpSrv = httptest.NewServer(r)
	return s
}

func (s *Server) URL() string { return s.httpSrv.URL }

func (s *Server) Close() {
	s.mu.Lock()
	for _, conns := range s.lobbyConns {
		for _, c := range conns {
			_ = c.Close(websocket.StatusGoingAway, "server shutdown")
		}
	}
	for _, conns := range s.gameConns {
		for _, c := range conns {
			_ = c.Close(websocket.StatusGoingAway, "server shutdown")
		}
	}
	s.mu.Unlock()
	s.httpSrv.Close()
}

// MoveIntents exposes every move message the game socket received, so tests
// can assert both delivery and non-delivery.
func (s *Server) MoveIntents() <-chan types.MoveMessage { return s.moveIntents }

// --- accounts and tokens ---

// Seed creates an account without going through the register endpoint.
func (s *Server) Seed(username, password string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := uuid.NewString()
	s.users[username] = user{id: id, password: password}
	return id
}

// IssueToken mints a valid token for a seeded user, as if login happened in
// an earlier run.
func (s *Server) IssueToken(username string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	token := uuid.NewString()
	s.tokens[token] = username
	return token
}

// SeedLobby installs a lobby snapshot directly, bypassing the create
// endpoint.
func (s *Server) SeedLobby(gameID string, players ...types.LobbyPlayer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lobbies[gameID] = &types.Lobby{GameID: gameID, Players: players}
}

// FailEndpoint forces a path to answer 500 until restored, for exercising
// partial-failure flows like a login whose profile fetch breaks.
func (s *Server) FailEndpoint(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.broken[path] = true
}

// RestoreEndpoint undoes FailEndpoint.
func (s *Server) RestoreEndpoint(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.broken, path)
}

func (s *Server) faults(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		broken := s.broken[r.URL.Path]
		s.mu.Unlock()
		if broken {
			writeDetail(w, http.StatusInternalServerError, "internal server error")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RevokeToken makes a previously issued token invalid.
func (s *Server) RevokeToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tokens, token)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeDetail(w http.ResponseWriter, code int, detail string) {
	writeJSON(w, code, map[string]string{"detail": detail})
}

// authed enforces the bearer contract and stashes the username in the
// request header for handlers.
func (s *Server) authed(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		const prefix = "Bearer "
		if len(auth) <= len(prefix) || auth[:len(prefix)] != prefix {
			writeDetail(w, http.StatusUnauthorized, "not authenticated")
			return
		}
		s.mu.Lock()
		username, ok := s.tokens[auth[len(prefix):]]
		s.mu.Unlock()
		if !ok {
			writeDetail(w, http.StatusUnauthorized, "token expired or invalid")
			return
		}
		r.Header.Set("X-Test-Username", username)
		next(w, r)
	}
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDetail(w, http.StatusBadRequest, "bad request body")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.users[req.Username]; exists {
		writeDetail(w, http.StatusBadRequest, "username already exists")
		return
	}
	id := uuid.NewString()
	s.users[req.Username] = user{id: id, password: req.Password}
	writeJSON(w, http.StatusOK, map[string]string{"user_id": id, "username": req.Username})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeDetail(w, http.StatusBadRequest, "bad form body")
		return
	}
	username := r.PostFormValue("username")
	password := r.PostFormValue("password")

	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[username]
	if !ok || u.password != password {
		writeDetail(w, http.StatusUnauthorized, "wrong username or password")
		return
	}
	token := uuid.NewString()
	s.tokens[token] = username
	writeJSON(w, http.StatusOK, map[string]string{"access_token": token, "token_type": "bearer"})
}

func (s *Server) handleCheckToken(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "token is valid"})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	username := r.Header.Get("X-Test-Username")
	s.mu.Lock()
	u := s.users[username]
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]string{"user_id": u.id, "username": username})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	auth := r.Header.Get("Authorization")
	s.mu.Lock()
	delete(s.tokens, auth[len("Bearer "):])
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]string{"message": "logged out"})
}

// --- lobby endpoints ---

type lobbyUserReq struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
}

func (s *Server) handleCreateLobby(w http.ResponseWriter, r *http.Request) {
	var req lobbyUserReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDetail(w, http.StatusBadRequest, "bad request body")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	lobby := &types.Lobby{
		GameID: uuid.NewString(),
		Players: []types.LobbyPlayer{
			{UserID: req.UserID, Username: req.Username, Status: types.StatusNotReady},
		},
	}
	s.lobbies[lobby.GameID] = lobby
	writeJSON(w, http.StatusOK, lobby)
}

func (s *Server) handleListLobbies(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	lobbies := make([]types.Lobby, 0, len(s.lobbies))
	for _, l := range s.lobbies {
		lobbies = append(lobbies, *l)
	}
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string][]types.Lobby{"lobbies": lobbies})
}

func (s *Server) handleJoinLobby(w http.ResponseWriter, r *http.Request) {
	gameID := chi.URLParam(r, "gameID")
	var req lobbyUserReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDetail(w, http.StatusBadRequest, "bad request body")
		return
	}
	s.mu.Lock()
	lobby, ok := s.lobbies[gameID]
	if !ok {
		s.mu.Unlock()
		writeDetail(w, http.StatusBadRequest, "lobby does not exist")
		return
	}
	if len(lobby.Players) >= 2 {
		s.mu.Unlock()
		writeDetail(w, http.StatusBadRequest, "lobby is already full")
		return
	}
	lobby.Players = append(lobby.Players, types.LobbyPlayer{
		UserID: req.UserID, Username: req.Username, Status: types.StatusNotReady,
	})
	snapshot := *lobby
	s.mu.Unlock()

	s.broadcastLobbyUpdate(snapshot)
	writeJSON(w, http.StatusOK, snapshot)
}

func (s *Server) handleLeaveLobby(w http.ResponseWriter, r *http.Request) {
	gameID := chi.URLParam(r, "gameID")
	userID := chi.URLParam(r, "userID")

	s.mu.Lock()
	lobby, ok := s.lobbies[gameID]
	if !ok {
		s.mu.Unlock()
		writeDetail(w, http.StatusBadRequest, "lobby not found")
		return
	}
	kept := lobby.Players[:0]
	for _, p := range lobby.Players {
		if p.UserID != userID {
			kept = append(kept, p)
		}
	}
	lobby.Players = kept
	if len(lobby.Players) == 0 {
		delete(s.lobbies, gameID)
		s.mu.Unlock()
		writeJSON(w, http.StatusOK, nil)
		return
	}
	snapshot := *lobby
	s.mu.Unlock()

	s.broadcastLobbyUpdate(snapshot)
	writeJSON(w, http.StatusOK, snapshot)
}

func (s *Server) handleSetColor(w http.ResponseWriter, r *http.Request) {
	gameID := chi.URLParam(r, "gameID")
	userID := chi.URLParam(r, "userID")
	color := types.Color(chi.URLParam(r, "color"))

	s.mu.Lock()
	lobby, ok := s.lobbies[gameID]
	if !ok {
		s.mu.Unlock()
		writeDetail(w, http.StatusBadRequest, "lobby not found")
		return
	}
	for i := range lobby.Players {
		p := &lobby.Players[i]
		if p.UserID != userID && p.Color != nil && *p.Color == color {
			s.mu.Unlock()
			writeDetail(w, http.StatusBadRequest, "color already taken")
			return
		}
	}
	for i := range lobby.Players {
		if lobby.Players[i].UserID == userID {
			c := color
			lobby.Players[i].Color = &c
		}
	}
	snapshot := *lobby
	s.mu.Unlock()

	s.broadcastLobbyUpdate(snapshot)
	writeJSON(w, http.StatusOK, snapshot)
}

func (s *Server) handleSetStatus(w http.ResponseWriter, r *http.Request) {
	gameID := chi.URLParam(r, "gameID")
	userID := chi.URLParam(r, "userID")
	status := types.PlayerStatus(chi.URLParam(r, "status"))

	s.mu.Lock()
	lobby, ok := s.lobbies[gameID]
	if !ok {
		s.mu.Unlock()
		writeDetail(w, http.StatusBadRequest, "lobby not found")
		return
	}
	for i := range lobby.Players {
		if lobby.Players[i].UserID == userID {
			if lobby.Players[i].Color == nil {
				s.mu.Unlock()
				writeDetail(w, http.StatusBadRequest, "pick a color first")
				return
			}
			lobby.Players[i].Status = status
		}
	}
	snapshot := *lobby
	s.mu.Unlock()

	s.broadcastLobbyUpdate(snapshot)
	writeJSON(w, http.StatusOK, snapshot)
}

func (s *Server) handleStartGame(w http.ResponseWriter, r *http.Request) {
	gameID := chi.URLParam(r, "gameID")

	s.mu.Lock()
	_, ok := s.lobbies[gameID]
	s.mu.Unlock()
	if !ok {
		writeDetail(w, http.StatusBadRequest, "lobby not found")
		return
	}

	_ = s.push(s.lobbyConns, gameID, gameStartPayload(gameID), false)
	writeJSON(w, http.StatusOK, types.GameState{
		GameID:      gameID,
		CurrentTurn: types.ColorWhite,
		Status:      types.GameRunning,
	})
}

// --- websocket side ---

func (s *Server) handleLobbyWS(w http.ResponseWriter, r *http.Request) {
	s.handleWS(w, r, s.lobbyConns, false)
}

func (s *Server) handleGameWS(w http.ResponseWriter, r *http.Request) {
	s.handleWS(w, r, s.gameConns, true)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request, registry map[string][]*websocket.Conn, game bool) {
	gameID := chi.URLParam(r, "gameID")
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}

	s.mu.Lock()
	registry[gameID] = append(registry[gameID], conn)
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		conns := registry[gameID]
		for i, c := range conns {
			if c == conn {
				registry[gameID] = append(conns[:i], conns[i+1:]...)
				break
			}
		}
		s.mu.Unlock()
		_ = conn.Close(websocket.StatusNormalClosure, "bye")
	}()

	for {
		_, data, err := conn.Read(r.Context())
		if err != nil {
			return
		}
		if !game {
			continue // the lobby socket only ever receives refresh pings
		}
		var move types.MoveMessage
		if err := json.Unmarshal(data, &move); err != nil || move.Action != "move" {
			continue
		}
		select {
		case s.moveIntents <- move:
		default:
		}
	}
}

// --- scripted pushes ---

// waitConn blocks until at least one socket of the registry is live for
// gameID. Registration happens in the handler goroutine just after the dial
// handshake, so a push issued right after Open needs this.
func (s *Server) waitConn(registry map[string][]*websocket.Conn, gameID string) error {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		s.mu.Lock()
		n := len(registry[gameID])
		s.mu.Unlock()
		if n > 0 {
			return nil
		}
		time.Sleep(5 * time.Millisecond)
	}
	return fmt.Errorf("no live socket for game %s", gameID)
}

// push delivers to every live socket. When wait is set it first blocks for a
// socket to appear; scripted test pushes want that, endpoint-triggered
// broadcasts must not (the acting client may not have opened its channel yet
// and is blocked on the very response this handler is writing).
func (s *Server) push(registry map[string][]*websocket.Conn, gameID string, payload any, wait bool) error {
	if wait {
		if err := s.waitConn(registry, gameID); err != nil {
			return err
		}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	s.mu.Lock()
	conns := append([]*websocket.Conn(nil), registry[gameID]...)
	s.mu.Unlock()
	for _, c := range conns {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		err = c.Write(ctx, websocket.MessageText, data)
		cancel()
		if err != nil {
			return err
		}
	}
	return nil
}

// PushLobbyUpdate broadcasts a lobby_update push to every lobby socket of
// the game.
func (s *Server) PushLobbyUpdate(gameID string, lobby types.Lobby) error {
	return s.push(s.lobbyConns, gameID, lobbyUpdatePayload(lobby), true)
}

func (s *Server) broadcastLobbyUpdate(lobby types.Lobby) {
	_ = s.push(s.lobbyConns, lobby.GameID, lobbyUpdatePayload(lobby), false)
}

func lobbyUpdatePayload(lobby types.Lobby) map[string]any {
	return map[string]any{
		"type":    "lobby_update",
		"game_id": lobby.GameID,
		"players": lobby.Players,
	}
}

func gameStartPayload(gameID string) map[string]any {
	return map[string]any{
		"type":    "game_start",
		"game_id": gameID,
	}
}

// PushGameStart broadcasts a game_start push on the lobby channel.
func (s *Server) PushGameStart(lobbyGameID, newGameID string) error {
	return s.push(s.lobbyConns, lobbyGameID, gameStartPayload(newGameID), true)
}

// PushGameState broadcasts a game_state push on the game channel.
func (s *Server) PushGameState(gameID string, state types.GameState) error {
	return s.push(s.gameConns, gameID, map[string]any{
		"type": "game_state",
		"data": state,
	}, true)
}

// PushGameError broadcasts an error push on the game channel.
func (s *Server) PushGameError(gameID, message string) error {
	return s.push(s.gameConns, gameID, map[string]any{
		"type":    "error",
		"message": message,
	}, true)
}

// PushNotification broadcasts a notification push on the game channel.
func (s *Server) PushNotification(gameID, message string) error {
	return s.push(s.gameConns, gameID, map[string]any{
		"type":    "notification",
		"message": message,
	}, true)
}

// PushRaw sends an arbitrary payload on the lobby channel, for exercising
// unknown-discriminant handling.
func (s *Server) PushRaw(gameID string, payload map[string]any) error {
	return s.push(s.lobbyConns, gameID, payload, true)
}

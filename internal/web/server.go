// Package web serves the fleet over HTTP for a rendering client: a JSON
// API for every outward operation and a websocket feed that pushes a fresh
// snapshot whenever the fleet changes.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/cors"

	"fleet_traffic/internal/fleet"
	"fleet_traffic/internal/logging"
	"fleet_traffic/internal/models"
	"fleet_traffic/internal/navgraph"
	"fleet_traffic/internal/robot"
	"fleet_traffic/internal/services"
)

const writeWait = 5 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Frame is what the websocket feed pushes.
type Frame struct {
	Level  string             `json:"level"`
	Robots []robot.Snapshot   `json:"robots"`
	Queues []models.LaneQueue `json:"queues"`
	Stats  models.FleetStats  `json:"stats"`
}

type Server struct {
	service *services.FleetService
	logger  logging.Logger
	origins []string

	// clientsMutex guards membership only; writes lock the client.
	clients      map[*websocket.Conn]*client
	clientsMutex sync.Mutex
}

// client pairs a connection with its write lock; gorilla connections
// allow one concurrent writer.
type client struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func NewServer(service *services.FleetService, logger logging.Logger, origins []string) *Server {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	return &Server{
		service: service,
		logger:  logger,
		origins: origins,
		clients: make(map[*websocket.Conn]*client),
	}
}

// Handler returns the routed API wrapped in CORS handling.
func (s *Server) Handler() http.Handler {
	router := http.NewServeMux()

	router.HandleFunc("GET /api/graph", s.handleGraph)
	router.HandleFunc("GET /api/levels", s.handleLevels)
	router.HandleFunc("POST /api/level", s.handleSwitchLevel)
	router.HandleFunc("GET /api/robots", s.handleRobots)
	router.HandleFunc("POST /api/robots", s.handleSpawn)
	router.HandleFunc("GET /api/robots/{id}", s.handleRobot)
	router.HandleFunc("POST /api/robots/{id}/task", s.handleAssignTask)
	router.HandleFunc("GET /api/queues", s.handleQueues)
	router.HandleFunc("GET /api/stats", s.handleStats)
	router.HandleFunc("GET /api/route", s.handleRoute)
	router.HandleFunc("GET /api/events", s.handleEvents)
	router.HandleFunc("POST /api/step", s.handleStep)
	router.HandleFunc("POST /api/reset", s.handleReset)
	router.HandleFunc("GET /ws", s.handleWs)

	c := cors.New(cors.Options{
		AllowedOrigins: s.origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type"},
	})
	return c.Handler(router)
}

func (s *Server) handleGraph(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.service.Graph())
}

func (s *Server) handleLevels(w http.ResponseWriter, r *http.Request) {
	names, err := s.service.Levels(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"current": s.service.Graph().Level,
		"levels":  names,
	})
}

func (s *Server) handleSwitchLevel(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		http.Error(w, "a level 'name' is required", http.StatusBadRequest)
		return
	}
	if err := s.service.SwitchLevel(r.Context(), req.Name); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.service.Graph())
}

func (s *Server) handleRobots(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.service.Robots())
}

func (s *Server) handleSpawn(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Vertex *int `json:"vertex"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Vertex == nil {
		http.Error(w, "a 'vertex' is required", http.StatusBadRequest)
		return
	}
	snap, err := s.service.Spawn(*req.Vertex)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, snap)
}

func (s *Server) handleRobot(w http.ResponseWriter, r *http.Request) {
	snap, err := s.service.Robot(r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleAssignTask(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Destination *int `json:"destination"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Destination == nil {
		http.Error(w, "a 'destination' is required", http.StatusBadRequest)
		return
	}
	route, err := s.service.AssignTask(r.PathValue("id"), *req.Destination)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, route)
}

func (s *Server) handleQueues(w http.ResponseWriter, r *http.Request) {
	queues := s.service.Queues()
	if queues == nil {
		queues = []models.LaneQueue{}
	}
	writeJSON(w, http.StatusOK, queues)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.service.Stats())
}

func (s *Server) handleRoute(w http.ResponseWriter, r *http.Request) {
	from, errFrom := strconv.Atoi(r.URL.Query().Get("from"))
	to, errTo := strconv.Atoi(r.URL.Query().Get("to"))
	if errFrom != nil || errTo != nil {
		http.Error(w, "integer 'from' and 'to' parameters are required", http.StatusBadRequest)
		return
	}
	route, err := s.service.Route(from, to)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, route)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, "'limit' must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = n
	}
	events, err := s.service.Events(r.Context(), services.EventQuery{
		Epoch:   r.URL.Query().Get("epoch"),
		AgentID: r.URL.Query().Get("agent"),
		Count:   limit,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	if events == nil {
		events = []fleet.Event{}
	}
	writeJSON(w, http.StatusOK, events)
}

type cycleResponse struct {
	Moved     []string          `json:"moved"`
	Waiting   []string          `json:"waiting"`
	Completed []string          `json:"completed"`
	Errors    map[string]string `json:"errors,omitempty"`
}

func (s *Server) handleStep(w http.ResponseWriter, r *http.Request) {
	report := s.service.Step()
	resp := cycleResponse{
		Moved:     nonNil(report.Moved),
		Waiting:   nonNil(report.Waiting),
		Completed: nonNil(report.Completed),
	}
	for _, ae := range report.Errors {
		if resp.Errors == nil {
			resp.Errors = make(map[string]string)
		}
		resp.Errors[ae.AgentID] = ae.Err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	s.service.Reset()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleWs(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("err upgrading connection: %v", err)
		return
	}

	c := &client{conn: conn}
	s.clientsMutex.Lock()
	s.clients[conn] = c
	total := len(s.clients)
	s.clientsMutex.Unlock()
	s.logger.Debug("websocket client connected, total clients: %d", total)

	if data, err := json.Marshal(s.frame()); err == nil {
		s.send(c, data)
	}
	go s.handleClientMessages(conn)
}

func (s *Server) handleClientMessages(conn *websocket.Conn) {
	defer s.drop(conn)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.logger.Warn("websocket error: %v", err)
			}
			return
		}
	}
}

// Broadcast pushes a frame to every client each time the fleet signals a
// change, until ctx ends.
func (s *Server) Broadcast(ctx context.Context) {
	changes := s.service.Director().Changes()
	for {
		select {
		case <-ctx.Done():
			s.closeAll()
			return
		case <-changes:
		}

		s.clientsMutex.Lock()
		idle := len(s.clients) == 0
		s.clientsMutex.Unlock()
		if idle {
			continue
		}

		data, err := json.Marshal(s.frame())
		if err != nil {
			s.logger.Error("err marshaling frame: %v", err)
			continue
		}
		s.clientsMutex.Lock()
		targets := make([]*client, 0, len(s.clients))
		for _, c := range s.clients {
			targets = append(targets, c)
		}
		s.clientsMutex.Unlock()
		for _, c := range targets {
			s.send(c, data)
		}
	}
}

func (s *Server) frame() Frame {
	queues := s.service.Queues()
	if queues == nil {
		queues = []models.LaneQueue{}
	}
	return Frame{
		Level:  s.service.Graph().Level,
		Robots: s.service.Robots(),
		Queues: queues,
		Stats:  s.service.Stats(),
	}
}

// send writes one frame to c under its write lock, so a slow client never
// holds the membership lock.
func (s *Server) send(c *client, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !s.connected(c.conn) {
		return
	}
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		s.logger.Warn("websocket write error: %v", err)
		s.drop(c.conn)
	}
}

func (s *Server) connected(conn *websocket.Conn) bool {
	s.clientsMutex.Lock()
	defer s.clientsMutex.Unlock()
	_, ok := s.clients[conn]
	return ok
}

func (s *Server) drop(conn *websocket.Conn) {
	s.clientsMutex.Lock()
	defer s.clientsMutex.Unlock()
	if _, ok := s.clients[conn]; !ok {
		return
	}
	conn.Close()
	delete(s.clients, conn)
	s.logger.Debug("websocket client disconnected, remaining clients: %d", len(s.clients))
}

func (s *Server) closeAll() {
	s.clientsMutex.Lock()
	defer s.clientsMutex.Unlock()
	for conn := range s.clients {
		conn.Close()
		delete(s.clients, conn)
	}
}

// statusFor maps core errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, fleet.ErrUnknownAgent):
		return http.StatusNotFound
	case errors.Is(err, fleet.ErrInvalidVertex),
		errors.Is(err, fleet.ErrInvalidDestination),
		errors.Is(err, navgraph.ErrUnknownVertex),
		errors.Is(err, robot.ErrInvalidTask):
		return http.StatusBadRequest
	case errors.Is(err, fleet.ErrNoPath), errors.Is(err, navgraph.ErrNotFound):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed: %v", err)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func nonNil(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}

package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/greenroomlabs/envirodash/internal/board"
	"github.com/greenroomlabs/envirodash/internal/control"
	"github.com/greenroomlabs/envirodash/internal/logger"
	"github.com/greenroomlabs/envirodash/internal/mqtt"
	"github.com/greenroomlabs/envirodash/internal/protocol"
	"github.com/greenroomlabs/envirodash/internal/sim"
)

// eventWindow is how many recent events a status snapshot carries.
const eventWindow = 50

// Server runs the control loop and exposes the HTTP/WebSocket API.
type Server struct {
	cfg   *Config
	ctrl  *control.Controller
	board *board.Transport
	gen   *sim.Generator
	webFS fs.FS

	logger    *logger.Logger
	publisher mqtt.Publisher

	clients   map[*wsClient]struct{}
	clientsMu sync.RWMutex

	upgrader websocket.Upgrader
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

// New creates a new Server.
func New(cfg *Config, ctrl *control.Controller, transport *board.Transport, gen *sim.Generator, pub mqtt.Publisher, webFS fs.FS) *Server {
	if pub == nil {
		pub = mqtt.NewNoop()
	}
	return &Server{
		cfg:   cfg,
		ctrl:  ctrl,
		board: transport,
		gen:   gen,
		webFS: webFS,
		logger: logger.New(logger.Config{
			Enabled:    cfg.Logging.Enabled,
			Path:       cfg.Logging.Path,
			IntervalMs: cfg.Logging.IntervalMs,
		}),
		publisher: pub,
		clients:   make(map[*wsClient]struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Handler builds the HTTP routing table. Split out from Run so tests
// can drive the API without a listening socket.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Serve embedded web files
	mux.Handle("/", http.FileServer(http.FS(s.webFS)))

	// WebSocket endpoint
	mux.HandleFunc("/ws", s.handleWS)

	// Dashboard API
	mux.HandleFunc("/api/data", s.handleData)
	mux.HandleFunc("/api/control", s.handleControl)
	mux.HandleFunc("/api/threshold", s.handleThreshold)
	mux.HandleFunc("/api/data/mode", s.handleDataMode)

	// Config API
	mux.HandleFunc("/api/config", s.handleConfig)

	// Serial link API
	mux.HandleFunc("/api/serial/ports", s.handleSerialPorts)
	mux.HandleFunc("/api/serial/connect", s.handleSerialConnect)
	mux.HandleFunc("/api/serial/disconnect", s.handleSerialDisconnect)
	mux.HandleFunc("/api/serial/status", s.handleSerialStatus)

	return mux
}

// Run starts the HTTP server and the control loop, blocking until ctx
// is cancelled or the listener fails.
func (s *Server) Run(ctx context.Context) error {
	go s.tickLoop(ctx)

	srv := &http.Server{
		Addr:    s.cfg.Server.ListenAddr,
		Handler: s.Handler(),
	}

	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutCtx)
	}()

	log.Printf("[server] listening on %s", s.cfg.Server.ListenAddr)
	err := srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// tickLoop is the control heartbeat: refresh the sample in simulation
// mode, run the hysteresis rules, push the resulting state everywhere.
func (s *Server) tickLoop(ctx context.Context) {
	tickMs := s.cfg.TickMs
	if tickMs <= 0 {
		tickMs = 2000
	}
	ticker := time.NewTicker(time.Duration(tickMs) * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Close()
			return
		case <-ticker.C:
			s.tick()
		}
	}
}

func (s *Server) tick() {
	if s.ctrl.Mode() == control.ModeSimulation && s.gen != nil {
		s.ctrl.ApplySample(s.gen.Next())
	}

	events := s.ctrl.Tick()

	// Push device flips down to the board as one combined status byte.
	// Only flips count; a smoke warning changes nothing on the wire.
	if hasDeviceEvent(events) && s.board.Connected() {
		status := s.ctrl.Devices().StatusByte()
		if err := s.board.Send(protocol.CmdDeviceControl, []byte{status}); err != nil {
			log.Printf("[server] device command failed: %v", err)
		}
	}

	st := s.ctrl.Snapshot(s.board.Connected(), eventWindow)
	s.broadcast(st)
	s.logger.Record(st.Data, st.Devices)

	if err := s.publisher.PublishStatus(st); err != nil {
		log.Printf("[mqtt] status: %v", err)
	}
	for _, e := range events {
		if err := s.publisher.PublishEvent(e); err != nil {
			log.Printf("[mqtt] event: %v", err)
		}
	}
}

func hasDeviceEvent(events []control.Event) bool {
	for _, e := range events {
		if e.Category == control.CategoryDevice {
			return true
		}
	}
	return false
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		data, err := s.cfg.ToJSON()
		if err != nil {
			http.Error(w, err.Error(), 500)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(data)

	case http.MethodPost:
		body, err := io.ReadAll(r.Body)
		if err != nil {
			writeError(w, 400, "bad request")
			return
		}
		if err := s.cfg.UpdateFromJSON(body); err != nil {
			writeError(w, 400, err.Error())
			return
		}
		if err := s.cfg.Save(); err != nil {
			log.Printf("[config] save failed: %v", err)
		}
		// Settings that take effect without a restart.
		s.logger.SetEnabled(s.cfg.Logging.Enabled)

		writeJSON(w, map[string]string{"status": "ok"})

	default:
		http.Error(w, "method not allowed", 405)
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[ws] upgrade error: %v", err)
		return
	}

	client := &wsClient{
		conn: conn,
		send: make(chan []byte, 64),
	}

	s.clientsMu.Lock()
	s.clients[client] = struct{}{}
	total := len(s.clients)
	s.clientsMu.Unlock()

	log.Printf("[ws] client connected (%d total)", total)

	// Send the current state immediately so the page renders without
	// waiting for the next tick.
	st := s.ctrl.Snapshot(s.board.Connected(), eventWindow)
	if data, err := json.Marshal(st); err == nil {
		client.send <- data
	}

	// Writer goroutine
	go func() {
		defer conn.Close()
		for msg := range client.send {
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				break
			}
		}
	}()

	// Reader goroutine (handle incoming messages / keep-alive)
	go func() {
		defer func() {
			s.clientsMu.Lock()
			delete(s.clients, client)
			total := len(s.clients)
			s.clientsMu.Unlock()
			close(client.send)
			log.Printf("[ws] client disconnected (%d total)", total)
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()
}

func (s *Server) handleData(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", 405)
		return
	}
	writeJSON(w, s.ctrl.Snapshot(s.board.Connected(), eventWindow))
}

func (s *Server) handleControl(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", 405)
		return
	}
	var req struct {
		Device string `json:"device"`
		State  bool   `json:"state"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, 400, "invalid request body")
		return
	}
	if err := s.ctrl.SetDevice(req.Device, req.State); err != nil {
		writeError(w, 400, err.Error())
		return
	}

	// Mirror the new states to the board when connected; the override
	// still applies locally if the write fails.
	if s.board.Connected() {
		frame, err := control.BuildDeviceCommand(req.Device, req.State, s.ctrl.Devices())
		if err == nil {
			if err := s.board.Send(frame.Cmd, frame.Payload); err != nil {
				log.Printf("[server] device command failed: %v", err)
			}
		}
	}

	writeJSON(w, map[string]interface{}{
		"status":  "ok",
		"devices": s.ctrl.Devices(),
	})
}

func (s *Server) handleThreshold(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", 405)
		return
	}
	var req struct {
		Sensor string   `json:"sensor"`
		Min    *float64 `json:"min"`
		Max    *float64 `json:"max"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, 400, "invalid request body")
		return
	}
	if req.Min == nil && req.Max == nil {
		writeError(w, 400, "no bound given")
		return
	}
	if req.Min != nil {
		if err := s.ctrl.SetThreshold(req.Sensor, "min", *req.Min); err != nil {
			writeError(w, 400, err.Error())
			return
		}
	}
	if req.Max != nil {
		if err := s.ctrl.SetThreshold(req.Sensor, "max", *req.Max); err != nil {
			writeError(w, 400, err.Error())
			return
		}
	}
	writeJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) handleDataMode(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodGet {
		writeJSON(w, map[string]interface{}{"mode": s.ctrl.Mode()})
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", 405)
		return
	}
	var req struct {
		Mode string `json:"mode"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, 400, "invalid request body")
		return
	}
	if err := s.ctrl.SetMode(control.Mode(req.Mode), s.board.Connected()); err != nil {
		writeError(w, 400, err.Error())
		return
	}
	writeJSON(w, map[string]interface{}{
		"status": "ok",
		"mode":   s.ctrl.Mode(),
	})
}

func (s *Server) handleSerialPorts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", 405)
		return
	}
	writeJSON(w, map[string]interface{}{"ports": s.board.ListPorts()})
}

func (s *Server) handleSerialConnect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", 405)
		return
	}
	var req struct {
		Port string `json:"port"`
		Baud int    `json:"baud"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, 400, "invalid request body")
		return
	}
	if req.Port == "" {
		req.Port = s.cfg.Serial.PortPath
	}
	if req.Baud == 0 {
		req.Baud = s.cfg.Serial.BaudRate
	}
	if err := s.board.Connect(req.Port, req.Baud); err != nil {
		s.ctrl.LogEvent(control.CategoryError, fmt.Sprintf("serial connect failed: %v", err), control.LevelError)
		writeError(w, 500, err.Error())
		return
	}
	s.ctrl.LogEvent(control.CategorySerial, fmt.Sprintf("connected to %s", req.Port), control.LevelInfo)
	writeJSON(w, map[string]interface{}{"status": "ok", "connected": true})
}

func (s *Server) handleSerialDisconnect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", 405)
		return
	}
	wasConnected := s.board.Connected()
	s.board.Disconnect()
	if wasConnected {
		s.ctrl.LogEvent(control.CategorySerial, "serial disconnected", control.LevelInfo)
	}
	writeJSON(w, map[string]interface{}{"status": "ok", "connected": false})
}

func (s *Server) handleSerialStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", 405)
		return
	}
	writeJSON(w, map[string]interface{}{
		"connected": s.board.Connected(),
		"state":     s.board.State().String(),
	})
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[server] encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"status": "error", "message": msg})
}

func (s *Server) broadcast(st control.Status) {
	data, err := json.Marshal(st)
	if err != nil {
		return
	}

	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()

	for client := range s.clients {
		select {
		case client.send <- data:
		default:
			// Client too slow, skip
		}
	}
}

// Package progress fans out per-run phase events (containers-opened,
// detectors-done, persisted) and status
// transitions to anyone watching a run over a websocket, so a caller
// doesn't have to poll the run-history row to see an analysis advance.
package progress

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/apk-analysis/unity-buildscan/internal/domain"
)

// Event is one message pushed to every client watching a run.
type Event struct {
	RunID     string `json:"run_id"`
	Phase     string `json:"phase,omitempty"`
	Status    string `json:"status,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// Hub tracks one websocket connection per watched run and serializes
// writes to it through a single broadcaster goroutine.
type Hub struct {
	logger      *logrus.Logger
	upgrader    websocket.Upgrader
	clients     map[string]*websocket.Conn
	clientMutex sync.RWMutex
	broadcast   chan Event
}

func NewHub(logger *logrus.Logger) *Hub {
	return &Hub{
		logger: logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients:   make(map[string]*websocket.Conn),
		broadcast: make(chan Event, 100),
	}
}

func (h *Hub) Start() {
	go h.run()
}

func (h *Hub) run() {
	for msg := range h.broadcast {
		h.clientMutex.RLock()
		for runID, client := range h.clients {
			if msg.RunID != runID && runID != "all" {
				continue
			}
			if err := client.WriteJSON(msg); err != nil {
				h.logger.WithError(err).Warn("progress: failed to write to websocket client")
				client.Close()
				h.clientMutex.RUnlock()
				h.clientMutex.Lock()
				delete(h.clients, runID)
				h.clientMutex.Unlock()
				h.clientMutex.RLock()
			}
		}
		h.clientMutex.RUnlock()
	}
}

// HandleWebSocket upgrades the connection and registers it against the
// run_id path/query parameter; "all" subscribes to every run.
func (h *Hub) HandleWebSocket(c *gin.Context) {
	runID := c.Param("run_id")
	if runID == "" {
		runID = c.Query("run_id")
	}
	if runID == "" {
		runID = "all"
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.WithError(err).Error("progress: failed to upgrade to websocket")
		return
	}
	defer conn.Close()

	h.clientMutex.Lock()
	h.clients[runID] = conn
	h.clientMutex.Unlock()

	h.logger.WithField("run_id", runID).Info("progress: websocket client connected")

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	h.clientMutex.Lock()
	delete(h.clients, runID)
	h.clientMutex.Unlock()

	h.logger.WithField("run_id", runID).Info("progress: websocket client disconnected")
}

func (h *Hub) BroadcastPhase(runID, phase string) {
	h.enqueue(Event{RunID: runID, Phase: phase, Timestamp: time.Now().Unix()})
}

func (h *Hub) BroadcastStatus(runID string, status domain.AnalysisRunStatus) {
	h.enqueue(Event{RunID: runID, Status: string(status), Timestamp: time.Now().Unix()})
}

func (h *Hub) enqueue(e Event) {
	select {
	case h.broadcast <- e:
	default:
		h.logger.Warn("progress: broadcast channel full, dropping event")
	}
}

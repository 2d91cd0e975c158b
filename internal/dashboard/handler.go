package dashboard

import (
	"encoding/json"
	"log"
	"os"
	"sync"
	"time"

	"github.com/notevault/notevault/internal/engine"
)

// Handler turns engine notifications into dashboard messages. It
// implements engine.Notifier.
type Handler struct {
	server *Server
	logger *log.Logger

	mu    sync.Mutex
	stats StatsData
}

// NewHandler creates an event handler connected to a dashboard server.
func NewHandler(server *Server, logger *log.Logger) *Handler {
	if logger == nil {
		logger = log.New(os.Stderr, "[dashboard] ", log.LstdFlags)
	}
	return &Handler{
		server: server,
		logger: logger,
		stats: StatsData{
			ByProject: make(map[string]int),
		},
	}
}

// PhaseChanged broadcasts a phase transition of a running sync.
func (h *Handler) PhaseChanged(runID, project string, phase engine.Phase) {
	data := PhaseData{
		RunID:   runID,
		Project: project,
		Phase:   string(phase),
	}

	dataJSON, err := json.Marshal(data)
	if err != nil {
		h.logger.Printf("Failed to marshal phase data: %v", err)
		return
	}

	h.server.Broadcast(Message{
		Type:      MessageTypePhase,
		Timestamp: time.Now(),
		Data:      dataJSON,
	})
}

// RunFinished broadcasts a completed run report followed by updated
// aggregate statistics.
func (h *Handler) RunFinished(report *engine.Report) {
	h.mu.Lock()
	h.stats.Runs++
	h.stats.ByProject[report.Project]++
	if report.Success() {
		h.stats.Succeeded++
	} else {
		h.stats.Failed++
	}
	h.mu.Unlock()

	dataJSON, err := json.Marshal(report)
	if err != nil {
		h.logger.Printf("Failed to marshal run report: %v", err)
		return
	}

	h.server.Broadcast(Message{
		Type:      MessageTypeRunComplete,
		Timestamp: time.Now(),
		Data:      dataJSON,
	})

	h.broadcastStats()
}

// broadcastStats sends current statistics to all clients.
func (h *Handler) broadcastStats() {
	h.mu.Lock()
	dataJSON, err := json.Marshal(h.stats)
	h.mu.Unlock()
	if err != nil {
		h.logger.Printf("Failed to marshal stats: %v", err)
		return
	}

	h.server.Broadcast(Message{
		Type:      MessageTypeStats,
		Timestamp: time.Now(),
		Data:      dataJSON,
	})
}

// Stats returns a copy of the current statistics.
func (h *Handler) Stats() StatsData {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := h.stats
	out.ByProject = make(map[string]int, len(h.stats.ByProject))
	for k, v := range h.stats.ByProject {
		out.ByProject[k] = v
	}
	return out
}

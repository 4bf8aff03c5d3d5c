package sse

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/refedo/OTS-sub007/internal/ops/service"
	"go.uber.org/zap"
)

// Event is a Server-Sent Event.
type Event struct {
	EventType string `json:"event"`
	Data      string `json:"data"`
}

// Client is a connected stream. An empty ProjectID receives every project.
type Client struct {
	ID        string
	UserID    string
	ProjectID string
	Events    chan Event
}

// Hub fans risk changes out to connected clients.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
	logger  *zap.Logger
}

func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		clients: make(map[string]*Client),
		logger:  logger.Named("sse"),
	}
}

// Register adds a client.
func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[client.ID] = client
	h.logger.Debug("client registered", zap.String("id", client.ID), zap.String("user_id", client.UserID), zap.Int("total", len(h.clients)))
}

// Unregister removes a client and closes its channel.
func (h *Hub) Unregister(clientID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if client, ok := h.clients[clientID]; ok {
		close(client.Events)
		delete(h.clients, clientID)
		h.logger.Debug("client unregistered", zap.String("id", clientID), zap.Int("total", len(h.clients)))
	}
}

// Count returns the number of connected clients.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Publish sends an event to every client subscribed to the project. Full buffers drop the event.
func (h *Hub) Publish(projectID string, event Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, client := range h.clients {
		if client.ProjectID != "" && projectID != "" && client.ProjectID != projectID {
			continue
		}
		select {
		case client.Events <- event:
		default:
			h.logger.Warn("client buffer full, dropping event", zap.String("id", client.ID))
		}
	}
}

type riskPayload struct {
	Kind       string   `json:"kind"`
	ID         string   `json:"id"`
	Type       string   `json:"type"`
	Severity   string   `json:"severity"`
	ProjectID  string   `json:"project_id"`
	Reason     string   `json:"reason"`
	AffectedWU []string `json:"affected_work_unit_ids"`
}

// NotifyRisks publishes each change as a "risk_<kind>" event.
func (h *Hub) NotifyRisks(_ context.Context, changes []service.RiskChange) {
	for _, ch := range changes {
		ev := ch.Event
		data, err := json.Marshal(riskPayload{
			Kind:       ch.Kind,
			ID:         ev.ID,
			Type:       ev.Type,
			Severity:   ev.Severity,
			ProjectID:  ev.ProjectID,
			Reason:     ev.Reason,
			AffectedWU: ev.AffectedWorkUnitIDs,
		})
		if err != nil {
			h.logger.Error("encode risk event failed", zap.Error(err))
			continue
		}
		h.Publish(ev.ProjectID, Event{EventType: "risk_" + ch.Kind, Data: string(data)})
	}
}

package sse

import (
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/montignypatrik/facnet-validator-sub009/internal/logger"
)

type SSEEvent string

const (
	SSEEventJobQueued    SSEEvent = "JobQueued"
	SSEEventJobProgress  SSEEvent = "JobProgress"
	SSEEventJobCompleted SSEEvent = "JobCompleted"
	SSEEventJobFailed    SSEEvent = "JobFailed"
	SSEEventJobCancelled SSEEvent = "JobCancelled"
)

type SSEMessage struct {
	Channel string   `json:"channel"`
	Event   SSEEvent `json:"event"`
	// Origin identifies the publishing process on the cross-process bus.
	// The bus forwarder drops messages carrying its own origin; the local
	// hub emitter already delivered those.
	Origin string `json:"origin,omitempty"`
	Data   any    `json:"data,omitempty"`
}

// Terminal reports whether the event ends the job's stream.
func (m SSEMessage) Terminal() bool {
	switch m.Event {
	case SSEEventJobCompleted, SSEEventJobFailed, SSEEventJobCancelled:
		return true
	}
	return false
}

// JobChannel is the per-job channel key used for both the in-process hub
// and the cross-process Redis bus.
func JobChannel(jobID uuid.UUID) string {
	return "job:" + jobID.String()
}

type SSEClient struct {
	ID       uuid.UUID
	Channels map[string]bool
	Outbound chan SSEMessage
	done     chan struct{}
}

func (c *SSEClient) Done() <-chan struct{} { return c.done }

// SSEHub fans job events out to connected SSE clients. Channel sets are
// created on first subscription and torn down when the last subscriber
// leaves; no per-job state outlives its subscribers. Broadcast never
// blocks: a client whose outbound buffer is full loses intermediate
// updates (the stream handler always re-reads the store for the terminal
// snapshot, so coalescing is safe).
type SSEHub struct {
	mu            sync.RWMutex
	logger        *logger.Logger
	subscriptions map[string]map[*SSEClient]bool
}

func NewSSEHub(log *logger.Logger) *SSEHub {
	return &SSEHub{
		logger:        log.With("component", "SSEHub"),
		subscriptions: make(map[string]map[*SSEClient]bool),
	}
}

func (hub *SSEHub) NewSSEClient() *SSEClient {
	return &SSEClient{
		ID:       uuid.New(),
		Channels: make(map[string]bool),
		Outbound: make(chan SSEMessage, 16),
		done:     make(chan struct{}),
	}
}

func (hub *SSEHub) AddChannel(client *SSEClient, channel string) {
	hub.mu.Lock()
	defer hub.mu.Unlock()

	channel = strings.TrimSpace(channel)
	if channel == "" {
		return
	}

	client.Channels[channel] = true

	clients, exists := hub.subscriptions[channel]
	if !exists {
		clients = make(map[*SSEClient]bool)
		hub.subscriptions[channel] = clients
	}
	clients[client] = true

	hub.logger.Debug("SSE client subscribed", "clientID", client.ID, "channel", channel)
}

func (hub *SSEHub) RemoveClient(client *SSEClient) {
	hub.mu.Lock()
	defer hub.mu.Unlock()

	for ch := range client.Channels {
		if subMap, ok := hub.subscriptions[ch]; ok {
			delete(subMap, client)
			if len(subMap) == 0 {
				delete(hub.subscriptions, ch)
			}
		}
	}
	client.Channels = make(map[string]bool)
	hub.logger.Debug("SSE client unsubscribed from all channels", "clientID", client.ID)
}

func (hub *SSEHub) Broadcast(msg SSEMessage) {
	hub.mu.RLock()
	defer hub.mu.RUnlock()

	if msg.Channel == "" {
		return
	}
	clientsMap, ok := hub.subscriptions[msg.Channel]
	if !ok {
		return
	}
	for c := range clientsMap {
		select {
		case c.Outbound <- msg:
		default:
			hub.logger.Warn("Dropping SSE message; outbound buffer full", "clientID", c.ID)
		}
	}
}

// SubscriberCount reports how many clients currently listen on a channel.
func (hub *SSEHub) SubscriberCount(channel string) int {
	hub.mu.RLock()
	defer hub.mu.RUnlock()
	return len(hub.subscriptions[channel])
}

func (hub *SSEHub) CloseClient(client *SSEClient) {
	hub.RemoveClient(client)
	select {
	case <-client.done:
	default:
		close(client.done)
	}
}

package hub

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"go.uber.org/zap"

	"github.com/Kenny427/vault-sub003/cmd/server/internal/protocol"
)

// PriceStream is the Redis-backed feed the hub fans out from.
type PriceStream interface {
	GetSnapshots(ctx context.Context, itemIDs []string) ([]string, error)
	SubscribeToFeed(ctx context.Context, itemID string) error
	UnsubscribeFromFeed(ctx context.Context, itemID string) error
	RunPubSub(ctx context.Context, onMessage func(itemID string, payload string))
	Close() error
}

type ClientInterface interface {
	ID() string
	SendJSON(v interface{})
	SendBytes(b []byte)
	Close()
}

// Hub routes per-item price updates to the websocket clients watching them.
// Upstream Redis channels are ref-counted: the hub holds exactly one
// subscription per item with at least one watcher.
type Hub struct {
	watchers   map[string]map[ClientInterface]bool
	clientSubs map[ClientInterface]map[string]bool

	stream   PriceStream
	logger   *zap.Logger
	mu       sync.RWMutex
	refCount map[string]int
}

func NewHub(stream PriceStream, logger *zap.Logger) *Hub {
	h := &Hub{
		watchers:   make(map[string]map[ClientInterface]bool),
		clientSubs: make(map[ClientInterface]map[string]bool),
		stream:     stream,
		logger:     logger,
		refCount:   make(map[string]int),
	}

	go h.stream.RunPubSub(context.Background(), h.Broadcast)

	return h
}

// validItemID accepts positive decimal integers only.
func validItemID(s string) bool {
	n, err := strconv.Atoi(s)
	return err == nil && n > 0
}

func (h *Hub) HandleCommand(client ClientInterface, req protocol.WSRequest) {
	switch req.Action {
	case protocol.ActionWatch:
		h.handleWatch(client, req)
	case protocol.ActionUnwatch:
		h.handleUnwatch(client, req)
	case protocol.ActionUnwatchAll:
		h.handleUnwatchAll(client, req)
	default:
		h.sendError(client, req.ID, "Unknown action: "+req.Action)
	}
}

func (h *Hub) handleWatch(client ClientInterface, req protocol.WSRequest) {
	h.mu.Lock()
	defer h.mu.Unlock()

	var accepted []string
	for _, id := range req.Payload.Items {
		if !validItemID(id) {
			continue
		}
		// Idempotency: ignore items already watched
		if h.clientSubs[client] != nil && h.clientSubs[client][id] {
			continue
		}
		accepted = append(accepted, id)
	}

	if len(accepted) == 0 {
		h.sendError(client, req.ID, "No valid/new item ids provided")
		return
	}

	if h.clientSubs[client] == nil {
		h.clientSubs[client] = make(map[string]bool)
	}

	for _, id := range accepted {
		h.clientSubs[client][id] = true
		if h.watchers[id] == nil {
			h.watchers[id] = make(map[ClientInterface]bool)
		}
		h.watchers[id][client] = true

		// Manage upstream subscription (ref counting)
		h.refCount[id]++
		if h.refCount[id] == 1 {
			if err := h.stream.SubscribeToFeed(context.Background(), id); err != nil {
				h.logger.Error("Failed to subscribe upstream", zap.String("item_id", id), zap.Error(err))
			}
		}
	}

	h.sendAck(client, req.ID, "success", fmt.Sprintf("Watching items %v", accepted))

	// Send stored snapshots async to avoid blocking the lock
	go func(targets []string) {
		snapshots, err := h.stream.GetSnapshots(context.Background(), targets)
		if err == nil {
			for _, snap := range snapshots {
				client.SendBytes([]byte(snap))
			}
		}
	}(accepted)
}

func (h *Hub) handleUnwatch(client ClientInterface, req protocol.WSRequest) {
	h.mu.Lock()
	defer h.mu.Unlock()

	var removed []string
	if subs, ok := h.clientSubs[client]; ok {
		for _, id := range req.Payload.Items {
			if subs[id] {
				delete(subs, id)
				delete(h.watchers[id], client)
				removed = append(removed, id)
				h.decreaseRefCount(id)
			}
		}
	}

	if len(removed) > 0 {
		h.sendAck(client, req.ID, "success", fmt.Sprintf("Stopped watching %v", removed))
	} else {
		h.sendError(client, req.ID, fmt.Sprintf("Not watching: %v", req.Payload.Items))
	}
}

func (h *Hub) handleUnwatchAll(client ClientInterface, req protocol.WSRequest) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if subs, ok := h.clientSubs[client]; ok {
		for id := range subs {
			delete(h.watchers[id], client)
			h.decreaseRefCount(id)
		}
		// Clear the map but keep the client registered
		h.clientSubs[client] = make(map[string]bool)
	}
	h.sendAck(client, req.ID, "success", "Stopped watching all items")
}

func (h *Hub) Unregister(client ClientInterface) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if subs, ok := h.clientSubs[client]; ok {
		for id := range subs {
			delete(h.watchers[id], client)
			h.decreaseRefCount(id)
		}
		delete(h.clientSubs, client)
	}
	client.Close()
}

func (h *Hub) Broadcast(itemID string, payload string) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if clients, ok := h.watchers[itemID]; ok {
		msgBytes := []byte(payload)
		for client := range clients {
			client.SendBytes(msgBytes)
		}
	}
}

func (h *Hub) decreaseRefCount(itemID string) {
	h.refCount[itemID]--
	if h.refCount[itemID] <= 0 {
		if err := h.stream.UnsubscribeFromFeed(context.Background(), itemID); err != nil {
			h.logger.Error("Failed to unsubscribe upstream", zap.String("item_id", itemID), zap.Error(err))
		}
		delete(h.refCount, itemID)
		delete(h.watchers, itemID)
	}
}

func (h *Hub) sendAck(c ClientInterface, id, status, msg string) {
	c.SendJSON(protocol.WSResponse{Type: "ack", ID: id, Status: status, Message: msg})
}

func (h *Hub) sendError(c ClientInterface, id, msg string) {
	c.SendJSON(protocol.WSResponse{Type: "error", ID: id, Message: msg})
}

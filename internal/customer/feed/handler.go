package feed

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/mschirtzinger/custcache/internal/customer/db"
	custsync "github.com/mschirtzinger/custcache/internal/customer/sync"
)

// CustomerUpdateData contains customer change information
type CustomerUpdateData struct {
	ID     string `json:"id"`
	Action string `json:"action"` // created, updated, deleted, role_coerced
	Name   string `json:"name,omitempty"`
	Email  string `json:"email,omitempty"`
	Role   string `json:"role,omitempty"`

	// RawRole is the unrecognized remote role (role_coerced only).
	RawRole string `json:"raw_role,omitempty"`
}

// SyncCompleteData contains resync completion information
type SyncCompleteData struct {
	Fetched      int           `json:"fetched"`
	Stored       int           `json:"stored"`
	Skipped      int           `json:"skipped"`
	RolesCoerced int           `json:"roles_coerced"`
	Duration     time.Duration `json:"duration"`
}

// StatsSource provides cache statistics. *sync.Engine implements it.
type StatsSource interface {
	Stats(ctx context.Context) (db.Stats, error)
}

// LastSyncer is implemented by stats sources that remember the most recent
// resync. *sync.Engine implements it.
type LastSyncer interface {
	LastSync() (custsync.Result, bool)
}

// StatsData is the payload of a stats message.
type StatsData struct {
	db.Stats

	// LastSync is when the most recent resync in this process started.
	LastSync *time.Time `json:"last_sync,omitempty"`
}

// Handler turns engine events into feed messages.
type Handler struct {
	server *Server
	stats  StatsSource
	logger *log.Logger
}

// NewHandler creates a handler broadcasting through server. If stats is
// non-nil, new clients are greeted with a stats message and a fresh one is
// broadcast after every change.
func NewHandler(server *Server, stats StatsSource, logger *log.Logger) *Handler {
	if logger == nil {
		logger = log.Default()
	}

	h := &Handler{
		server: server,
		stats:  stats,
		logger: logger,
	}
	if stats != nil {
		server.SetWelcome(h.statsMessage)
	}
	return h
}

// Observe is a sync.Observer.
func (h *Handler) Observe(ev custsync.Event) {
	switch ev.Type {
	case custsync.EventCreated, custsync.EventUpdated, custsync.EventRoleCoerced:
		if ev.Customer == nil {
			return
		}
		h.send(MessageTypeCustomerUpdate, ev.Time, CustomerUpdateData{
			ID:      ev.Customer.ID,
			Action:  string(ev.Type),
			Name:    ev.Customer.Name,
			Email:   ev.Customer.Email,
			Role:    ev.Customer.Role.String(),
			RawRole: ev.RawRole,
		})
		if ev.Type == custsync.EventRoleCoerced {
			// Stats follow the synced event.
			return
		}

	case custsync.EventDeleted:
		h.send(MessageTypeCustomerUpdate, ev.Time, CustomerUpdateData{
			ID:     ev.ID,
			Action: string(ev.Type),
		})

	case custsync.EventSynced:
		if ev.Result == nil {
			return
		}
		h.send(MessageTypeSyncComplete, ev.Time, SyncCompleteData{
			Fetched:      ev.Result.Fetched,
			Stored:       ev.Result.Stored,
			Skipped:      len(ev.Result.Skipped),
			RolesCoerced: ev.Result.RolesCoerced,
			Duration:     ev.Result.Duration,
		})

	default:
		return
	}

	h.broadcastStats()
}

func (h *Handler) broadcastStats() {
	if h.stats == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if msg, ok := h.statsMessage(ctx); ok {
		h.server.Broadcast(msg)
	}
}

func (h *Handler) statsMessage(ctx context.Context) (Message, bool) {
	stats, err := h.stats.Stats(ctx)
	if err != nil {
		h.logger.Printf("Failed to load stats: %v", err)
		return Message{}, false
	}

	payload := StatsData{Stats: stats}
	if ls, ok := h.stats.(LastSyncer); ok {
		if last, ok := ls.LastSync(); ok {
			payload.LastSync = &last.StartedAt
		}
	}

	data, err := json.Marshal(payload)
	if err != nil {
		h.logger.Printf("Failed to marshal stats: %v", err)
		return Message{}, false
	}
	return Message{Type: MessageTypeStats, Timestamp: time.Now(), Data: data}, true
}

func (h *Handler) send(typ MessageType, ts time.Time, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		h.logger.Printf("Failed to marshal %s data: %v", typ, err)
		return
	}
	if ts.IsZero() {
		ts = time.Now()
	}
	h.server.Broadcast(Message{Type: typ, Timestamp: ts, Data: data})
}

package ws

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/blocq/blocq-server/internal/model"
)

// binding ties a connection to the participant (and, once matched, the
// session) it speaks for. Kept in the registry rather than on the
// connection object so routing state has one explicit owner.
type binding struct {
	participant model.ParticipantID
	session     model.SessionID
}

// Registry is the authoritative map of live connections and their
// participant/session bindings, plus each connection's liveness status.
type Registry struct {
	mu            sync.RWMutex
	clients       map[model.ConnectionID]*Client
	bindings      map[model.ConnectionID]binding
	byParticipant map[model.ParticipantID]model.ConnectionID
	status        map[model.ConnectionID]model.ConnectionStatus
	logger        *slog.Logger
}

// NewRegistry creates an empty Registry
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		clients:       make(map[model.ConnectionID]*Client),
		bindings:      make(map[model.ConnectionID]binding),
		byParticipant: make(map[model.ParticipantID]model.ConnectionID),
		status:        make(map[model.ConnectionID]model.ConnectionStatus),
		logger:        logger.With(slog.String("component", "registry")),
	}
}

// Add registers a freshly upgraded connection
func (r *Registry) Add(client *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[client.ID()] = client
	r.status[client.ID()] = model.StatusConnected
}

// Remove forgets a closed connection and any bindings attached to it
func (r *Registry) Remove(conn model.ConnectionID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.bindings[conn]; ok && b.participant != "" {
		if r.byParticipant[b.participant] == conn {
			delete(r.byParticipant, b.participant)
		}
	}
	delete(r.bindings, conn)
	delete(r.clients, conn)
	delete(r.status, conn)
}

// Bind attaches a participant identity to a connection. A rebind (new join
// on the same connection) overwrites the prior binding, last-writer-wins.
func (r *Registry) Bind(conn model.ConnectionID, id model.ParticipantID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.bindings[conn]; ok && old.participant != "" && old.participant != id {
		if r.byParticipant[old.participant] == conn {
			delete(r.byParticipant, old.participant)
		}
	}
	r.bindings[conn] = binding{participant: id}
	r.byParticipant[id] = conn
}

// BindSession records the session a participant was matched into
func (r *Registry) BindSession(id model.ParticipantID, sessionID model.SessionID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	conn, ok := r.byParticipant[id]
	if !ok {
		return
	}
	b := r.bindings[conn]
	b.session = sessionID
	r.bindings[conn] = b
}

// ClearSession drops a participant's session binding, keeping the
// participant binding so the connection can be offered a new match
func (r *Registry) ClearSession(id model.ParticipantID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	conn, ok := r.byParticipant[id]
	if !ok {
		return
	}
	b := r.bindings[conn]
	b.session = ""
	r.bindings[conn] = b
}

// Binding resolves a connection to its participant and session. ok is false
// for connections that never joined.
func (r *Registry) Binding(conn model.ConnectionID) (model.ParticipantID, model.SessionID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.bindings[conn]
	if !ok || b.participant == "" {
		return "", "", false
	}
	return b.participant, b.session, true
}

// Connected reports whether a participant currently has a live connection
func (r *Registry) Connected(id model.ParticipantID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byParticipant[id]
	return ok
}

// Send marshals and queues a message for a participant. Unknown or
// already-departed participants are a silent no-op: the peer is gone and
// there is nothing to notify.
func (r *Registry) Send(id model.ParticipantID, msg any) {
	r.mu.RLock()
	conn, ok := r.byParticipant[id]
	var client *Client
	if ok {
		client = r.clients[conn]
	}
	r.mu.RUnlock()

	if client == nil {
		return
	}

	data, err := json.Marshal(msg)
	if err != nil {
		r.logger.Error("outbound marshal failed",
			slog.String("player_id", string(id)),
			slog.String("error", err.Error()))
		return
	}
	client.enqueue(data)
}

// Unregister retires a participant identity. The connection itself stays
// open and unbound; the client may join again with a fresh identity.
func (r *Registry) Unregister(id model.ParticipantID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	conn, ok := r.byParticipant[id]
	if !ok {
		return
	}
	delete(r.byParticipant, id)
	delete(r.bindings, conn)
}

// ConnectedCount returns the number of participants with live connections
func (r *Registry) ConnectedCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byParticipant)
}

// Clients returns a snapshot of all open connections
func (r *Registry) Clients() []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	clients := make([]*Client, 0, len(r.clients))
	for _, c := range r.clients {
		clients = append(clients, c)
	}
	return clients
}

// StatusOf returns a connection's liveness status
func (r *Registry) StatusOf(conn model.ConnectionID) model.ConnectionStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.status[conn]
}

// MarkConnected records a probe answer
func (r *Registry) MarkConnected(conn model.ConnectionID) {
	r.setStatus(conn, model.StatusConnected)
}

// MarkProbing records an outstanding probe
func (r *Registry) MarkProbing(conn model.ConnectionID) {
	r.setStatus(conn, model.StatusProbing)
}

// MarkLost records a failed probe ahead of eviction
func (r *Registry) MarkLost(conn model.ConnectionID) {
	r.setStatus(conn, model.StatusLost)
}

func (r *Registry) setStatus(conn model.ConnectionID, status model.ConnectionStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.clients[conn]; ok {
		r.status[conn] = status
	}
}

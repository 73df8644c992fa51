package hub

import (
	"log/slog"
	"sync"

	"github.com/albertsyd/collabengine/internal/document"
	"github.com/albertsyd/collabengine/internal/operations"
)

// broadcastMessage pairs a message with its sender for broadcast routing
type broadcastMessage struct {
	message []byte
	sender  *Client
}

// Hub coordinates websocket connections and routes operations between
// clients editing the same document. It manages document-specific client
// groups, transforms and applies incoming operations to shared document
// state, acknowledges them back to the sender, and broadcasts the
// transformed result to the other participants.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan *broadcastMessage
	register   chan *Client
	unregister chan *Client
	documents  map[string]*document.Document
	priority   operations.Priority
	log        *slog.Logger
	mu         sync.RWMutex
	quit       chan struct{}
}

// NewHub creates and initializes a new Hub instance. All connected peers
// inherit the hub's tie-break priority so transforms stay deterministic
// across the session.
func NewHub(priority operations.Priority, log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan *broadcastMessage),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		documents:  make(map[string]*document.Document),
		priority:   priority,
		log:        log,
		quit:       make(chan struct{}),
	}
}

// Run starts the hub's main event loop, processing client registration,
// unregistration, and message routing. Each received operation is processed
// to completion before the next is considered, preserving causal order.
// This method blocks and should be run in a goroutine.
func (h *Hub) Run() {
	for {
		select {
		case <-h.quit:
			h.log.Info("hub shutting down, closing all clients")
			h.closeAllClients()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mu.Unlock()
			h.log.Info("client registered", "author", client.author, "document", client.documentID, "total", total)
			h.broadcastUserCount()

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				h.log.Info("client unregistered", "author", client.author, "total", len(h.clients))
			}
			h.mu.Unlock()
			h.broadcastUserCount()

		case bm := <-h.broadcast:
			h.route(bm)
		}
	}
}

// route dispatches one inbound message. Corrupt messages are logged and
// ignored rather than crashing the session.
func (h *Hub) route(bm *broadcastMessage) {
	msg, err := MessageFromBytes(bm.message)
	if err != nil {
		h.log.Warn("ignoring malformed message", "error", err)
		return
	}
	if msg.DocumentID == "" {
		h.log.Warn("ignoring message without document id", "type", string(msg.Type))
		return
	}

	doc := h.GetOrCreateDocument(msg.DocumentID)

	switch msg.Type {
	case MsgTypeOperation:
		if msg.Operation == nil {
			h.log.Warn("ignoring operation message without operation", "document", msg.DocumentID)
			return
		}
		h.handleOperation(doc, msg, bm.sender)

	case MsgTypeContent:
		doc.SetContent(msg.Content)
		out := NewContentMessage(msg.DocumentID, msg.Content, doc.GetVersion())
		if data, err := out.ToBytes(); err == nil {
			h.broadcastToDocument(msg.DocumentID, data, bm.sender)
		}

	default:
		h.broadcastToDocument(msg.DocumentID, bm.message, bm.sender)
	}
}

// handleOperation transforms an incoming operation against the document's
// accepted history, applies it, acks the sender, and relays the transformed
// operation to everyone else on the document.
func (h *Hub) handleOperation(doc *document.Document, msg *Message, sender *Client) {
	transformed, _, version, err := doc.ApplyOperation(msg.Operation)
	if err != nil {
		h.log.Warn("operation rejected",
			"document", msg.DocumentID, "op", msg.Operation.String(), "error", err)
		return
	}

	h.log.Debug("operation applied",
		"document", msg.DocumentID, "op", transformed.String(), "version", version)

	if sender != nil {
		// A dropped ack would leave the sender's operation pending forever,
		// so a sender that can't take it is evicted like any stalled client.
		ack := NewAckMessage(msg.DocumentID, msg.Operation.ID, version)
		if data, err := ack.ToBytes(); err == nil {
			h.trySend(sender, data)
		}
	}

	transformed.Version = version
	relay := NewOperationMessage(msg.DocumentID, transformed)
	data, err := relay.ToBytes()
	if err != nil {
		h.log.Error("operation serialization failed", "error", err)
		return
	}
	h.broadcastToDocument(msg.DocumentID, data, sender)
}

// Register adds a client to the hub.
func (h *Hub) Register(client *Client) {
	h.register <- client
}

// Unregister removes a client from the hub.
func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

// Broadcast routes a message from a client. The sender parameter can be nil
// for system messages.
func (h *Hub) Broadcast(message []byte, sender *Client) {
	h.broadcast <- &broadcastMessage{
		message: message,
		sender:  sender,
	}
}

// ClientCount returns the current number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ClientCountForDocument returns the number of clients editing a specific document.
func (h *Hub) ClientCountForDocument(documentID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	count := 0
	for client := range h.clients {
		if client.documentID == documentID {
			count++
		}
	}
	return count
}

// GetOrCreateDocument retrieves an existing document or creates a new one.
func (h *Hub) GetOrCreateDocument(documentID string) *document.Document {
	h.mu.Lock()
	defer h.mu.Unlock()

	doc, exists := h.documents[documentID]
	if !exists {
		doc = document.NewDocument(h.priority)
		h.documents[documentID] = doc
		h.log.Info("created new document", "document", documentID)
	}
	return doc
}

// GetDocument retrieves a document by ID, returns nil if not found.
func (h *Hub) GetDocument(documentID string) *document.Document {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.documents[documentID]
}

// broadcastUserCount sends the current participant count to all clients on
// each document.
func (h *Hub) broadcastUserCount() {
	h.mu.RLock()
	defer h.mu.RUnlock()

	docCounts := make(map[string]int)
	for client := range h.clients {
		docCounts[client.documentID]++
	}

	for documentID, count := range docCounts {
		msg := NewUserCountMessage(count)
		data, err := msg.ToBytes()
		if err != nil {
			h.log.Error("user count message creation failed", "error", err)
			continue
		}

		for client := range h.clients {
			if client.documentID == documentID {
				client.deliver(data)
			}
		}
	}
}

// broadcastToDocument sends a message to all clients editing a specific
// document. The exclude parameter can be nil to send to all clients, or set
// to skip the sender.
func (h *Hub) broadcastToDocument(documentID string, message []byte, exclude *Client) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	sent := 0
	for client := range h.clients {
		if client.documentID != documentID {
			continue
		}
		if exclude != nil && client == exclude {
			continue
		}

		if h.trySend(client, message) {
			sent++
		}
	}

	h.log.Debug("broadcast complete", "document", documentID, "recipients", sent)
}

// trySend queues a message for one client without blocking. A full send
// buffer marks the client for removal through the unregister channel rather
// than deleting it directly, to avoid racing the event loop.
func (h *Hub) trySend(client *Client, message []byte) bool {
	select {
	case client.send <- message:
		return true
	default:
		go h.Unregister(client)
		h.log.Warn("client marked for removal, send buffer full", "author", client.author)
		return false
	}
}

// Shutdown gracefully stops the hub and closes all client connections.
func (h *Hub) Shutdown() {
	close(h.quit)
}

// closeAllClients closes all client connections during shutdown.
func (h *Hub) closeAllClients() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		close(client.send)
		if client.conn != nil {
			if err := client.conn.Close(); err != nil {
				h.log.Warn("error closing client connection", "error", err)
			}
		}
	}
	h.clients = make(map[*Client]bool)
}

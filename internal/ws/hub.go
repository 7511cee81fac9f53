// Package ws provides the real-time notification fabric using WebSockets.
// It implements a hub-and-spoke pattern: every connected client receives
// broadcast events, and clients explicitly join per-patient rooms to receive
// private events for that patient.
package ws

import (
	"encoding/json"
	"log"
	"sync"

	"github.com/google/uuid"
)

// Event names emitted by the server.
const (
	EventNewPatient         = "newPatient"
	EventClassificationDone = "classificationDone"
	EventResultsReady       = "resultsReady"
	EventPatientDeleted     = "patientDeleted"
	EventPatientRoomJoined  = "patientRoomJoined"
)

// Event names accepted from clients.
const (
	EventJoinPatientRoom  = "joinPatientRoom"
	EventLeavePatientRoom = "leavePatientRoom"
)

// RoomName returns the private room name for a patient id.
func RoomName(patientID string) string {
	return "patient_" + patientID
}

// Frame is the wire envelope for both directions: an event name plus an
// arbitrary JSON payload.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// joinPayload is the inbound payload for room join/leave frames.
type joinPayload struct {
	PatientID string `json:"patientId"`
}

// Notifier is the slice of the hub the orchestration service depends on.
// Delivery is best effort: no acknowledgement, no persistence, no replay.
type Notifier interface {
	// Broadcast delivers the event to every connected client.
	Broadcast(event string, payload any)
	// Publish delivers the event only to clients that joined the room.
	Publish(room, event string, payload any)
}

// Client represents a single WebSocket connection. Its room memberships are
// ephemeral and torn down when the connection unregisters.
type Client struct {
	ID   string
	Send chan []byte

	rooms map[string]struct{} // guarded by the hub mutex
}

// NewClient creates an unregistered client with a buffered send queue.
func NewClient() *Client {
	return &Client{
		ID:    uuid.New().String(),
		Send:  make(chan []byte, 256),
		rooms: make(map[string]struct{}),
	}
}

// Hub is the central connection registry. It tracks all connected clients and
// their room memberships. All operations are thread-safe via sync.RWMutex.
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]map[*Client]struct{} // room -> member set
	all   map[*Client]struct{}            // every connected client
}

// NewHub creates a Hub ready to manage clients. One hub instance is created at
// process start and injected wherever notifications are emitted.
func NewHub() *Hub {
	return &Hub{
		rooms: make(map[string]map[*Client]struct{}),
		all:   make(map[*Client]struct{}),
	}
}

var _ Notifier = (*Hub)(nil)

// Register adds a client to the hub.
func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.all[client] = struct{}{}
}

// Unregister removes a client, drops all of its room memberships, and closes
// its Send channel. Safe to call for a client that was already removed.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.all[client]; !ok {
		return
	}

	for room := range client.rooms {
		h.dropMembership(room, client)
	}
	client.rooms = make(map[string]struct{})

	delete(h.all, client)
	close(client.Send)
}

// JoinPatientRoom subscribes the client to the patient's private room and
// confirms the join back to that client only. Joining twice is idempotent.
func (h *Hub) JoinPatientRoom(client *Client, patientID string) {
	room := RoomName(patientID)

	h.mu.Lock()
	if _, ok := h.all[client]; ok {
		if h.rooms[room] == nil {
			h.rooms[room] = make(map[*Client]struct{})
		}
		h.rooms[room][client] = struct{}{}
		client.rooms[room] = struct{}{}
	}
	h.mu.Unlock()

	h.send(client, EventPatientRoomJoined, map[string]string{
		"patientId": patientID,
		"roomId":    room,
	})
}

// LeavePatientRoom removes the client from the patient's private room.
// Leaving a room the client never joined is a no-op.
func (h *Hub) LeavePatientRoom(client *Client, patientID string) {
	room := RoomName(patientID)

	h.mu.Lock()
	defer h.mu.Unlock()
	h.dropMembership(room, client)
	delete(client.rooms, room)
}

// dropMembership removes the client from a room set. Caller holds the lock.
func (h *Hub) dropMembership(room string, client *Client) {
	if members, ok := h.rooms[room]; ok {
		delete(members, client)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
}

// HandleFrame dispatches one inbound client frame.
func (h *Hub) HandleFrame(client *Client, frame Frame) {
	var p joinPayload
	if err := json.Unmarshal(frame.Data, &p); err != nil || p.PatientID == "" {
		return // ignore malformed frames
	}

	switch frame.Event {
	case EventJoinPatientRoom:
		h.JoinPatientRoom(client, p.PatientID)
	case EventLeavePatientRoom:
		h.LeavePatientRoom(client, p.PatientID)
	}
}

// Broadcast sends an event to every connected client.
func (h *Hub) Broadcast(event string, payload any) {
	data, err := encodeFrame(event, payload)
	if err != nil {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.all {
		select {
		case client.Send <- data:
		default:
			// Client buffer full; skip to avoid blocking.
		}
	}
}

// Publish sends an event only to clients currently in the room.
func (h *Hub) Publish(room, event string, payload any) {
	data, err := encodeFrame(event, payload)
	if err != nil {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.rooms[room] {
		select {
		case client.Send <- data:
		default:
		}
	}
}

// send delivers a frame to a single client, non-blocking.
func (h *Hub) send(client *Client, event string, payload any) {
	data, err := encodeFrame(event, payload)
	if err != nil {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	if _, ok := h.all[client]; !ok {
		return
	}
	select {
	case client.Send <- data:
	default:
	}
}

// ClientCount returns the total number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.all)
}

// RoomCount returns the number of clients currently in a room.
func (h *Hub) RoomCount(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

// MembershipCount returns how many rooms the client has joined.
func (h *Hub) MembershipCount(client *Client) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(client.rooms)
}

func encodeFrame(event string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("ws: failed to marshal %s payload: %v", event, err)
		return nil, err
	}
	out, err := json.Marshal(Frame{Event: event, Data: data})
	if err != nil {
		log.Printf("ws: failed to marshal %s frame: %v", event, err)
		return nil, err
	}
	return out, nil
}

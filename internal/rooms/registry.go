// Package rooms tracks which connections occupy which per-document channels.
//
// Rooms come in two tiers. Membership rooms carry coarse metadata notices for
// sidebar observers; a connection may hold many. Active rooms carry live edit
// traffic and presence for open editors; a connection holds at most one, which
// the single-value activeDoc field makes unrepresentable to violate.
package rooms

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	ErrUnknownConnection = errors.New("connection is not registered")
	ErrAlreadyInRoom     = errors.New("connection is already in the room")
	ErrNotInRoom         = errors.New("connection is not in the room")
	ErrActiveElsewhere   = errors.New("connection has a different active room")
)

// Sender delivers a framed message to one connection.
type Sender interface {
	Send(message []byte)
}

type member struct {
	id        uuid.UUID
	userID    string
	sender    Sender
	rooms     map[string]struct{} // membership rooms, keyed by documentID
	activeDoc string              // "" when no editor is open
	createdAt time.Time
}

// Registry is the process-wide room index. All state is in-memory; one
// process owns every room for the documents it serves.
type Registry struct {
	mu         sync.RWMutex
	members    map[uuid.UUID]*member
	membership map[string]map[uuid.UUID]*member // documentID -> conns
	active     map[string]map[uuid.UUID]*member // documentID -> conns
	users      map[string]map[uuid.UUID]*member // userID -> conns (private channel)

	logger *slog.Logger
}

func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		members:    make(map[uuid.UUID]*member),
		membership: make(map[string]map[uuid.UUID]*member),
		active:     make(map[string]map[uuid.UUID]*member),
		users:      make(map[string]map[uuid.UUID]*member),
		logger:     logger.With(slog.String("component", "rooms")),
	}
}

// Register adds a connection and subscribes it to its user's private channel.
func (r *Registry) Register(connID uuid.UUID, userID string, sender Sender) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.members[connID]; exists {
		return errors.New("connection is already registered")
	}
	m := &member{
		id:        connID,
		userID:    userID,
		sender:    sender,
		rooms:     make(map[string]struct{}),
		createdAt: time.Now(),
	}
	r.members[connID] = m

	userConns, ok := r.users[userID]
	if !ok {
		userConns = make(map[uuid.UUID]*member)
		r.users[userID] = userConns
	}
	userConns[connID] = m

	r.logger.Debug("Connection registered", slog.String("connID", connID.String()), slog.String("userID", userID))
	return nil
}

// Deregister removes a connection from every index. Callers are expected to
// have run room-leave handling (with its broadcasts and flushes) first.
func (r *Registry) Deregister(connID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.members[connID]
	if !ok {
		return
	}
	delete(r.members, connID)

	for docID := range m.rooms {
		r.dropFromRoom(r.membership, docID, connID)
	}
	if m.activeDoc != "" {
		r.dropFromRoom(r.active, m.activeDoc, connID)
	}

	if userConns, ok := r.users[m.userID]; ok {
		delete(userConns, connID)
		if len(userConns) == 0 {
			delete(r.users, m.userID)
		}
	}

	r.logger.Debug("Connection deregistered", slog.String("connID", connID.String()))
}

// UserID resolves the authenticated user behind a connection.
func (r *Registry) UserID(connID uuid.UUID) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.members[connID]
	if !ok {
		return "", false
	}
	return m.userID, true
}

// --- Membership rooms ---

func (r *Registry) JoinMembership(connID uuid.UUID, documentID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.members[connID]
	if !ok {
		return ErrUnknownConnection
	}
	if _, in := m.rooms[documentID]; in {
		return ErrAlreadyInRoom
	}

	m.rooms[documentID] = struct{}{}
	r.addToRoom(r.membership, documentID, m)
	r.logger.Debug("Joined membership room", slog.String("connID", connID.String()), slog.String("documentID", documentID))
	return nil
}

func (r *Registry) LeaveMembership(connID uuid.UUID, documentID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.members[connID]
	if !ok {
		return ErrUnknownConnection
	}
	if _, in := m.rooms[documentID]; !in {
		return ErrNotInRoom
	}

	delete(m.rooms, documentID)
	r.dropFromRoom(r.membership, documentID, connID)
	r.logger.Debug("Left membership room", slog.String("connID", connID.String()), slog.String("documentID", documentID))
	return nil
}

func (r *Registry) InMembership(connID uuid.UUID, documentID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.members[connID]
	if !ok {
		return false
	}
	_, in := m.rooms[documentID]
	return in
}

// MembershipRooms returns the membership rooms a connection occupies.
func (r *Registry) MembershipRooms(connID uuid.UUID) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.members[connID]
	if !ok {
		return nil
	}
	docs := make([]string, 0, len(m.rooms))
	for docID := range m.rooms {
		docs = append(docs, docID)
	}
	return docs
}

// --- Active rooms ---

// JoinActive opens an editor instance for the connection. A connection that
// already has a different active room must leave it first.
func (r *Registry) JoinActive(connID uuid.UUID, documentID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.members[connID]
	if !ok {
		return ErrUnknownConnection
	}
	if m.activeDoc == documentID {
		return ErrAlreadyInRoom
	}
	if m.activeDoc != "" {
		return ErrActiveElsewhere
	}

	m.activeDoc = documentID
	r.addToRoom(r.active, documentID, m)
	r.logger.Debug("Joined active room", slog.String("connID", connID.String()), slog.String("documentID", documentID))
	return nil
}

func (r *Registry) LeaveActive(connID uuid.UUID, documentID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.members[connID]
	if !ok {
		return ErrUnknownConnection
	}
	if m.activeDoc != documentID {
		return ErrNotInRoom
	}

	m.activeDoc = ""
	r.dropFromRoom(r.active, documentID, connID)
	r.logger.Debug("Left active room", slog.String("connID", connID.String()), slog.String("documentID", documentID))
	return nil
}

// ActiveDoc returns the connection's open editor document, if any.
func (r *Registry) ActiveDoc(connID uuid.UUID) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.members[connID]
	if !ok || m.activeDoc == "" {
		return "", false
	}
	return m.activeDoc, true
}

// ActiveRoomEmpty reports whether no connection holds documentID open.
func (r *Registry) ActiveRoomEmpty(documentID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.active[documentID]) == 0
}

// --- Fan-out ---

// BroadcastMembership sends to every membership-room occupant except `except`.
// Pass uuid.Nil to include everyone.
func (r *Registry) BroadcastMembership(documentID string, except uuid.UUID, message []byte) {
	r.broadcast(r.membership, documentID, except, message)
}

// BroadcastActive sends to every active-room occupant except `except`.
func (r *Registry) BroadcastActive(documentID string, except uuid.UUID, message []byte) {
	r.broadcast(r.active, documentID, except, message)
}

func (r *Registry) broadcast(index map[string]map[uuid.UUID]*member, documentID string, except uuid.UUID, message []byte) {
	r.mu.RLock()
	targets := make([]Sender, 0, len(index[documentID]))
	for id, m := range index[documentID] {
		if id == except {
			continue
		}
		targets = append(targets, m.sender)
	}
	r.mu.RUnlock()

	for _, s := range targets {
		s.Send(message)
	}
}

// NotifyUser delivers a message on a user's private channel: every live
// connection authenticated as that user.
func (r *Registry) NotifyUser(userID string, message []byte) {
	r.mu.RLock()
	targets := make([]Sender, 0, len(r.users[userID]))
	for _, m := range r.users[userID] {
		targets = append(targets, m.sender)
	}
	r.mu.RUnlock()

	for _, s := range targets {
		s.Send(message)
	}
}

// UserConnectionCount feeds the per-user connection limiter.
func (r *Registry) UserConnectionCount(userID string) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users[userID]), nil
}

// OldestUserConnection is used by the limiter's cycle mode.
func (r *Registry) OldestUserConnection(userID string) (uuid.UUID, Sender, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var oldest *member
	for _, m := range r.users[userID] {
		if oldest == nil || m.createdAt.Before(oldest.createdAt) {
			oldest = m
		}
	}
	if oldest == nil {
		return uuid.Nil, nil, false
	}
	return oldest.id, oldest.sender, true
}

// CloseAll shuts down every registered transport during server shutdown.
// Senders that do not expose a Close are skipped; their goroutines exit when
// the root context is cancelled.
func (r *Registry) CloseAll(reason error) {
	r.mu.RLock()
	targets := make([]Sender, 0, len(r.members))
	for _, m := range r.members {
		targets = append(targets, m.sender)
	}
	r.mu.RUnlock()

	for _, s := range targets {
		if closer, ok := s.(interface{ Close(error) }); ok {
			closer.Close(reason)
		}
	}
}

// --- internal index maintenance (callers hold r.mu) ---

func (r *Registry) addToRoom(index map[string]map[uuid.UUID]*member, documentID string, m *member) {
	room, ok := index[documentID]
	if !ok {
		room = make(map[uuid.UUID]*member)
		index[documentID] = room
	}
	room[m.id] = m
}

func (r *Registry) dropFromRoom(index map[string]map[uuid.UUID]*member, documentID string, connID uuid.UUID) {
	room, ok := index[documentID]
	if !ok {
		return
	}
	delete(room, connID)
	// memory hygiene: drop empty rooms
	if len(room) == 0 {
		delete(index, documentID)
	}
}

package chat

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"
)

// EventType names an event delivered to connections.
type EventType string

const (
	EventJoined   EventType = "joined"
	EventHistory  EventType = "history"
	EventMessage  EventType = "message"
	EventPresence EventType = "presence"
	EventTyping   EventType = "typing"
	EventLeft     EventType = "left"
)

// Event is an outbound notification. Data is one of the payload types below,
// a Message or a []Message.
type Event struct {
	Type EventType `json:"event"`
	Data any       `json:"data"`
}

// JoinedPayload acknowledges a successful join.
type JoinedPayload struct {
	Room RoomInfo `json:"room"`
	Self string   `json:"self"`
}

// PresencePayload carries a room's current members.
type PresencePayload struct {
	RoomCode string   `json:"roomCode"`
	Members  []Member `json:"members"`
}

// TypingPayload tells members that someone is typing.
type TypingPayload struct {
	ConnectionID string `json:"connectionId"`
	Name         string `json:"name"`
}

// LeftPayload acknowledges an explicit leave.
type LeftPayload struct {
	RoomCode string `json:"roomCode"`
}

// Delivery hands events to live connections. Implementations must not call
// back into the SessionManager.
type Delivery interface {
	Deliver(ev Event, connectionIDs ...string)
}

// SessionConfig holds the per-connection limits.
type SessionConfig struct {
	Bucket        BucketConfig
	MaxTextLength int
	MaxNameLength int
	MaxCodeLength int
	// FileURLPrefix, when set, restricts send-file to URLs served by this
	// deployment's upload store.
	FileURLPrefix string
}

// DefaultSessionConfig returns the limits used when nothing is configured.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		Bucket:        DefaultBucketConfig(),
		MaxTextLength: 10000,
		MaxNameLength: 50,
		MaxCodeLength: 64,
		FileURLPrefix: "/uploads/",
	}
}

// Session is the live binding of one connection to at most one room.
type Session struct {
	ConnectionID string
	RoomCode     string
	DisplayName  string
	Bucket       Bucket
}

// JoinRequest is the payload of a join.
type JoinRequest struct {
	RoomCode    string `json:"roomCode"`
	DisplayName string `json:"displayName"`
	RoomName    string `json:"roomName,omitempty"`
	MaxMembers  int    `json:"maxMembers,omitempty"`
}

// JoinResult is returned by a successful join.
type JoinResult struct {
	Room     RoomInfo
	History  []Message
	Rejoined bool
}

// SessionManager owns every Session and routes joins, leaves and sends
// through the Store. It references rooms by code only.
type SessionManager struct {
	mu       sync.Mutex
	sessions map[string]*Session
	store    *Store
	delivery Delivery
	cfg      SessionConfig
	now      func() time.Time
	logger   *slog.Logger
}

// NewSessionManager creates a SessionManager on top of store. Events are
// handed to delivery.
func NewSessionManager(store *Store, delivery Delivery, cfg SessionConfig, logger *slog.Logger) *SessionManager {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultSessionConfig()
	if cfg.MaxTextLength <= 0 {
		cfg.MaxTextLength = def.MaxTextLength
	}
	if cfg.MaxNameLength <= 0 {
		cfg.MaxNameLength = def.MaxNameLength
	}
	if cfg.MaxCodeLength <= 0 {
		cfg.MaxCodeLength = def.MaxCodeLength
	}
	cfg.Bucket = cfg.Bucket.sanitized()

	return &SessionManager{
		sessions: make(map[string]*Session),
		store:    store,
		delivery: delivery,
		cfg:      cfg,
		now:      time.Now,
		logger:   logger,
	}
}

// SetClock replaces time.Now, mainly for tests.
func (m *SessionManager) SetClock(now func() time.Time) {
	m.now = now
}

// Store returns the underlying room store.
func (m *SessionManager) Store() *Store {
	return m.store
}

// Connect creates a session with a full token bucket.
func (m *SessionManager) Connect(connID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[connID]; ok {
		return
	}
	m.sessions[connID] = &Session{
		ConnectionID: connID,
		Bucket:       m.cfg.Bucket.Full(m.now()),
	}
}

// Session returns a copy of the session for connID.
func (m *SessionManager) Session(connID string) (Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[connID]
	if !ok {
		return Session{}, false
	}
	return *s, true
}

// Count returns the number of live sessions.
func (m *SessionManager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

func (m *SessionManager) bind(connID, code, name string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.sessions[connID]; ok {
		s.RoomCode = code
		s.DisplayName = name
	}
}

func (m *SessionManager) deliver(ev Event, ids ...string) {
	if m.delivery == nil || len(ids) == 0 {
		return
	}
	m.delivery.Deliver(ev, ids...)
}

func (m *SessionManager) broadcast(code string, ev Event, except string) {
	members := m.store.Members(code)
	ids := make([]string, 0, len(members))
	for _, member := range members {
		if member.ConnectionID != except {
			ids = append(ids, member.ConnectionID)
		}
	}
	m.deliver(ev, ids...)
}

func (m *SessionManager) broadcastPresence(code string) {
	m.broadcast(code, Event{
		Type: EventPresence,
		Data: PresencePayload{RoomCode: code, Members: m.store.Members(code)},
	}, "")
}

func (m *SessionManager) announce(code, text string) {
	msg, ok := m.store.AppendMessage(code, NewSystem(text, m.now()))
	if !ok {
		return
	}
	m.broadcast(code, Event{Type: EventMessage, Data: msg}, "")
}

func (m *SessionManager) validateJoin(req JoinRequest) (string, string, error) {
	code := strings.TrimSpace(req.RoomCode)
	name := strings.TrimSpace(req.DisplayName)

	if code == "" {
		return "", "", fmt.Errorf("%w: room code is required", ErrInvalidInput)
	}
	if name == "" {
		return "", "", fmt.Errorf("%w: display name is required", ErrInvalidInput)
	}
	if utf8.RuneCountInString(code) > m.cfg.MaxCodeLength {
		return "", "", fmt.Errorf("%w: room code exceeds %d characters", ErrInvalidInput, m.cfg.MaxCodeLength)
	}
	if utf8.RuneCountInString(name) > m.cfg.MaxNameLength {
		return "", "", fmt.Errorf("%w: display name exceeds %d characters", ErrInvalidInput, m.cfg.MaxNameLength)
	}
	if !utf8.ValidString(code) || !utf8.ValidString(name) {
		return "", "", fmt.Errorf("%w: invalid utf-8", ErrInvalidInput)
	}
	return code, name, nil
}

// Join binds connID to the requested room. The joiner privately receives a
// joined acknowledgement and the room history; the room then receives a
// system join message and a presence update. A full room yields ErrRoomFull
// and leaves every session and room untouched. Joining the room the
// connection is already in replays history again without announcing.
func (m *SessionManager) Join(connID string, req JoinRequest) (JoinResult, error) {
	sess, ok := m.Session(connID)
	if !ok {
		return JoinResult{}, ErrUnknownSession
	}

	code, name, err := m.validateJoin(req)
	if err != nil {
		return JoinResult{}, err
	}

	if sess.RoomCode == code && m.store.HasMember(code, connID) {
		return m.rejoin(connID, code, name, sess.DisplayName), nil
	}

	m.store.EnsureRoom(code, &RoomOptions{
		DisplayName: strings.TrimSpace(req.RoomName),
		MaxMembers:  req.MaxMembers,
	})
	if err := m.store.AddMember(code, connID, name); err != nil {
		return JoinResult{}, err
	}
	history := m.store.History(code)

	if sess.RoomCode != "" && sess.RoomCode != code {
		m.leaveRoom(connID, sess.RoomCode, sess.DisplayName)
	}
	m.bind(connID, code, name)

	info, _ := m.store.GetRoom(code)
	m.deliver(Event{Type: EventJoined, Data: JoinedPayload{Room: info, Self: connID}}, connID)
	m.deliver(Event{Type: EventHistory, Data: history}, connID)
	m.announce(code, name+" joined the room")
	m.broadcastPresence(code)

	m.logger.Info("session joined", "conn", connID, "room", code, "members", info.MemberCount)
	return JoinResult{Room: info, History: history}, nil
}

func (m *SessionManager) rejoin(connID, code, name, previousName string) JoinResult {
	m.store.EnsureRoom(code, nil)
	if name != previousName {
		if err := m.store.AddMember(code, connID, name); err == nil {
			m.bind(connID, code, name)
			m.broadcastPresence(code)
		}
	}

	info, _ := m.store.GetRoom(code)
	history := m.store.History(code)
	m.deliver(Event{Type: EventJoined, Data: JoinedPayload{Room: info, Self: connID}}, connID)
	m.deliver(Event{Type: EventHistory, Data: history}, connID)
	return JoinResult{Room: info, History: history, Rejoined: true}
}

// Leave removes connID from its room. Remaining members get a system leave
// message and a presence update unless the room was deleted. Leaving without
// a room is a no-op.
func (m *SessionManager) Leave(connID string) error {
	sess, ok := m.Session(connID)
	if !ok {
		return ErrUnknownSession
	}
	if sess.RoomCode == "" {
		return nil
	}

	m.leaveRoom(connID, sess.RoomCode, sess.DisplayName)
	m.bind(connID, "", "")
	m.deliver(Event{Type: EventLeft, Data: LeftPayload{RoomCode: sess.RoomCode}}, connID)
	return nil
}

func (m *SessionManager) leaveRoom(connID, code, name string) {
	if deleted := m.store.RemoveMember(code, connID); deleted {
		m.logger.Info("session left, room emptied", "conn", connID, "room", code)
		return
	}
	if _, ok := m.store.GetRoom(code); !ok {
		return
	}
	m.announce(code, name+" left the room")
	m.broadcastPresence(code)
	m.logger.Info("session left", "conn", connID, "room", code)
}

// Disconnect performs the cleanup of Leave and destroys the session.
func (m *SessionManager) Disconnect(connID string) {
	sess, ok := m.Session(connID)
	if !ok {
		return
	}
	if sess.RoomCode != "" {
		m.leaveRoom(connID, sess.RoomCode, sess.DisplayName)
	}

	m.mu.Lock()
	delete(m.sessions, connID)
	m.mu.Unlock()
}

func (m *SessionManager) joined(connID string) (Session, error) {
	sess, ok := m.Session(connID)
	if !ok {
		return Session{}, ErrUnknownSession
	}
	if sess.RoomCode == "" {
		return Session{}, ErrNotJoined
	}
	if !m.store.HasMember(sess.RoomCode, connID) {
		m.bind(connID, "", "")
		return Session{}, fmt.Errorf("%w: %s", ErrRoomNotRecognized, sess.RoomCode)
	}
	return sess, nil
}

func (m *SessionManager) consume(connID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[connID]
	if !ok {
		return false
	}
	bucket, allowed := m.cfg.Bucket.Consume(s.Bucket, m.now(), 1)
	s.Bucket = bucket
	return allowed
}

func (m *SessionManager) publish(sess Session, msg Message) (Message, error) {
	stored, ok := m.store.AppendMessage(sess.RoomCode, msg)
	if !ok {
		m.bind(sess.ConnectionID, "", "")
		return Message{}, fmt.Errorf("%w: %s", ErrRoomNotRecognized, sess.RoomCode)
	}
	m.broadcast(sess.RoomCode, Event{Type: EventMessage, Data: stored}, "")
	return stored, nil
}

// SendText appends a text message to the sender's room and broadcasts it.
// Rate-limited and invalid messages are dropped and reported to the caller.
func (m *SessionManager) SendText(connID, body string) (Message, error) {
	sess, err := m.joined(connID)
	if err != nil {
		return Message{}, err
	}
	if strings.TrimSpace(body) == "" {
		return Message{}, fmt.Errorf("%w: message is empty", ErrInvalidInput)
	}
	if !utf8.ValidString(body) {
		return Message{}, fmt.Errorf("%w: invalid utf-8", ErrInvalidInput)
	}
	if utf8.RuneCountInString(body) > m.cfg.MaxTextLength {
		return Message{}, fmt.Errorf("%w: message exceeds %d characters", ErrInvalidInput, m.cfg.MaxTextLength)
	}
	if !m.consume(connID) {
		return Message{}, ErrRateLimited
	}
	return m.publish(sess, NewText(sess.DisplayName, body, m.now()))
}

// SendFile broadcasts a file message. The file itself must already be stored
// by the upload endpoint; only its metadata travels through the room.
func (m *SessionManager) SendFile(connID string, ref FileRef) (Message, error) {
	sess, err := m.joined(connID)
	if err != nil {
		return Message{}, err
	}
	if err := ref.Validate(); err != nil {
		return Message{}, err
	}
	if m.cfg.FileURLPrefix != "" && !strings.HasPrefix(ref.URL, m.cfg.FileURLPrefix) {
		return Message{}, fmt.Errorf("%w: file url is not served by this server", ErrInvalidInput)
	}
	if !m.consume(connID) {
		return Message{}, ErrRateLimited
	}
	return m.publish(sess, NewFile(sess.DisplayName, ref, m.now()))
}

// Typing tells the other members of the sender's room that it is typing.
// Nothing is stored.
func (m *SessionManager) Typing(connID string) error {
	sess, err := m.joined(connID)
	if err != nil {
		return err
	}
	m.broadcast(sess.RoomCode, Event{
		Type: EventTyping,
		Data: TypingPayload{ConnectionID: connID, Name: sess.DisplayName},
	}, connID)
	return nil
}

// Presence returns the members of a room in join order.
func (m *SessionManager) Presence(code string) []Member {
	return m.store.Members(code)
}

package chat

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// StoreConfig bounds room capacity and message history.
type StoreConfig struct {
	DefaultMaxMembers int
	MaxMembersLimit   int
	MaxMessages       int
	PruneTo           int
}

// DefaultStoreConfig returns the limits used when nothing is configured.
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		DefaultMaxMembers: 50,
		MaxMembersLimit:   200,
		MaxMessages:       500,
		PruneTo:           400,
	}
}

func (c StoreConfig) sanitized() StoreConfig {
	def := DefaultStoreConfig()
	if c.MaxMembersLimit <= 0 {
		c.MaxMembersLimit = def.MaxMembersLimit
	}
	if c.DefaultMaxMembers <= 0 {
		c.DefaultMaxMembers = def.DefaultMaxMembers
	}
	if c.DefaultMaxMembers > c.MaxMembersLimit {
		c.DefaultMaxMembers = c.MaxMembersLimit
	}
	if c.MaxMessages <= 0 {
		c.MaxMessages = def.MaxMessages
	}
	if c.PruneTo <= 0 || c.PruneTo >= c.MaxMessages {
		c.PruneTo = c.MaxMessages * 4 / 5
	}
	return c
}

// Persister is notified whenever a room's persisted state may have changed,
// including deletion. Touch must not block.
type Persister interface {
	Touch(code string)
}

// StoreOption customizes a Store.
type StoreOption func(*Store)

// WithPersister registers p to be notified of room changes.
func WithPersister(p Persister) StoreOption {
	return func(s *Store) {
		s.persister = p
	}
}

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) {
		s.now = now
	}
}

// Store is the sole owner of rooms and their message logs. Callers only get
// copies back; nothing outside the Store can reach its maps.
type Store struct {
	mu        sync.RWMutex
	rooms     map[string]*room
	cfg       StoreConfig
	persister Persister
	now       func() time.Time
	logger    *slog.Logger
}

// NewStore creates an empty Store.
func NewStore(cfg StoreConfig, logger *slog.Logger, opts ...StoreOption) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{
		rooms:  make(map[string]*room),
		cfg:    cfg.sanitized(),
		now:    time.Now,
		logger: logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Config returns the sanitized limits in effect.
func (s *Store) Config() StoreConfig {
	return s.cfg
}

func (s *Store) clampMembers(n int) int {
	if n <= 0 {
		return s.cfg.DefaultMaxMembers
	}
	if n > s.cfg.MaxMembersLimit {
		return s.cfg.MaxMembersLimit
	}
	return n
}

func (s *Store) touch(code string) {
	if s.persister != nil {
		s.persister.Touch(code)
	}
}

// EnsureRoom returns the room for code, creating it from opts when absent.
// An existing room only has its activity time refreshed.
func (s *Store) EnsureRoom(code string, opts *RoomOptions) RoomInfo {
	now := s.now()

	s.mu.Lock()
	if r, ok := s.rooms[code]; ok {
		r.touch(now)
		info := r.info()
		s.mu.Unlock()
		return info
	}

	var displayName string
	var maxMembers int
	if opts != nil {
		displayName = opts.DisplayName
		maxMembers = opts.MaxMembers
	}
	r := newRoom(code, displayName, s.clampMembers(maxMembers), now)
	s.rooms[code] = r
	info := r.info()
	total := len(s.rooms)
	s.mu.Unlock()

	s.logger.Debug("room created", "room", code, "max_members", info.MaxMembers, "rooms", total)
	s.touch(code)
	return info
}

// GetRoom returns a copy of the room's metadata.
func (s *Store) GetRoom(code string) (RoomInfo, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.rooms[code]
	if !ok {
		return RoomInfo{}, false
	}
	return r.info(), true
}

// DeleteRoom removes the room and asks the persister to drop its snapshot.
func (s *Store) DeleteRoom(code string) {
	s.mu.Lock()
	_, ok := s.rooms[code]
	delete(s.rooms, code)
	total := len(s.rooms)
	s.mu.Unlock()

	if !ok {
		return
	}
	s.logger.Debug("room deleted", "room", code, "rooms", total)
	s.touch(code)
}

// AppendMessage appends msg to the room's log and prunes the log when it
// exceeds MaxMessages. The stored message is returned; its timestamp is
// raised to the newest entry's when it would otherwise go backward. It
// reports false, and does nothing, when the room does not exist.
func (s *Store) AppendMessage(code string, msg Message) (Message, bool) {
	s.mu.Lock()
	r, ok := s.rooms[code]
	if !ok {
		s.mu.Unlock()
		return Message{}, false
	}

	if n := len(r.log); n > 0 && msg.Timestamp.Before(r.log[n-1].Timestamp) {
		msg.Timestamp = r.log[n-1].Timestamp
	}
	r.log = append(r.log, msg)
	r.touch(msg.Timestamp)

	if len(r.log) > s.cfg.MaxMessages {
		drop := len(r.log) - s.cfg.PruneTo
		kept := make([]Message, s.cfg.PruneTo)
		copy(kept, r.log[drop:])
		r.log = kept
		s.logger.Debug("room log pruned", "room", code, "dropped", drop)
	}
	s.mu.Unlock()

	s.touch(code)
	return msg, true
}

// AddMember inserts connID into the room. It fails with ErrRoomFull when the
// room is at capacity and ErrRoomNotRecognized when it does not exist.
// Adding a connection that is already a member only refreshes its name.
func (s *Store) AddMember(code, connID, name string) error {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rooms[code]
	if !ok {
		return fmt.Errorf("%w: %s", ErrRoomNotRecognized, code)
	}
	if _, member := r.members[connID]; !member && len(r.members) >= r.maxMembers {
		return fmt.Errorf("%w: %s (%d/%d)", ErrRoomFull, code, len(r.members), r.maxMembers)
	}
	r.addMember(connID, name)
	r.touch(now)
	return nil
}

// RemoveMember drops connID from the room and deletes the room when it
// becomes empty. It reports whether the room was deleted.
func (s *Store) RemoveMember(code, connID string) bool {
	now := s.now()

	s.mu.Lock()
	r, ok := s.rooms[code]
	if !ok {
		s.mu.Unlock()
		return false
	}
	r.removeMember(connID)
	r.touch(now)
	empty := len(r.members) == 0
	s.mu.Unlock()

	if empty {
		s.DeleteRoom(code)
	}
	return empty
}

// HasMember reports whether connID is a member of the room.
func (s *Store) HasMember(code, connID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.rooms[code]
	if !ok {
		return false
	}
	_, member := r.members[connID]
	return member
}

// Members returns the room's members in join order.
func (s *Store) Members(code string) []Member {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.rooms[code]
	if !ok {
		return nil
	}
	return r.presence()
}

// History returns a copy of the room's message log.
func (s *Store) History(code string) []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.rooms[code]
	if !ok {
		return nil
	}
	return r.history()
}

// List returns every room ordered by code.
func (s *Store) List() []RoomInfo {
	s.mu.RLock()
	rooms := make([]RoomInfo, 0, len(s.rooms))
	for _, r := range s.rooms {
		rooms = append(rooms, r.info())
	}
	s.mu.RUnlock()

	sort.Slice(rooms, func(i, j int) bool { return rooms[i].Code < rooms[j].Code })
	return rooms
}

// Len returns the number of live rooms.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rooms)
}

// Snapshot returns the persisted form of the room, or false when it is gone.
func (s *Store) Snapshot(code string) (RoomSnapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.rooms[code]
	if !ok {
		return RoomSnapshot{}, false
	}
	return r.snapshot(), true
}

// Restore loads snapshots taken by a previous process. Rooms come back
// without members; existing rooms with the same code are left untouched.
// Logs longer than MaxMessages are cut down to the newest PruneTo entries.
func (s *Store) Restore(snapshots []RoomSnapshot) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	restored := 0
	for _, snap := range snapshots {
		if snap.Code == "" {
			continue
		}
		if _, exists := s.rooms[snap.Code]; exists {
			continue
		}

		r := newRoom(snap.Code, snap.DisplayName, s.clampMembers(snap.MaxMembers), snap.CreatedAt)
		r.lastActiveAt = snap.LastActiveAt
		if r.lastActiveAt.Before(r.createdAt) {
			r.lastActiveAt = r.createdAt
		}

		msgs := snap.Messages
		if len(msgs) > s.cfg.MaxMessages {
			msgs = msgs[len(msgs)-s.cfg.PruneTo:]
		}
		r.log = make([]Message, 0, len(msgs))
		for _, m := range msgs {
			if err := m.Validate(); err != nil {
				s.logger.Warn("skipping invalid restored message", "room", snap.Code, "error", err)
				continue
			}
			r.log = append(r.log, m)
		}

		s.rooms[snap.Code] = r
		restored++
	}
	return restored
}

// Sweep deletes memberless rooms that have been idle for longer than ttl.
// Such rooms only exist after Restore, since the last member leaving a room
// deletes it immediately.
func (s *Store) Sweep(now time.Time, ttl time.Duration) []string {
	if ttl <= 0 {
		return nil
	}

	s.mu.Lock()
	var removed []string
	for code, r := range s.rooms {
		if len(r.members) == 0 && now.Sub(r.lastActiveAt) > ttl {
			delete(s.rooms, code)
			removed = append(removed, code)
		}
	}
	s.mu.Unlock()

	for _, code := range removed {
		s.logger.Info("idle room swept", "room", code)
		s.touch(code)
	}
	return removed
}

package chat

import "time"

// RoomOptions are applied when EnsureRoom creates a room. They are ignored
// for rooms that already exist.
type RoomOptions struct {
	DisplayName string
	MaxMembers  int
}

// RoomInfo is a read-only copy of a room's metadata.
type RoomInfo struct {
	Code         string    `json:"code"`
	DisplayName  string    `json:"displayName"`
	MaxMembers   int       `json:"maxMembers"`
	MemberCount  int       `json:"memberCount"`
	MessageCount int       `json:"messageCount"`
	CreatedAt    time.Time `json:"createdAt"`
	LastActiveAt time.Time `json:"lastActiveAt"`
}

// Member is one entry of a presence snapshot.
type Member struct {
	ConnectionID string `json:"connectionId"`
	Name         string `json:"name"`
}

// RoomSnapshot is the persisted form of a room. Membership is never part of
// a snapshot.
type RoomSnapshot struct {
	Code         string    `json:"code"`
	DisplayName  string    `json:"displayName"`
	MaxMembers   int       `json:"maxMembers"`
	CreatedAt    time.Time `json:"createdAt"`
	LastActiveAt time.Time `json:"lastActiveAt"`
	Messages     []Message `json:"messages"`
}

type room struct {
	code         string
	displayName  string
	maxMembers   int
	members      map[string]string
	order        []string
	log          []Message
	createdAt    time.Time
	lastActiveAt time.Time
}

func newRoom(code, displayName string, maxMembers int, now time.Time) *room {
	if displayName == "" {
		displayName = code
	}
	return &room{
		code:         code,
		displayName:  displayName,
		maxMembers:   maxMembers,
		members:      make(map[string]string),
		createdAt:    now,
		lastActiveAt: now,
	}
}

// touch moves lastActiveAt forward, never backward.
func (r *room) touch(now time.Time) {
	if now.After(r.lastActiveAt) {
		r.lastActiveAt = now
	}
}

func (r *room) info() RoomInfo {
	return RoomInfo{
		Code:         r.code,
		DisplayName:  r.displayName,
		MaxMembers:   r.maxMembers,
		MemberCount:  len(r.members),
		MessageCount: len(r.log),
		CreatedAt:    r.createdAt,
		LastActiveAt: r.lastActiveAt,
	}
}

func (r *room) addMember(connID, name string) {
	if _, ok := r.members[connID]; !ok {
		r.order = append(r.order, connID)
	}
	r.members[connID] = name
}

func (r *room) removeMember(connID string) bool {
	if _, ok := r.members[connID]; !ok {
		return false
	}
	delete(r.members, connID)
	for i, id := range r.order {
		if id == connID {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return true
}

func (r *room) presence() []Member {
	members := make([]Member, 0, len(r.order))
	for _, id := range r.order {
		members = append(members, Member{ConnectionID: id, Name: r.members[id]})
	}
	return members
}

func (r *room) history() []Message {
	out := make([]Message, len(r.log))
	copy(out, r.log)
	return out
}

func (r *room) snapshot() RoomSnapshot {
	return RoomSnapshot{
		Code:         r.code,
		DisplayName:  r.displayName,
		MaxMembers:   r.maxMembers,
		CreatedAt:    r.createdAt,
		LastActiveAt: r.lastActiveAt,
		Messages:     r.history(),
	}
}

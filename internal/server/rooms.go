// Package server exposes read-only room information and fresh room codes
// over HTTP.
package server

import (
	"errors"
	"fmt"
	"net/http"

	nanoid "github.com/jaevor/go-nanoid"

	"github.com/Tyrowin/anonychat/internal/chat"
)

const (
	// Room codes avoid characters that are easy to confuse when read aloud.
	roomCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	roomCodeLength   = 6
	roomCodeAttempts = 10
)

// ErrNoFreeCode is returned when every generated code was already taken.
var ErrNoFreeCode = errors.New("could not generate an unused room code")

// CodeGenerator hands out room codes that no live room uses.
type CodeGenerator struct {
	store *chat.Store
	next  func() string
}

// NewCodeGenerator builds a generator backed by nanoid.
func NewCodeGenerator(store *chat.Store) (*CodeGenerator, error) {
	next, err := nanoid.CustomASCII(roomCodeAlphabet, roomCodeLength)
	if err != nil {
		return nil, fmt.Errorf("room code generator: %w", err)
	}
	return &CodeGenerator{store: store, next: next}, nil
}

// Generate returns an unused code. The room itself is only created by the
// first join, so a code that is never used leaves nothing behind.
func (g *CodeGenerator) Generate() (string, error) {
	for i := 0; i < roomCodeAttempts; i++ {
		code := g.next()
		if _, taken := g.store.GetRoom(code); !taken {
			return code, nil
		}
	}
	return "", ErrNoFreeCode
}

// RoomDetail is the body of GET /api/rooms/{code}.
type RoomDetail struct {
	chat.RoomInfo
	Members []chat.Member `json:"members"`
}

// RoomsAPI serves the room listing, room details and code generation.
type RoomsAPI struct {
	store *chat.Store
	codes *CodeGenerator
}

// NewRoomsAPI creates the handlers.
func NewRoomsAPI(store *chat.Store, codes *CodeGenerator) *RoomsAPI {
	return &RoomsAPI{store: store, codes: codes}
}

// HandleList answers GET /api/rooms.
func (a *RoomsAPI) HandleList(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, a.store.List(), http.StatusOK)
}

// HandleGet answers GET /api/rooms/{code}.
func (a *RoomsAPI) HandleGet(w http.ResponseWriter, r *http.Request) {
	code := r.PathValue("code")
	info, ok := a.store.GetRoom(code)
	if !ok {
		writeJSONError(w, "room not found", http.StatusNotFound)
		return
	}
	members := a.store.Members(code)
	if members == nil {
		members = []chat.Member{}
	}
	writeJSON(w, RoomDetail{RoomInfo: info, Members: members}, http.StatusOK)
}

// HandleNewCode answers POST /api/rooms/code.
func (a *RoomsAPI) HandleNewCode(w http.ResponseWriter, _ *http.Request) {
	code, err := a.codes.Generate()
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, map[string]string{"code": code}, http.StatusOK)
}

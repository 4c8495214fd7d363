// Package server wires HTTP handlers into a ServeMux for the AnonyChat
// application via routing helpers.
package server

import (
	"net/http"
	"time"
)

// Routes holds the collaborators the chat site is served from.
type Routes struct {
	Hub           *Hub
	Uploads       *UploadHandler
	Codes         *CodeGenerator
	UploadTimeout time.Duration
}

// SetupRoutes configures and returns an HTTP ServeMux with all chat routes:
// health checks, the websocket endpoint, the test page, the rooms API and,
// when configured, uploads.
func SetupRoutes(rt Routes) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/", HealthHandler)
	mux.HandleFunc("/healthz", StatusHandler(rt.Hub))
	mux.HandleFunc("/ws", WebSocketHandler(rt.Hub))
	mux.HandleFunc("/test", TestPageHandler)

	api := NewRoomsAPI(rt.Hub.Store(), rt.Codes)
	mux.HandleFunc("GET /api/rooms", api.HandleList)
	mux.HandleFunc("GET /api/rooms/{code}", api.HandleGet)
	if rt.Codes != nil {
		mux.HandleFunc("POST /api/rooms/code", api.HandleNewCode)
	}

	if rt.Uploads != nil {
		timeout := rt.UploadTimeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		mux.Handle("/upload", http.TimeoutHandler(rt.Uploads, timeout, `{"error":"upload timed out"}`))
		mux.Handle(rt.Uploads.PublicPrefix(), rt.Uploads.FileServer())
	}
	return mux
}

// NewHandler serves the chat routes and, for the configured game hosts, the
// games site.
func NewHandler(chatSite http.Handler, gamesSite http.Handler, gameHosts []string) http.Handler {
	if gamesSite == nil || len(gameHosts) == 0 {
		return chatSite
	}
	router := NewHostRouter(chatSite)
	for _, host := range gameHosts {
		router.Handle(host, gamesSite)
	}
	return router
}

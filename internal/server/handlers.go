// Package server exposes HTTP handlers, including websocket upgrades, health
// checks, and the built-in test page.
package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     checkOrigin,
}

// WebSocketHandler upgrades GET requests to websocket connections and
// registers a Client for each with the hub, which then starts its pumps.
func WebSocketHandler(hub *Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			hub.logger.Warn("websocket upgrade failed", "addr", r.RemoteAddr, "error", err)
			return
		}

		client := NewClient(conn, hub, r.RemoteAddr)
		if !hub.Register(client) {
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(time.Second))
			_ = conn.Close()
		}
	}
}

// HealthHandler provides a simple health check endpoint that returns server status.
// It responds with a plain text message indicating the server is running.
func HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "AnonyChat server is running!")
}

// StatusResponse is the body of /healthz.
type StatusResponse struct {
	Status  string    `json:"status"`
	Rooms   int       `json:"rooms"`
	Clients int       `json:"clients"`
	Time    time.Time `json:"time"`
}

// StatusHandler reports room and connection counts as JSON.
func StatusHandler(hub *Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, StatusResponse{
			Status:  "ok",
			Rooms:   hub.Store().Len(),
			Clients: hub.ClientCount(),
			Time:    time.Now().UTC(),
		}, http.StatusOK)
	}
}

func writeJSON(w http.ResponseWriter, data any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Warn("failed to write JSON response", "error", err)
	}
}

func writeJSONError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, ErrorPayload{Error: message}, status)
}

// TestPageHandler serves an HTML page for trying rooms from a browser: join a
// room, send text, upload a file and watch presence and typing events.
func TestPageHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	if _, err := fmt.Fprint(w, testPageHTML); err != nil {
		slog.Warn("error writing HTML response", "error", err)
	}
}

const testPageHTML = `<!DOCTYPE html>
<html>
<head>
    <title>AnonyChat Test</title>
    <style>
        body { font-family: Arial, sans-serif; margin: 20px; }
        #messages {
            border: 1px solid #ccc;
            height: 300px;
            padding: 10px;
            overflow-y: scroll;
            margin: 10px 0;
            background-color: #f9f9f9;
        }
        input[type="text"] { width: 200px; padding: 5px; margin-right: 10px; }
        button {
            padding: 5px 15px;
            background-color: #007cba;
            color: white;
            border: none;
            cursor: pointer;
        }
        button:hover { background-color: #005a87; }
        .status { margin: 10px 0; padding: 5px; border-radius: 3px; }
        .connected { background-color: #d4edda; color: #155724; }
        .disconnected { background-color: #f8d7da; color: #721c24; }
        #presence, #typing { color: #555; font-size: 0.9em; min-height: 1.2em; }
    </style>
</head>
<body>
    <h1>AnonyChat Test</h1>

    <div id="status" class="status disconnected">Disconnected</div>

    <div>
        <input type="text" id="roomInput" placeholder="Room code">
        <input type="text" id="nameInput" placeholder="Display name">
        <button onclick="newCode()">New code</button>
        <button id="joinButton" onclick="join()">Join</button>
        <button onclick="send('leave')">Leave</button>
    </div>
    <div id="presence"></div>
    <div id="messages"></div>
    <div id="typing"></div>
    <div>
        <input type="text" id="messageInput" placeholder="Type a message...">
        <button onclick="sendText()">Send</button>
        <input type="file" id="fileInput">
        <button onclick="sendFile()">Upload</button>
    </div>

    <script>
        let ws = null;
        let typingTimer = null;
        const messagesDiv = document.getElementById('messages');
        const statusDiv = document.getElementById('status');

        function addLine(text, color) {
            const el = document.createElement('div');
            el.style.margin = '5px 0';
            el.style.color = color || 'black';
            el.textContent = text;
            messagesDiv.appendChild(el);
            messagesDiv.scrollTop = messagesDiv.scrollHeight;
        }

        function showMessage(m) {
            const time = new Date(m.timestamp).toLocaleTimeString();
            if (m.type === 'system') {
                addLine('[' + time + '] ' + m.text, 'gray');
            } else if (m.type === 'file') {
                addLine('[' + time + '] ' + m.authorName + ' shared ' + m.file.originalName + ' (' + m.file.url + ')', 'purple');
            } else {
                addLine('[' + time + '] ' + m.authorName + ': ' + m.body, 'green');
            }
        }

        function handle(ev) {
            switch (ev.event) {
            case 'joined':
                statusDiv.textContent = 'Joined ' + ev.data.room.displayName;
                statusDiv.className = 'status connected';
                messagesDiv.innerHTML = '';
                break;
            case 'history':
                (ev.data || []).forEach(showMessage);
                break;
            case 'message':
                showMessage(ev.data);
                break;
            case 'presence':
                document.getElementById('presence').textContent =
                    'Here: ' + ev.data.members.map(m => m.name).join(', ');
                break;
            case 'typing':
                document.getElementById('typing').textContent = ev.data.name + ' is typing...';
                clearTimeout(typingTimer);
                typingTimer = setTimeout(() => document.getElementById('typing').textContent = '', 2000);
                break;
            case 'left':
                statusDiv.textContent = 'Connected';
                document.getElementById('presence').textContent = '';
                break;
            default:
                addLine(ev.event + ': ' + (ev.data && ev.data.error), 'red');
            }
        }

        function connect(onOpen) {
            const scheme = location.protocol === 'https:' ? 'wss://' : 'ws://';
            ws = new WebSocket(scheme + location.host + '/ws');
            ws.onopen = function() {
                statusDiv.textContent = 'Connected';
                statusDiv.className = 'status connected';
                onOpen();
            };
            ws.onmessage = function(event) {
                event.data.split('\n').forEach(line => handle(JSON.parse(line)));
            };
            ws.onclose = function() {
                statusDiv.textContent = 'Disconnected';
                statusDiv.className = 'status disconnected';
                ws = null;
            };
        }

        function send(event, data) {
            const frame = JSON.stringify(data === undefined ? { event: event } : { event: event, data: data });
            if (ws && ws.readyState === WebSocket.OPEN) {
                ws.send(frame);
            } else {
                connect(() => ws.send(frame));
            }
        }

        function join() {
            send('join', {
                roomCode: document.getElementById('roomInput').value,
                displayName: document.getElementById('nameInput').value
            });
        }

        async function newCode() {
            const res = await fetch('/api/rooms/code', { method: 'POST' });
            const body = await res.json();
            document.getElementById('roomInput').value = body.code;
        }

        function sendText() {
            const input = document.getElementById('messageInput');
            if (input.value.trim()) {
                send('send-text', input.value);
                input.value = '';
            }
        }

        async function sendFile() {
            const file = document.getElementById('fileInput').files[0];
            if (!file) return;
            const form = new FormData();
            form.append('file', file);
            const res = await fetch('/upload', { method: 'POST', body: form });
            const body = await res.json();
            if (!res.ok) {
                addLine('upload failed: ' + body.error, 'red');
                return;
            }
            send('send-file', body);
        }

        document.getElementById('messageInput').addEventListener('keypress', function(e) {
            if (e.key === 'Enter') {
                sendText();
            } else if (ws) {
                send('typing');
            }
        });
    </script>
</body>
</html>`

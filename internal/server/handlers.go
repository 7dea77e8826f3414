package server

import (
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/Tyrowin/chatpro/internal/auth"
	"github.com/Tyrowin/chatpro/internal/hub"
)

// handleWebSocket upgrades the request and hands the socket to the hub. The
// connection is bound to the subject of a valid token, otherwise to the
// userId query parameter. With neither it stays unbound and only receives
// broadcasts.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}

	userID := s.resolveSocketUser(r)

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("WebSocket upgrade failed", zap.String("addr", r.RemoteAddr), zap.Error(err))
		return
	}

	client := hub.NewClient(conn, s.hub, r.RemoteAddr, userID)
	if !s.hub.Register(client) {
		client.Close()
	}
}

func (s *Server) resolveSocketUser(r *http.Request) string {
	if token := auth.TokenFromRequest(r); token != "" {
		claims, err := s.tokens.Verify(token)
		if err == nil {
			return claims.Subject
		}
		s.logger.Debug("ignoring invalid socket token", zap.String("addr", r.RemoteAddr), zap.Error(err))
	}
	return strings.TrimSpace(r.URL.Query().Get("userId"))
}

// handleHealth reports that the process is up.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "chatpro server is running! %d connections", s.hub.ClientCount())
}

// handleTestPage serves a page for poking at /ws from a browser.
func (s *Server) handleTestPage(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	if _, err := fmt.Fprint(w, testPage); err != nil {
		s.logger.Warn("error writing test page", zap.Error(err))
	}
}

const testPage = `<!DOCTYPE html>
<html>
<head>
    <title>chatpro WebSocket Test</title>
    <style>
        body { font-family: Arial, sans-serif; margin: 20px; }
        #events { border: 1px solid #ccc; height: 300px; padding: 10px; overflow-y: scroll; margin: 10px 0; background-color: #f9f9f9; }
        input[type="text"] { width: 220px; padding: 5px; margin-right: 10px; }
        .status { margin: 10px 0; padding: 5px; border-radius: 3px; }
        .connected { background-color: #d4edda; color: #155724; }
        .disconnected { background-color: #f8d7da; color: #721c24; }
    </style>
</head>
<body>
    <h1>chatpro WebSocket Test</h1>
    <div id="status" class="status disconnected">Disconnected</div>
    <div>
        <input type="text" id="userId" placeholder="your user id">
        <button id="connectButton" onclick="toggleConnection()">Connect</button>
    </div>
    <div>
        <input type="text" id="receiverId" placeholder="receiver id" disabled>
        <input type="text" id="text" placeholder="message" disabled>
        <button id="sendButton" onclick="sendMessage()" disabled>Send</button>
    </div>
    <div id="online"></div>
    <div id="events"></div>
    <script>
        let ws = null;
        const byId = (id) => document.getElementById(id);

        function log(line) {
            const el = document.createElement('div');
            el.textContent = line;
            byId('events').appendChild(el);
            byId('events').scrollTop = byId('events').scrollHeight;
        }

        function setConnected(connected) {
            byId('status').textContent = connected ? 'Connected' : 'Disconnected';
            byId('status').className = 'status ' + (connected ? 'connected' : 'disconnected');
            byId('receiverId').disabled = !connected;
            byId('text').disabled = !connected;
            byId('sendButton').disabled = !connected;
            byId('connectButton').textContent = connected ? 'Disconnect' : 'Connect';
        }

        function toggleConnection() {
            if (ws && ws.readyState === WebSocket.OPEN) {
                ws.close();
                return;
            }
            const scheme = location.protocol === 'https:' ? 'wss://' : 'ws://';
            ws = new WebSocket(scheme + location.host + '/ws?userId=' + encodeURIComponent(byId('userId').value));
            ws.onopen = () => { log('connected'); setConnected(true); };
            ws.onclose = () => { log('connection closed'); setConnected(false); ws = null; };
            ws.onmessage = (event) => {
                const ev = JSON.parse(event.data);
                if (ev.type === 'GetOnlineUsers') {
                    byId('online').textContent = 'Online: ' + ev.payload.join(', ');
                    return;
                }
                log(ev.type + ' ' + JSON.stringify(ev.payload));
            };
        }

        function sendMessage() {
            const text = byId('text').value.trim();
            if (!text || !ws) {
                return;
            }
            ws.send(JSON.stringify({ type: 'SendMessage', payload: { receiverId: byId('receiverId').value, text: text } }));
            byId('text').value = '';
        }
    </script>
</body>
</html>`

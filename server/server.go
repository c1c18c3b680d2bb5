package main

import (
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const encMsgpack = "msgpack"

// newUpgrader builds the upgrader for the configured origins. An empty list
// accepts every origin; browsers on other hosts are expected to embed the board.
func newUpgrader(allowed []string) *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(allowed),
	}
}

func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		set[strings.ToLower(strings.TrimRight(o, "/"))] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true // Non-browser clients don't send Origin
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		if strings.EqualFold(u.Host, r.Host) {
			return true
		}
		return set[strings.ToLower(u.Scheme+"://"+u.Host)]
	}
}

func extractIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// SetupRoutes configures HTTP routes
func SetupRoutes(hub *Hub, admin *Admin) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Write([]byte("WebSocket server running"))
	})
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	mux.Handle("/status", admin.StatusHandler())
	mux.Handle("/admin/token", admin.TokenHandler())
	mux.Handle("/qr", QRHandler(hub.cfg.PublicURL, hub.log))

	upgrader := newUpgrader(hub.cfg.AllowedOrigins)
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		serveWS(hub, upgrader, KindChat, w, r)
	})
	mux.HandleFunc("/ws/snake", func(w http.ResponseWriter, r *http.Request) {
		serveWS(hub, upgrader, KindGame, w, r)
	})

	return mux
}

// serveWS upgrades r and starts the pumps for a session of the given kind
func serveWS(hub *Hub, upgrader *websocket.Upgrader, kind SessionKind, w http.ResponseWriter, r *http.Request) {
	if !websocket.IsWebSocketUpgrade(r) {
		hub.metrics.IncUpgradesFailed()
		http.Error(w, "WebSocket upgrade failed", http.StatusBadRequest)
		return
	}

	ip := extractIP(r)
	if !hub.CanAccept(ip) {
		hub.metrics.IncConnsRefused()
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}

	// Upgrade writes its own error response on failure
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		hub.metrics.IncUpgradesFailed()
		hub.log.Warn("upgrade error", zap.String("addr", ip), zap.Error(err))
		return
	}

	hub.TrackConnect(ip)

	client := NewClient(hub, conn, ip)
	client.session = NewSession(kind, ip, r.URL.Query().Get("enc") == encMsgpack, client)
	hub.Register(client.session)

	go client.WritePump()
	go client.ReadPump()
}

// Package api exposes the crop service over a local REST and WebSocket surface.
package api

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/dlevesque1980/dailywallpaper-sub001/pkg/crop"
	"github.com/dlevesque1980/dailywallpaper-sub001/pkg/cropcache"
	"github.com/dlevesque1980/dailywallpaper-sub001/pkg/smartfit"
	"github.com/dlevesque1980/dailywallpaper-sub001/util/log"
	"github.com/gorilla/websocket"
	"golang.org/x/net/netutil"
)

// DefaultAddr is the loopback address the server listens on by default.
const DefaultAddr = "127.0.0.1:49453"

// writeWait bounds a single WebSocket write.
const writeWait = 5 * time.Second

// maxConns caps concurrent connections to the local API.
const maxConns = 64

// eventBuffer is how many resolution events may wait for broadcast before new
// ones are dropped.
const eventBuffer = 64

// Resolver is the crop service surface used by the handlers.
type Resolver interface {
	Resolve(ctx context.Context, req smartfit.Request) (smartfit.Result, error)
	Preload(ctx context.Context, imageURL string, src *crop.Source, settings crop.Settings) (cropcache.PreloadResult, error)
	Invalidate(imageURL string) (int, error)
	Stats() (smartfit.Stats, error)
	Maintain() cropcache.MaintenanceResult
	OnResolved(fn func(smartfit.Event))
}

// SourceLoader decodes an image reference.
type SourceLoader interface {
	Load(ctx context.Context, ref string) (*crop.Source, error)
}

// Server represents the local REST/WebSocket server.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	upgrader   websocket.Upgrader

	resolver Resolver
	loader   SourceLoader
	version  string

	// WebSocket management
	clients   map[*websocket.Conn]bool
	clientsMu sync.Mutex
	events    chan smartfit.Event
	done      chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup

	// Local image directories
	namespaces map[string]string // name -> absPath
}

// NewServer creates a server over resolver. Resolution events are queued and
// broadcast to every connected WebSocket client from a separate goroutine, so a
// slow client never delays a crop response.
func NewServer(resolver Resolver, loader SourceLoader, version string) *Server {
	s := &Server{
		mux: http.NewServeMux(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		resolver:   resolver,
		loader:     loader,
		version:    version,
		clients:    make(map[*websocket.Conn]bool),
		events:     make(chan smartfit.Event, eventBuffer),
		done:       make(chan struct{}),
		namespaces: make(map[string]string),
	}
	s.setupRoutes()
	s.httpServer = &http.Server{
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	resolver.OnResolved(func(ev smartfit.Event) {
		s.enqueue(ev)
	})
	s.wg.Add(1)
	go s.broadcastLoop()
	return s
}

// enqueue hands ev to the broadcast loop without blocking. It reports false
// when the queue is full and the event was dropped.
func (s *Server) enqueue(ev smartfit.Event) bool {
	select {
	case s.events <- ev:
		return true
	default:
		log.Debugf("API: broadcast queue full, dropping event for %s", ev.ImageURL)
		return false
	}
}

func (s *Server) broadcastLoop() {
	defer s.wg.Done()
	for {
		select {
		case ev := <-s.events:
			s.Broadcast(ev)
		case <-s.done:
			return
		}
	}
}

func (s *Server) setupRoutes() {
	s.mux.HandleFunc("/health", s.enableCORS(s.handleHealth))
	s.mux.HandleFunc("/ws", s.handleWebSocket)
	s.mux.HandleFunc("/crop", s.enableCORS(s.handleCrop))
	s.mux.HandleFunc("/cache/stats", s.enableCORS(s.handleStats))
	s.mux.HandleFunc("/cache/maintenance", s.enableCORS(s.handleMaintenance))
	s.mux.HandleFunc("/cache/invalidate", s.enableCORS(s.handleInvalidate))
	s.mux.HandleFunc("/cache/preload", s.enableCORS(s.handlePreload))
	s.mux.HandleFunc("/local/", s.enableCORS(s.handleLocal))
}

// RegisterNamespace registers a local directory. Its images can be listed under
// /local/{name}/images and cropped as local://{name}/{file}.
func (s *Server) RegisterNamespace(name, path string) {
	s.namespaces[name] = path
}

// enableCORS adds CORS headers to the handler.
func (s *Server) enableCORS(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		// Handle preflight requests
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next(w, r)
	}
}

// Handler returns the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Start listens on addr and blocks until the server stops.
func (s *Server) Start(addr string) error {
	if addr == "" {
		addr = DefaultAddr
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln until the server stops.
func (s *Server) Serve(ln net.Listener) error {
	log.Printf("API: listening on %s", ln.Addr())
	return s.httpServer.Serve(netutil.LimitListener(ln, maxConns))
}

// Stop shuts the server down and closes every WebSocket client.
func (s *Server) Stop(ctx context.Context) error {
	s.stopOnce.Do(func() { close(s.done) })
	s.wg.Wait()

	s.clientsMu.Lock()
	for client := range s.clients {
		client.Close()
		delete(s.clients, client)
	}
	s.clientsMu.Unlock()

	return s.httpServer.Shutdown(ctx)
}

// Broadcast sends ev to all connected clients. Clients that fail are dropped.
func (s *Server) Broadcast(ev smartfit.Event) {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()

	for client := range s.clients {
		_ = client.SetWriteDeadline(time.Now().Add(writeWait))
		if err := client.WriteJSON(ev); err != nil {
			log.Printf("API: failed to broadcast to client: %v", err)
			client.Close()
			delete(s.clients, client)
		}
	}
}

// ClientCount returns the number of connected WebSocket clients.
func (s *Server) ClientCount() int {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()
	return len(s.clients)
}

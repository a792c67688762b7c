// Partydeal room sessions.
//
// Players join a shared room over a websocket, the first joiner becomes
// host, and the host configures a set of role quotas. Dealing builds a
// deck from the quota, shuffles it, and hands each player exactly one
// role; every broadcast is redacted per viewer so nobody sees anyone
// else's role.
//
// Features:
// - WebSockets per room ID: /roles/:roomid and /roles/:roomid/ws
// - First player to join a room becomes its host
// - Host configures role counts, deals roles, and resets the room
// - Players identified by a stable client-supplied id (cookie-backed)
// - Players survive disconnects and reconnect to the same identity
// - Error responses sent only to the offending client
// - Rooms auto-reaped after a configurable idle timeout
// - Random 8-char room IDs via crypto/rand, with server-side collision check
// - In-browser QR button to share the current room, backed by go-qrcode
// - Read-only /summary endpoint for debugging, free of role secrets

package main

import (
	"crypto/rand"
	_ "embed"
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"github.com/skip2/go-qrcode"
)

type Client struct {
	conn *websocket.Conn
	send chan any

	// playerID is the identity bound to this connection. Empty until a
	// join command binds it; rebinding is last-write-wins so a reconnect
	// or duplicate tab simply takes over the identity.
	playerID string
}

type inboundMessage struct {
	client *Client
	raw    []byte
}

type Hub struct {
	room    *Room
	clients map[*Client]bool

	register  chan *Client
	unreg     chan *Client
	inbound   chan inboundMessage
	summaries chan chan roomSummary

	// stop asks the run loop to close every client and exit; senders
	// select against it so nothing blocks on a finished hub.
	stop     chan struct{}
	stopOnce sync.Once

	rand intSource

	// mu guards lastActive, which the manager's reaper reads from
	// outside the run loop. Everything else is owned by the loop.
	mu         sync.RWMutex
	lastActive time.Time
}

func newHub(roomID string) *Hub {
	return &Hub{
		room:       newRoom(roomID),
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unreg:      make(chan *Client),
		inbound:    make(chan inboundMessage),
		summaries:  make(chan chan roomSummary),
		stop:       make(chan struct{}),
		rand:       cryptoSource{},
		lastActive: time.Now(),
	}
}

func (h *Hub) touch() {
	h.mu.Lock()
	h.lastActive = time.Now()
	h.mu.Unlock()
}

func (h *Hub) run(cfg *Config) {
	for {
		select {
		case c := <-h.register:
			h.touch()
			h.clients[c] = true

			// An anonymous snapshot so the client can render the catalog
			// and lobby before joining.
			h.unicast(c, stateMessage{Type: "state", State: h.room.project(c.playerID)})

		case c := <-h.unreg:
			h.touch()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			// The participant record stays; the same id can reconnect.

		case in := <-h.inbound:
			h.touch()
			h.handleMessage(cfg, in)

		case reply := <-h.summaries:
			reply <- h.room.summary()

		case <-h.stop:
			for c := range h.clients {
				close(c.send)
				if c.conn != nil {
					_ = c.conn.Close()
				}
				delete(h.clients, c)
			}
			return
		}
	}
}

// shutdown asks the run loop to disconnect everyone and exit. Safe to
// call more than once.
func (h *Hub) shutdown() {
	h.stopOnce.Do(func() {
		close(h.stop)
	})
}

// handleMessage validates one raw client message and applies it to the
// room. Failures of any kind answer the sender alone; successful
// mutations broadcast fresh per-viewer projections to the whole room.
func (h *Hub) handleMessage(cfg *Config, in inboundMessage) {
	c := in.client

	// A client dropped during an earlier broadcast may still have
	// messages in flight; its send channel is closed, so answering it
	// would panic. Ignore it until its read pump notices and exits.
	if !h.clients[c] {
		return
	}

	cmd, err := decodeCommand(in.raw, cfg.readyCheck)
	if err != nil {
		h.unicast(c, newErrorMessage(err))
		return
	}

	if _, ok := cmd.(joinCmd); !ok && c.playerID == "" {
		h.unicast(c, newErrorMessage(errNotJoined))
		return
	}

	switch cmd := cmd.(type) {
	case joinCmd:
		created, err := h.room.join(cmd.clientID, time.Now())
		if err != nil {
			h.unicast(c, newErrorMessage(err))
			return
		}

		// Rebind even for known participants, so the latest connection
		// wins the identity.
		c.playerID = cmd.clientID

		if created {
			logf(cfg, "ROOMS: Player %q joined %s", cmd.clientID, h.room.id)
		}
		h.broadcast()

	case setRoleCountCmd:
		if err := h.room.setRoleCount(c.playerID, cmd.key, cmd.count); err != nil {
			h.unicast(c, newErrorMessage(err))
			return
		}
		h.broadcast()

	case assignRolesCmd:
		if err := h.room.assignRoles(c.playerID, cfg.readyCheck, h.rand, time.Now()); err != nil {
			h.unicast(c, newErrorMessage(err))
			return
		}
		logf(cfg, "ROOMS: Dealt roles in %s", h.room.id)
		h.broadcast()

	case resetCmd:
		if err := h.room.reset(c.playerID); err != nil {
			h.unicast(c, newErrorMessage(err))
			return
		}
		logf(cfg, "ROOMS: Reset %s", h.room.id)
		h.broadcast()

	case requestStateCmd:
		h.unicast(c, stateMessage{Type: "state", State: h.room.project(c.playerID)})

	case setNameCmd:
		if err := h.room.setName(c.playerID, cmd.name); err != nil {
			h.unicast(c, newErrorMessage(err))
			return
		}
		h.broadcast()

	case setReadyCmd:
		if err := h.room.setReady(c.playerID, cmd.ready); err != nil {
			h.unicast(c, newErrorMessage(err))
			return
		}
		h.broadcast()
	}
}

// broadcast projects the room once per connection and sends the result.
// A client whose send buffer is full is dropped; the rest still get
// their snapshot.
func (h *Hub) broadcast() {
	for client := range h.clients {
		msg := stateMessage{Type: "state", State: h.room.project(client.playerID)}

		select {
		case client.send <- msg:
		default:
			h.drop(client)
		}
	}
}

func (h *Hub) unicast(c *Client, msg any) {
	if !h.clients[c] {
		return
	}

	select {
	case c.send <- msg:
	default:
		h.drop(c)
	}
}

// drop removes a client the loop can no longer deliver to. Closing its
// send channel ends the write pump, which closes the connection and in
// turn ends the read pump.
func (h *Hub) drop(c *Client) {
	delete(h.clients, c)
	close(c.send)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

const playerCookieName = "partydeal_id"

// getOrSetPlayerID gives the browser a stable identity to present in its
// join command. The server treats whatever id the join carries as
// authoritative; the cookie is only a convenience.
func getOrSetPlayerID(w http.ResponseWriter, r *http.Request) string {
	if c, err := r.Cookie(playerCookieName); err == nil && c.Value != "" {
		return c.Value
	}

	id := uuid.NewString()

	http.SetCookie(w, &http.Cookie{
		Name:     playerCookieName,
		Value:    id,
		Path:     "/",
		SameSite: http.SameSiteLaxMode,
	})

	return id
}

// RoomManager holds a set of hubs keyed by room ID, so each $path/$roomid
// is its own isolated session.
type RoomManager struct {
	mu          sync.Mutex
	hubs        map[string]*Hub
	idleTimeout time.Duration
}

func newRoomManager(idleTimeout time.Duration) *RoomManager {
	rm := &RoomManager{
		hubs:        make(map[string]*Hub),
		idleTimeout: idleTimeout,
	}
	if idleTimeout > 0 {
		go rm.reaperLoop()
	}
	return rm
}

// getHub returns the hub for roomID, creating and starting it on first
// access.
func (rm *RoomManager) getHub(cfg *Config, roomID string) *Hub {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	if hub, ok := rm.hubs[roomID]; ok {
		return hub
	}

	hub := newHub(roomID)
	rm.hubs[roomID] = hub
	go hub.run(cfg)
	return hub
}

// peekHub returns the hub for roomID without creating one.
func (rm *RoomManager) peekHub(roomID string) *Hub {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	return rm.hubs[roomID]
}

// newRoomID generates a crypto-random room ID and ensures it doesn't
// collide with existing rooms.
func (rm *RoomManager) newRoomID() string {
	const letters = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
	for {
		buf := make([]byte, 8)
		if _, err := rand.Read(buf); err != nil {
			panic("crypto/rand failure: " + err.Error())
		}
		out := make([]byte, 8)
		for i := range out {
			out[i] = letters[int(buf[i])%len(letters)]
		}
		id := string(out)

		rm.mu.Lock()
		_, exists := rm.hubs[id]
		rm.mu.Unlock()

		if !exists {
			return id
		}
	}
}

// reaperLoop periodically removes hubs that have been idle longer than
// idleTimeout.
func (rm *RoomManager) reaperLoop() {
	ticker := time.NewTicker(rm.idleTimeout / 2)
	for range ticker.C {
		cutoff := time.Now().Add(-rm.idleTimeout)

		rm.mu.Lock()
		for id, hub := range rm.hubs {
			hub.mu.RLock()
			last := hub.lastActive
			hub.mu.RUnlock()

			if last.Before(cutoff) {
				delete(rm.hubs, id)
				hub.shutdown()
			}
		}
		rm.mu.Unlock()
	}
}

// WebSocket handler that picks the hub based on :roomid
func serveWSForManager(cfg *Config, rm *RoomManager) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		roomID := ps.ByName("roomid")
		if roomID == "" {
			http.Error(w, "missing room id", http.StatusBadRequest)
			return
		}

		getOrSetPlayerID(w, r)

		hub := rm.getHub(cfg, roomID)

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Println("upgrade error:", err)
			return
		}

		client := &Client{
			conn: conn,
			send: make(chan any, 8),
		}

		select {
		case hub.register <- client:
		case <-hub.stop:
			_ = conn.Close()
			return
		}

		go client.writePump()
		client.readPump(hub)
	}
}

func (c *Client) readPump(h *Hub) {
	defer func() {
		select {
		case h.unreg <- c:
		case <-h.stop:
		}
		_ = c.conn.Close()
	}()

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		select {
		case h.inbound <- inboundMessage{client: c, raw: raw}:
		case <-h.stop:
			return
		}
	}
}

func (c *Client) writePump() {
	defer c.conn.Close()

	for msg := range c.send {
		if err := c.conn.WriteJSON(msg); err != nil {
			return
		}
	}
}

// QR handler: generates a PNG QR code for the current room URL using go-qrcode.
func qrHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	roomID := ps.ByName("roomid")
	if roomID == "" {
		http.Error(w, "missing room id", http.StatusBadRequest)
		return
	}

	// Derive scheme (respecting TLS and X-Forwarded-Proto if present).
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}

	// We are at /.../:roomid/qr; strip trailing "/qr" to get the room URL.
	path := strings.TrimSuffix(r.URL.Path, "/qr")

	url := scheme + "://" + r.Host + path

	const qrSize = 320 // mobile-friendly size
	png, err := qrcode.Encode(url, qrcode.Medium, qrSize)
	if err != nil {
		http.Error(w, "qr generation failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(png)
}

// serveSummary answers the read-only debug view for an existing room.
// The snapshot is taken inside the room's run loop, so it never races
// with command processing, and it carries no role assignments.
func serveSummary(cfg *Config, rm *RoomManager) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		roomID := ps.ByName("roomid")

		hub := rm.peekHub(roomID)
		if hub == nil {
			http.Error(w, "no such room", http.StatusNotFound)
			return
		}

		reply := make(chan roomSummary, 1)
		select {
		case hub.summaries <- reply:
		case <-hub.stop:
			http.Error(w, "no such room", http.StatusNotFound)
			return
		}
		summary := <-reply

		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		securityHeaders(cfg, w)

		if err := json.NewEncoder(w).Encode(summary); err != nil {
			logf(cfg, "ROOMS: Summary write failed for %s: %v", roomID, err)
		}
	}
}

// ---- Static file paths ----

//go:embed roles/index.html
var indexHTML []byte

//go:embed roles/app.css
var partydealCSS []byte

//go:embed roles/app.js
var partydealJS []byte

func getIndexHandler(cfg *Config) func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", "public, max-age=3600")
		w.Header().Set("Expires", time.Now().Add(time.Hour).UTC().Format(http.TimeFormat))
		securityHeaders(cfg, w)

		_ = getOrSetPlayerID(w, r)

		_, _ = w.Write(indexHTML)
	}
}

func getCssHandler(cfg *Config) func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		w.Header().Set("Content-Type", "text/css; charset=utf-8")
		w.Header().Set("Cache-Control", "public, max-age=3600")
		w.Header().Set("Expires", time.Now().Add(time.Hour).UTC().Format(http.TimeFormat))
		securityHeaders(cfg, w)

		_, _ = w.Write(partydealCSS)
	}
}

func getJsHandler(cfg *Config) func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		w.Header().Set("Content-Type", "application/javascript; charset=utf-8")
		w.Header().Set("Cache-Control", "public, max-age=3600")
		w.Header().Set("Expires", time.Now().Add(time.Hour).UTC().Format(http.TimeFormat))
		securityHeaders(cfg, w)

		_, _ = w.Write(partydealJS)
	}
}

// redirectNewRoom handles GET /path by generating a new random room ID
// (with server-side collision detection) and redirecting to /path/:roomid.
func redirectNewRoom(cfg *Config, path string, rm *RoomManager) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		roomID := rm.newRoomID()
		logf(cfg, "ROOMS: Created room %s/%s", path, roomID)
		http.Redirect(w, r, cfg.prefix+path+"/"+roomID, http.StatusTemporaryRedirect)
	}
}

// registerRoleGame sets up routes so that:
//   - $path                  → redirects to new random room (8-char ID)
//   - $path/:roomid          → HTML client
//   - $path/:roomid/ws       → WebSocket for that room
//   - $path/:roomid/qr       → PNG QR code for that room URL
//   - $path/:roomid/summary  → read-only JSON debug view
func registerRoleGame(cfg *Config, path string, mux *httprouter.Router) {
	rm := newRoomManager(cfg.sessionTimeout)

	// Root path → redirect to new random room
	mux.GET(cfg.prefix+path, redirectNewRoom(cfg, path, rm))

	// Per-room client view (HTML)
	mux.GET(cfg.prefix+path+"/:roomid", getIndexHandler(cfg))

	// Shared assets (no roomid in route)
	mux.GET(cfg.prefix+"/assets/roles/app.css", getCssHandler(cfg))
	mux.GET(cfg.prefix+"/assets/roles/app.js", getJsHandler(cfg))

	// Per-room websocket
	mux.GET(cfg.prefix+path+"/:roomid/ws", serveWSForManager(cfg, rm))

	// Per-room QR code
	mux.GET(cfg.prefix+path+"/:roomid/qr", qrHandler)

	// Per-room debug summary
	mux.GET(cfg.prefix+path+"/:roomid/summary", serveSummary(cfg, rm))
}

package connector

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"matchfabric/internal/ezauth"
	"matchfabric/internal/ranking"
	"matchfabric/internal/state"
)

// WSMessage is the envelope for every message in either direction
type WSMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Upgrader configures the WebSocket upgrader
var Upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Server accepts matchmaking websocket connections and runs one Handler per
// connection
type Server struct {
	store    *state.Store
	auth     *ezauth.Client
	rank     *ranking.Client
	notifier *Notifier
	opts     Options
}

// NewServer creates the websocket front-end. The notifier must be watching
// before clients connect.
func NewServer(store *state.Store, auth *ezauth.Client, rank *ranking.Client, notifier *Notifier, opts Options) *Server {
	return &Server{store: store, auth: auth, rank: rank, notifier: notifier, opts: opts}
}

// HandleWebSocket upgrades the HTTP connection and serves the session
func (s *Server) HandleWebSocket(c *gin.Context) {
	conn, err := Upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Println("WebSocket upgrade error:", err)
		return
	}

	client := &client{
		conn:     conn,
		send:     make(chan []byte, 256),
		handler:  NewHandler(s.store, s.auth, s.rank, s.opts),
		notifier: s.notifier,
	}

	go client.writePump()
	go client.readPump(c.Request.Context())
}

type client struct {
	conn     *websocket.Conn
	handler  *Handler
	notifier *Notifier

	// sendMu guards closing against late emits: a match callback already
	// pulled from the notifier may fire while the socket tears down
	sendMu   sync.Mutex
	send     chan []byte
	sendDone bool
}

func (c *client) closeSend() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if !c.sendDone {
		c.sendDone = true
		close(c.send)
	}
}

func (c *client) readPump(ctx context.Context) {
	defer func() {
		if userID := c.handler.UserID(); userID != "" {
			c.notifier.Forget(userID)
		}
		c.handler.Disconnect(ctx)
		c.closeSend()
		c.conn.Close()
	}()

	for {
		var msg WSMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			break
		}
		c.handleMessage(ctx, msg)
	}
}

func (c *client) writePump() {
	defer c.conn.Close()

	for message := range c.send {
		c.conn.WriteMessage(websocket.TextMessage, message)
	}
	c.conn.WriteMessage(websocket.CloseMessage, []byte{})
}

func (c *client) emit(event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("[CONNECTOR] Failed to marshal %s payload: %v", event, err)
		return
	}
	out, _ := json.Marshal(WSMessage{Event: event, Data: data})
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.sendDone {
		return
	}
	select {
	case c.send <- out:
	default:
	}
}

func (c *client) emitError(err error) {
	c.emit("error", err.Error())
}

func (c *client) handleMessage(ctx context.Context, msg WSMessage) {
	switch msg.Event {
	case "search":
		var data Search
		if err := json.Unmarshal(msg.Data, &data); err != nil {
			c.emitError(err)
			return
		}
		c.handleSearch(ctx, data)
	case "host":
		var data Host
		if err := json.Unmarshal(msg.Data, &data); err != nil {
			c.emitError(err)
			return
		}
		c.handleHost(ctx, data)
	case "join":
		c.handleJoin(ctx, msg.Data)
	case "start":
		if err := c.handler.HandleStart(ctx); err != nil {
			c.emitError(err)
		}
	case "stop_search":
		if err := c.handler.RemoveSearcher(ctx); err != nil && !errors.Is(err, state.ErrNotFound) {
			c.emitError(err)
		}
	default:
		log.Printf("[CONNECTOR] Unknown event: %s", msg.Event)
	}
}

func (c *client) handleSearch(ctx context.Context, data Search) {
	err := c.handler.HandleSearch(ctx, data)

	var playing *AlreadyPlayingError
	if errors.As(err, &playing) {
		// Reconnect: hand the live match straight back
		c.emit("match", MatchFromActive(playing.Match, c.handler.UserID()))
		return
	}
	if err != nil {
		c.emitError(err)
		return
	}

	c.notifier.NotifyOnMatch(c.handler.UserID(), func(m Match) {
		c.emit("match", m)
		c.handler.Reset()
	})
}

func (c *client) handleHost(ctx context.Context, data Host) {
	joinToken, err := c.handler.HandleHost(ctx, data)
	if err != nil {
		c.emitError(err)
		return
	}

	c.emit("host_info", HostInfo{HostID: c.handler.SearcherID(), JoinToken: joinToken})
	c.notifier.NotifyOnMatch(c.handler.UserID(), func(m Match) {
		c.emit("match", m)
		c.handler.Reset()
	})
}

// handleJoin dispatches on the payload shape: a join_token targets a private
// room, a host_id a public one
func (c *client) handleJoin(ctx context.Context, raw json.RawMessage) {
	var probe struct {
		JoinToken string `json:"join_token"`
		HostID    string `json:"host_id"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		c.emitError(err)
		return
	}

	var err error
	if probe.JoinToken != "" {
		var data JoinPriv
		if err = json.Unmarshal(raw, &data); err == nil {
			err = c.handler.HandleJoinPriv(ctx, data)
		}
	} else {
		var data JoinPub
		if err = json.Unmarshal(raw, &data); err == nil {
			err = c.handler.HandleJoinPub(ctx, data)
		}
	}
	if err != nil {
		c.emitError(err)
		return
	}

	c.notifier.NotifyOnMatch(c.handler.UserID(), func(m Match) {
		c.emit("match", m)
		c.handler.Reset()
	})
}

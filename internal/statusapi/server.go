// Package statusapi is the HTTP status/control surface for the DCC
// engine: list transfers, accept/cancel an incoming offer, stream a live
// event feed, and expose Prometheus metrics.
//
// Grounded on the "websockets" (module "webs") experiment in the teacher
// repo: its go.mod pairs github.com/gin-gonic/gin with
// github.com/gorilla/websocket and nothing else, which is exactly the
// pairing this package exercises — gin for the JSON routes, gorilla for
// the event-feed hub. No source survived retrieval for that experiment,
// so the route/hub shape below is this engine's own, built in gin's
// idiomatic router-group style.
package statusapi

import (
	"encoding/json"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/xid"

	"ircdcc/dcc"
)

// transferView is the JSON projection of a dcc.Transfer returned by the
// status routes. The engine's internal Transfer is never marshaled
// directly, so wire shape stays decoupled from internal field names.
type transferView struct {
	ID          string  `json:"id"`
	Kind        string  `json:"kind"`
	Status      string  `json:"status"`
	RemoteNick  string  `json:"remote_nick"`
	Filename    string  `json:"filename"`
	Size        uint64  `json:"size"`
	Pos         uint64  `json:"pos"`
	Percent     float64 `json:"percent"`
	BytesPerSec float64 `json:"bytes_per_sec"`
	ETASeconds  float64 `json:"eta_seconds"`
}

func toView(t *dcc.Transfer) transferView {
	return transferView{
		ID:          t.ID.String(),
		Kind:        t.Kind.String(),
		Status:      t.Status.String(),
		RemoteNick:  t.RemoteNick,
		Filename:    t.Filename,
		Size:        t.Size,
		Pos:         t.Pos,
		Percent:     t.Percent(),
		BytesPerSec: t.BytesPerSec,
		ETASeconds:  t.ETA.Seconds(),
	}
}

// Server wires a dcc.Engine onto a gin router plus a websocket event hub.
type Server struct {
	engine *dcc.Engine
	router *gin.Engine
	hub    *hub
}

// New constructs a Server. Routes are registered immediately; serve them
// by embedding s.Router() into an http.Server.
func New(engine *dcc.Engine) *Server {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	s := &Server{engine: engine, router: r, hub: newHub()}

	r.GET("/transfers", s.listTransfers)
	r.GET("/transfers/:id", s.getTransfer)
	r.POST("/transfers/:id/accept", s.acceptTransfer)
	r.POST("/transfers/:id/cancel", s.cancelTransfer)
	r.GET("/events", s.serveEvents)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return s
}

// Router exposes the underlying gin.Engine so cmd/dccd can serve it
// through its own http.Server (needed for tableflip/systemd listener
// handoff, which owns the net.Listener itself).
func (s *Server) Router() http.Handler { return s.router }

func (s *Server) listTransfers(c *gin.Context) {
	all := s.engine.Registry.All()
	out := make([]transferView, 0, len(all))
	for _, t := range all {
		out = append(out, toView(t))
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) findByParam(c *gin.Context) (*dcc.Transfer, bool) {
	id, err := xid.FromString(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid transfer id"})
		return nil, false
	}
	t, ok := s.engine.Registry.Get(id)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no such transfer"})
		return nil, false
	}
	return t, true
}

func (s *Server) getTransfer(c *gin.Context) {
	t, ok := s.findByParam(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, toView(t))
}

func (s *Server) acceptTransfer(c *gin.Context) {
	t, ok := s.findByParam(c)
	if !ok {
		return
	}
	var err error
	if t.Kind.IsFile() {
		err = s.engine.AcceptIncomingFile(t)
	} else {
		err = s.engine.AcceptIncomingChat(t)
	}
	if err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, toView(t))
}

func (s *Server) cancelTransfer(c *gin.Context) {
	t, ok := s.findByParam(c)
	if !ok {
		return
	}
	s.engine.Abort(t)
	c.JSON(http.StatusOK, gin.H{"status": "aborted"})
}

// serveEvents upgrades to a websocket and streams Redraw/ChatLine/Hotlist/
// Diagnostics notifications as they're broadcast by a dcc.Sink wrapper
// installed on the engine (see WrapSink).
func (s *Server) serveEvents(c *gin.Context) {
	s.hub.serveWS(c.Writer, c.Request)
}

// Hub returns the event hub so cmd/dccd can layer it onto the engine's
// Sink (the concrete instance of the "status redraw" Observer Sink
// contract, made queryable over HTTP/WS per SPEC_FULL §2).
func (s *Server) Hub() *hub { return s.hub }

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// hub fans out broadcast() calls to every connected websocket client.
// Grounded on gorilla/websocket's own hub example (the "register/
// unregister/broadcast over channels" shape every gorilla/websocket
// consumer in the wild converges on).
type hub struct {
	mu      sync.Mutex
	clients map[*websocket.Conn]chan []byte
}

func newHub() *hub {
	return &hub{clients: make(map[*websocket.Conn]chan []byte)}
}

func (h *hub) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	out := make(chan []byte, 16)
	h.mu.Lock()
	h.clients[conn] = out
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		delete(h.clients, conn)
		h.mu.Unlock()
		conn.Close()
	}()

	conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})
	go func() {
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	for msg := range out {
		if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}

func (h *hub) broadcast(msg []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn, ch := range h.clients {
		select {
		case ch <- msg:
		default:
			// slow consumer: drop rather than block the sink call
			delete(h.clients, conn)
			conn.Close()
		}
	}
}

// event is the wire shape pushed to websocket clients by BroadcastingSink.
type event struct {
	Type         string `json:"type"` // "redraw" | "chat" | "hotlist" | "diagnostics"
	Transfer     string `json:"transfer"`
	Status       string `json:"status,omitempty"`
	Seq          uint64 `json:"seq,omitempty"`
	Line         string `json:"line,omitempty"`
	RTTMicros    uint32 `json:"rtt_micros,omitempty"`
	TotalRetrans uint32 `json:"total_retrans,omitempty"`
	SndCwnd      uint32 `json:"snd_cwnd,omitempty"`
}

// BroadcastingSink wraps an existing dcc.Sink, forwarding every call
// unchanged, and additionally publishes a JSON event to every connected
// websocket client (serveEvents above). This is the concrete instance of
// spec.md §4's Observer Sink "status redraw" contract made queryable over
// the network (SPEC_FULL §2).
type BroadcastingSink struct {
	dcc.Sink
	hub *hub
}

// WrapSink returns a Sink that forwards to inner and also broadcasts over
// s's websocket hub.
func (s *Server) WrapSink(inner dcc.Sink) dcc.Sink {
	return &BroadcastingSink{Sink: inner, hub: s.hub}
}

func (b *BroadcastingSink) Redraw(t *dcc.Transfer) {
	b.Sink.Redraw(t)
	b.publish(event{Type: "redraw", Transfer: t.ID.String(), Status: t.Status.String()})
}

func (b *BroadcastingSink) ChatLine(t *dcc.Transfer, seq uint64, line string) {
	b.Sink.ChatLine(t, seq, line)
	b.publish(event{Type: "chat", Transfer: t.ID.String(), Seq: seq, Line: line})
}

func (b *BroadcastingSink) Hotlist(t *dcc.Transfer) {
	b.Sink.Hotlist(t)
	b.publish(event{Type: "hotlist", Transfer: t.ID.String()})
}

func (b *BroadcastingSink) Diagnostics(t *dcc.Transfer, info *dcc.TCPDiagnostics) {
	b.Sink.Diagnostics(t, info)
	if info == nil {
		return
	}
	b.publish(event{
		Type:         "diagnostics",
		Transfer:     t.ID.String(),
		RTTMicros:    info.RTTMicros,
		TotalRetrans: info.TotalRetrans,
		SndCwnd:      info.SndCwnd,
	})
}

func (b *BroadcastingSink) publish(e event) {
	msg, err := json.Marshal(e)
	if err != nil {
		return
	}
	b.hub.broadcast(msg)
}

// Addr is a small helper for cmd/dccd to log where a net.Listener ended
// up bound, matching the "logf ... listening on %s" idiom used by every
// teacher main().
func Addr(ln net.Listener) string {
	if ln == nil {
		return ""
	}
	return ln.Addr().String()
}

package net

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"LocalAnimator/internal/state"
)

type HubOption func(*Hub)

func WithHubLogger(l *slog.Logger) HubOption {
	return func(h *Hub) { h.log = l }
}

// WithHubClock sets the clock used to tag snapshots the relay produces itself.
func WithHubClock(c *state.Clock) HubOption {
	return func(h *Hub) { h.clock = c }
}

type command struct {
	reply string
	run   func(h *Hub, data json.RawMessage) (any, error)
}

var commands = map[string]command{
	EventCreateElement: {EventElementCreated, (*Hub).createElement},
	EventCaptureFrame:  {EventFrameCaptured, (*Hub).captureFrame},
	EventCreateLayer:   {EventLayerCreated, (*Hub).createLayer},
	EventActivateLayer: {EventLayerActivated, (*Hub).activateLayer},
	EventRemoveElement: {EventElementRemoved, (*Hub).removeElement},
}

// Hub is the relay: it owns the authoritative session, answers requests from
// participants and broadcasts the full state after every change. Messages
// are handled one at a time.
type Hub struct {
	session  *state.Session
	clock    *state.Clock
	peers    *PeerManager
	upgrader websocket.Upgrader
	log      *slog.Logger

	mu sync.Mutex
}

func NewHub(session *state.Session, opts ...HubOption) *Hub {
	h := &Hub{
		session: session,
		log:     slog.Default(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.clock == nil {
		h.clock = state.NewClock("relay-" + uuid.NewString())
	}
	h.log = h.log.With("component", "relay")
	h.peers = NewPeerManager(h.log)
	return h
}

// Peers returns the number of connected participants.
func (h *Hub) Peers() int { return h.peers.Len() }

// Close disconnects every participant.
func (h *Hub) Close() { h.peers.CloseAll() }

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "err", err)
		return
	}
	peer := &Peer{ID: uuid.NewString(), conn: conn}
	h.peers.Add(peer)
	defer func() {
		h.peers.Remove(peer.ID)
		conn.Close()
	}()

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	stop := make(chan struct{})
	defer close(stop)
	go h.keepalive(peer, stop)

	if !h.greet(peer) {
		return
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.Warn("peer read failed", "peer", peer.ID, "err", err)
			}
			return
		}
		h.handle(peer, data)
	}
}

// greet sends the current state to a new peer. It runs under the hub lock so
// no newer broadcast can overtake it.
func (h *Hub) greet(peer *Peer) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	msg, err := h.stateMessage("")
	return err == nil && peer.Send(msg) == nil
}

func (h *Hub) keepalive(peer *Peer, stop <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := peer.ping(); err != nil {
				return
			}
		}
	}
}

func (h *Hub) handle(peer *Peer, data []byte) {
	env, err := decodeEnvelope(data)
	if err != nil {
		h.log.Warn("malformed message", "peer", peer.ID, "err", err)
		h.reply(peer, EventError, "", failure(err))
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.log.Debug("message received", "peer", peer.ID, "event", env.Event, "id", env.ID)

	switch env.Event {
	case EventRequestState:
		msg, err := h.stateMessage(env.ID)
		if err == nil {
			peer.Send(msg)
		}
	case EventUpdateState:
		if err := h.updateState(env.Data); err != nil {
			h.log.Warn("update_state rejected", "peer", peer.ID, "err", err)
			h.reply(peer, EventError, env.ID, failure(err))
			return
		}
		h.broadcastState()
	default:
		cmd, ok := commands[env.Event]
		if !ok {
			h.reply(peer, EventError, env.ID, failure(state.Invalid("dispatch", "unknown event %q", env.Event)))
			return
		}
		out, err := cmd.run(h, env.Data)
		if err != nil {
			h.log.Info("command failed", "event", env.Event, "err", err)
			h.reply(peer, cmd.reply, env.ID, failure(err))
			return
		}
		h.reply(peer, cmd.reply, env.ID, out)
		h.session.SetOrigin(h.clock.Next())
		h.broadcastState()
	}
}

func (h *Hub) reply(peer *Peer, event, id string, data any) {
	msg, err := encode(event, id, data)
	if err != nil {
		h.log.Error("encode reply", "event", event, "err", err)
		return
	}
	if err := peer.Send(msg); err != nil {
		h.log.Warn("reply failed", "peer", peer.ID, "event", event, "err", err)
	}
}

func (h *Hub) stateMessage(id string) ([]byte, error) {
	msg, err := encode(EventStateUpdate, id, h.session.Snapshot())
	if err != nil {
		h.log.Error("encode state", "err", err)
	}
	return msg, err
}

func (h *Hub) broadcastState() {
	msg, err := h.stateMessage("")
	if err != nil {
		return
	}
	h.peers.Broadcast(msg)
}

func decodeData(op string, data json.RawMessage, v any) error {
	if len(data) == 0 {
		return state.Invalid(op, "missing payload")
	}
	if err := json.Unmarshal(data, v); err != nil {
		if state.IsValidation(err) {
			return err
		}
		return state.Invalid(op, "%v", err)
	}
	return nil
}

// updateState merges a participant's state. The sender's origin tag is kept
// so the sender can recognise the echo; untagged updates get the relay's.
func (h *Hub) updateState(data json.RawMessage) error {
	var p state.StatePatch
	if err := decodeData("update state", data, &p); err != nil {
		return err
	}
	if p.Origin == nil {
		o := h.clock.Next()
		p.Origin = &o
	} else {
		h.clock.Observe(p.Origin.Revision)
	}
	return h.session.Merge(p)
}

func (h *Hub) createElement(data json.RawMessage) (any, error) {
	var req CreateElementRequest
	if err := decodeData("create element", data, &req); err != nil {
		return nil, err
	}
	draft, err := req.Draft()
	if err != nil {
		return nil, err
	}
	var id string
	if req.FrameNumber != nil {
		id, err = h.session.AddElementAt(req.SceneID, req.LayerID, *req.FrameNumber, draft)
	} else {
		id, err = h.session.AddElement(req.SceneID, req.LayerID, draft)
	}
	if err != nil {
		return nil, err
	}
	sc, err := h.session.Scene(req.SceneID)
	if err != nil {
		return nil, err
	}
	out := ElementReply{Reply: Reply{Success: true}}
	if l := sc.Layer(req.LayerID); l != nil {
		for _, e := range l.Elements {
			if e.ID == id {
				out.Element = &e
				break
			}
		}
	}
	return out, nil
}

func (h *Hub) captureFrame(data json.RawMessage) (any, error) {
	var req CaptureFrameRequest
	if err := decodeData("capture frame", data, &req); err != nil {
		return nil, err
	}
	var (
		n   int
		err error
	)
	if req.FrameNumber != nil {
		n, err = h.session.CaptureFrameAt(req.SceneID, *req.FrameNumber)
	} else {
		n, err = h.session.CaptureFrame(req.SceneID)
	}
	if err != nil {
		return nil, err
	}
	sc, err := h.session.Scene(req.SceneID)
	if err != nil {
		return nil, err
	}
	return FrameReply{Reply: Reply{Success: true}, FrameNumber: &n, Scene: &sc}, nil
}

func (h *Hub) createLayer(data json.RawMessage) (any, error) {
	var req CreateLayerRequest
	if err := decodeData("create layer", data, &req); err != nil {
		return nil, err
	}
	l, err := h.session.CreateLayer(req.SceneID, req.Name, req.Type)
	if err != nil {
		return nil, err
	}
	return LayerReply{Reply: Reply{Success: true}, Layer: &l}, nil
}

func (h *Hub) activateLayer(data json.RawMessage) (any, error) {
	var req ActivateLayerRequest
	if err := decodeData("activate layer", data, &req); err != nil {
		return nil, err
	}
	l, err := h.session.ActivateLayer(req.SceneID, req.LayerID)
	if err != nil {
		return nil, err
	}
	return LayerReply{Reply: Reply{Success: true}, Layer: &l}, nil
}

func (h *Hub) removeElement(data json.RawMessage) (any, error) {
	var req RemoveElementRequest
	if err := decodeData("remove element", data, &req); err != nil {
		return nil, err
	}
	if err := h.session.RemoveElement(req.SceneID, req.LayerID, req.ElementID); err != nil {
		return nil, err
	}
	return Reply{Success: true}, nil
}

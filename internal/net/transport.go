package net

import (
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxMessageSize = 8 << 20
)

// Peer is one participant connected to the relay over a websocket.
type Peer struct {
	ID   string
	conn *websocket.Conn
	mu   sync.Mutex
}

// Send writes one text message, guarded by the peer's mutex and a write deadline.
func (p *Peer) Send(data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return p.conn.WriteMessage(websocket.TextMessage, data)
}

func (p *Peer) ping() error {
	return p.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

// PeerManager is used by the relay to track every connected participant.
type PeerManager struct {
	peers map[string]*Peer
	mu    sync.RWMutex
	log   *slog.Logger
}

func NewPeerManager(log *slog.Logger) *PeerManager {
	return &PeerManager{
		peers: make(map[string]*Peer),
		log:   log,
	}
}

func (pm *PeerManager) Add(peer *Peer) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.peers[peer.ID] = peer
	pm.log.Info("peer connected", "peer", peer.ID, "remote", peer.conn.RemoteAddr().String(), "peers", len(pm.peers))
}

func (pm *PeerManager) Remove(id string) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	if _, ok := pm.peers[id]; !ok {
		return
	}
	delete(pm.peers, id)
	pm.log.Info("peer disconnected", "peer", id, "peers", len(pm.peers))
}

func (pm *PeerManager) Len() int {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	return len(pm.peers)
}

// Broadcast sends data to every peer, the sender included. Peers whose write
// fails are dropped and their connection closed.
func (pm *PeerManager) Broadcast(data []byte) {
	pm.mu.RLock()
	peers := make([]*Peer, 0, len(pm.peers))
	for _, p := range pm.peers {
		peers = append(peers, p)
	}
	pm.mu.RUnlock()

	for _, p := range peers {
		if err := p.Send(data); err != nil {
			pm.log.Warn("dropping peer after failed write", "peer", p.ID, "err", err)
			pm.Remove(p.ID)
			p.conn.Close()
		}
	}
}

// CloseAll disconnects every peer.
func (pm *PeerManager) CloseAll() {
	pm.mu.Lock()
	peers := pm.peers
	pm.peers = make(map[string]*Peer)
	pm.mu.Unlock()
	for _, p := range peers {
		p.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "relay shutting down"),
			time.Now().Add(writeWait))
		p.conn.Close()
	}
}

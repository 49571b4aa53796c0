package inmemory

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/sessiondj/peer/internal/transport"
	"github.com/sessiondj/peer/pkg/msgrouter"
)

// Hub is an in-process broadcast fabric connecting several peers.
// Every broadcast is re-encoded and delivered synchronously to all
// attached peers, sender included, so self-echo handling gets
// exercised the same way it would over a real relay.
type Hub struct {
	mu    sync.Mutex
	peers []*Peer
}

func NewHub() *Hub {
	return &Hub{}
}

func (h *Hub) Attach(dispatcher transport.Dispatcher) *Peer {
	h.mu.Lock()
	defer h.mu.Unlock()

	peer := &Peer{hub: h, dispatcher: dispatcher}
	h.peers = append(h.peers, peer)
	return peer
}

func (h *Hub) broadcast(ctx context.Context, msg *msgrouter.Message) error {
	raw, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	h.mu.Lock()
	peers := append([]*Peer(nil), h.peers...)
	h.mu.Unlock()

	for _, peer := range peers {
		if peer.dropped {
			continue
		}

		var copied msgrouter.Message
		if err := json.Unmarshal(raw, &copied); err != nil {
			return err
		}

		// delivery errors are the receiver's problem, as on a real relay
		_ = peer.dispatcher.DispatchMessage(ctx, &copied)
	}

	return nil
}

// Peer is one attachment point on the hub.
type Peer struct {
	hub        *Hub
	dispatcher transport.Dispatcher
	dropped    bool
}

func (p *Peer) Broadcast(ctx context.Context, msg *msgrouter.Message) error {
	return p.hub.broadcast(ctx, msg)
}

// Drop simulates a silent disconnect: the peer stops receiving but the
// hub keeps accepting its sends.
func (p *Peer) Drop() {
	p.hub.mu.Lock()
	defer p.hub.mu.Unlock()
	p.dropped = true
}

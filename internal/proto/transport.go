// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package proto

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/nats-io/nats.go"

	"github.com/microblocks-fw/vm/pkg/log"
)

// ErrTransportClosed is returned by Recv once a Transport has shut down
// and will never deliver another chunk.
var ErrTransportClosed = errors.New("proto: transport closed")

// Transport is the abstract duplex byte channel spec.md §4.5 treats
// "serial and/or BLE" as: something a Session can read arbitrary-sized
// chunks from and write encoded frames to. Recv blocks until the next
// chunk arrives, the transport closes, or ctx-like cancellation happens
// via Close from another goroutine.
type Transport interface {
	// Recv blocks for the next chunk of host->VM bytes. It returns
	// ErrTransportClosed (possibly wrapped) once the channel is done.
	Recv() ([]byte, error)
	// Send writes one already-framed chunk of VM->host bytes.
	Send([]byte) error
	// SessionID identifies this connection for logging/metrics labeling.
	SessionID() string
	Close() error
}

// websocketTransport adapts a *websocket.Conn: the natural stand-in for
// "serial and/or BLE" when the host is a browser-based IDE bridge
// (SPEC_FULL.md's wiring for gorilla/websocket).
type websocketTransport struct {
	id   string
	conn *websocket.Conn
}

// Upgrader is shared across connections; spec.md's host protocol has no
// notion of origin checking, so this permits any origin the way a
// serial/BLE link has no concept of one either.
var Upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// NewWebsocketTransport upgrades an HTTP connection to a websocket and
// wraps it as a Transport. Call from an http.Handler.
func NewWebsocketTransport(w http.ResponseWriter, r *http.Request) (Transport, error) {
	conn, err := Upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("proto: websocket upgrade: %w", err)
	}
	id := uuid.NewString()
	log.Infof("[PROTO]> websocket session %s connected from %s", id, r.RemoteAddr)
	return &websocketTransport{id: id, conn: conn}, nil
}

func (t *websocketTransport) Recv() ([]byte, error) {
	_, data, err := t.conn.ReadMessage()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransportClosed, err)
	}
	return data, nil
}

func (t *websocketTransport) Send(data []byte) error {
	return t.conn.WriteMessage(websocket.BinaryMessage, data)
}

func (t *websocketTransport) SessionID() string { return t.id }

func (t *websocketTransport) Close() error { return t.conn.Close() }

// natsTransport publishes/subscribes host<->VM frames on a pair of NATS
// subjects, for multi-board test harnesses and fan-out debugging
// (SPEC_FULL.md's wiring for nats-io/nats.go): one VM process, one
// inbound subject, one outbound subject, so several host tools can
// observe the same board's traffic at once.
type natsTransport struct {
	id       string
	conn     *nats.Conn
	sub      *nats.Subscription
	outbound string
	inbox    chan []byte
	closed   chan struct{}
}

// NewNATSTransport subscribes to inSubject for host->VM frames and
// publishes VM->host frames to outSubject.
func NewNATSTransport(nc *nats.Conn, inSubject, outSubject string) (Transport, error) {
	id := uuid.NewString()
	t := &natsTransport{
		id:       id,
		conn:     nc,
		outbound: outSubject,
		inbox:    make(chan []byte, 64),
		closed:   make(chan struct{}),
	}
	sub, err := nc.Subscribe(inSubject, func(msg *nats.Msg) {
		select {
		case t.inbox <- msg.Data:
		case <-t.closed:
		default:
			log.Warnf("[PROTO]> nats session %s: inbox full, dropping %d bytes", id, len(msg.Data))
		}
	})
	if err != nil {
		return nil, fmt.Errorf("proto: nats subscribe %s: %w", inSubject, err)
	}
	t.sub = sub
	log.Infof("[PROTO]> nats session %s bridging %s <-> %s", id, inSubject, outSubject)
	return t, nil
}

func (t *natsTransport) Recv() ([]byte, error) {
	select {
	case data := <-t.inbox:
		return data, nil
	case <-t.closed:
		return nil, ErrTransportClosed
	}
}

func (t *natsTransport) Send(data []byte) error {
	if err := t.conn.Publish(t.outbound, data); err != nil {
		return fmt.Errorf("proto: nats publish %s: %w", t.outbound, err)
	}
	return nil
}

func (t *natsTransport) SessionID() string { return t.id }

func (t *natsTransport) Close() error {
	close(t.closed)
	return t.sub.Unsubscribe()
}

// Copyright 2026 The basalt Authors
// This file is part of the basalt library.
//
// The basalt library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The basalt library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the basalt library. If not, see <http://www.gnu.org/licenses/>.

package p2p

import (
	"io"
	"net"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/basaltchain/basalt/core/types"
)

// challengeHeight is the block height exchanged during the handshake.
// It is pinned to the genesis height for now, so challenge validation
// only ever accepts the genesis header.
const challengeHeight uint32 = 0

// Peer is one established session: it exclusively owns the framed
// connection from admission to termination and is the only goroutine
// touching it.
type Peer struct {
	srv *Server
	log *zap.Logger

	// addr is the peer's address with the port set to its advertised
	// listener port, not the TCP source port.
	addr *net.TCPAddr

	rw    *frameRW
	queue *peerQueue

	// lastSeen is the receipt time of the most recent parsed inbound
	// message. Only the session goroutine reads or writes it.
	lastSeen time.Time

	inbound bool
}

// newPeer runs the two-round challenge handshake on conn and, on
// success, registers the session. Any deviation is terminal for this
// connection attempt: the function returns an error and no registry
// entry exists.
//
// Both sides run the same script: send our challenge request, answer
// the counterparty's request with our genesis header, then validate the
// header they send back.
func newPeer(srv *Server, conn net.Conn, inbound bool) (*Peer, error) {
	local, err := srv.LocalAddr()
	if err != nil {
		return nil, err
	}
	remote, err := tcpAddr(conn.RemoteAddr())
	if err != nil {
		return nil, newPeerError(HandshakeIncomplete, "unusable remote address: %v", err)
	}
	rw := newFrameRW(conn)
	log := srv.log.With(zap.Stringer("addr", remote))

	// Round one: announce ourselves.
	request := &ChallengeRequest{ListenerPort: uint16(local.Port), BlockHeight: challengeHeight}
	log.Debug("sending challenge request")
	if err := writeMsg(rw, request); err != nil {
		return nil, newPeerError(HandshakeIncomplete, "sending challenge request: %v", err)
	}

	// Await the counterparty's request. Its declared listener port
	// becomes the permanent key for this peer.
	msg, err := readHandshakeMsg(rw)
	if err != nil {
		return nil, err
	}
	theirs, ok := msg.(*ChallengeRequest)
	if !ok {
		return nil, newPeerError(UnexpectedMessage, "expected a challenge request, got '%s'", msg.Name())
	}
	addr := &net.TCPAddr{IP: remote.IP, Port: int(theirs.ListenerPort)}
	log = srv.log.With(zap.Stringer("peer", addr))

	log.Debug("sending challenge response")
	if err := writeMsg(rw, &ChallengeResponse{Header: types.GenesisHeader()}); err != nil {
		return nil, newPeerError(HandshakeIncomplete, "sending challenge response: %v", err)
	}

	// Round two: validate the header the counterparty answered with.
	msg, err = readHandshakeMsg(rw)
	if err != nil {
		return nil, err
	}
	response, ok := msg.(*ChallengeResponse)
	if !ok {
		return nil, newPeerError(UnexpectedMessage, "expected a challenge response, got '%s'", msg.Name())
	}
	header := response.Header
	if header.Height != challengeHeight {
		return nil, newPeerError(ChallengeRejected, "height %d, want %d", header.Height, challengeHeight)
	}
	if header.Hash() != types.GenesisHash() {
		return nil, newPeerError(ChallengeRejected, "genesis mismatch, got %v", header.Hash())
	}
	if err := header.SanityCheck(); err != nil {
		return nil, newPeerError(ChallengeRejected, "invalid header: %v", err)
	}

	// Both sides run this script without a final acknowledgement, so
	// give the counterparty a moment to finish its own validation
	// before steady-state traffic hits it.
	srv.clock.Sleep(srv.cfg.HandshakeGrace)

	log.Debug("seeding ping")
	if err := writeMsg(rw, &Ping{BlockHeight: 0}); err != nil {
		return nil, newPeerError(HandshakeIncomplete, "seeding ping: %v", err)
	}

	q := &peerQueue{
		ch:   make(chan Msg, srv.cfg.MsgQueueSize),
		quit: make(chan struct{}),
	}
	if err := srv.addPeer(addr, q); err != nil {
		return nil, err
	}
	return &Peer{
		srv:      srv,
		log:      log,
		addr:     addr,
		rw:       rw,
		queue:    q,
		lastSeen: srv.clock.Now(),
		inbound:  inbound,
	}, nil
}

// readHandshakeMsg reads and decodes one message during the handshake,
// mapping stream problems to the handshake error kinds.
func readHandshakeMsg(rw *frameRW) (Msg, error) {
	frame, err := rw.ReadFrame()
	if err == io.EOF {
		return nil, newPeerError(HandshakeIncomplete, "peer has disconnected")
	}
	if err != nil {
		return nil, newPeerError(HandshakeIncomplete, "%v", err)
	}
	msg, err := DecodeMsg(frame)
	if err != nil {
		return nil, newPeerError(HandshakeIncomplete, "%v", err)
	}
	return msg, nil
}

// run is the steady-state loop. It multiplexes between relaying locally
// originated messages to the peer and reacting to peer traffic, until a
// protocol violation, a stream problem, inactivity, or node shutdown
// ends the session. Termination always removes the registry entry,
// exactly once.
func (p *Peer) run() {
	defer p.close()

	readMsgs := make(chan Msg)
	readErr := make(chan error, 1)
	go p.readLoop(readMsgs, readErr)

	// The inactivity timer cuts silent peers even when nothing is being
	// routed to them; the outbound path re-checks on its own because a
	// stale session must not swallow new traffic.
	inactive := p.srv.clock.Timer(p.srv.cfg.InactivityTimeout)
	defer inactive.Stop()

	// keepalive drives the self-sustaining ping train: armed on every
	// received Pong, it fires one interval later with a fresh Ping.
	keepalive := p.srv.clock.Timer(p.srv.cfg.KeepaliveInterval)
	keepalive.Stop()
	defer keepalive.Stop()

	for {
		select {
		case <-p.srv.quit:
			p.log.Debug("session ending, node shutting down")
			return

		case msg := <-p.queue.ch:
			if p.srv.clock.Since(p.lastSeen) > p.srv.cfg.InactivityTimeout {
				p.log.Warn("peer inactive, dropping session", zap.Stringer("reason", PingTimeout), zap.Time("lastSeen", p.lastSeen))
				return
			}
			if err := p.writeMsg(msg); err != nil {
				p.log.Error("failed to send message", zap.String("msg", msg.Name()), zap.Error(err))
				return
			}

		case <-inactive.C:
			p.log.Warn("peer inactive, dropping session", zap.Stringer("reason", PingTimeout), zap.Time("lastSeen", p.lastSeen))
			return

		case <-keepalive.C:
			if err := p.writeMsg(&Ping{BlockHeight: 0}); err != nil {
				p.log.Error("failed to send ping", zap.Error(err))
				return
			}

		case msg := <-readMsgs:
			p.lastSeen = p.srv.clock.Now()
			inactive.Reset(p.srv.cfg.InactivityTimeout)
			if !p.handle(msg, keepalive) {
				return
			}

		case err := <-readErr:
			if err == io.EOF {
				p.log.Info("peer has disconnected")
			} else {
				p.log.Error("failed to read from peer", zap.Error(err))
			}
			return
		}
	}
}

// handle dispatches one inbound message. It reports whether the session
// may continue.
func (p *Peer) handle(msg Msg, keepalive *clock.Timer) bool {
	switch msg.(type) {
	case *ChallengeRequest, *ChallengeResponse:
		// Challenge messages are only legal during the handshake.
		p.log.Warn("challenge message after handshake", zap.Stringer("reason", ProtocolBreach), zap.String("msg", msg.Name()))
		return false
	case *Ping:
		p.log.Debug("received ping")
		if err := p.writeMsg(&Pong{}); err != nil {
			p.log.Error("failed to send pong", zap.Error(err))
			return false
		}
	case *Pong:
		p.log.Debug("received pong")
		keepalive.Reset(p.srv.cfg.KeepaliveInterval)
	default:
		p.log.Debug("ignoring message", zap.String("msg", msg.Name()))
	}
	return true
}

// readLoop decodes inbound frames and feeds them to the session loop.
// It exits on the first stream or decode error, or when the session
// terminates.
func (p *Peer) readLoop(msgs chan<- Msg, errc chan<- error) {
	for {
		frame, err := p.rw.ReadFrame()
		if err != nil {
			errc <- err
			return
		}
		msg, err := DecodeMsg(frame)
		if err != nil {
			errc <- err
			return
		}
		ingressMsgMeter.Inc()
		select {
		case msgs <- msg:
		case <-p.queue.quit:
			return
		}
	}
}

// writeMsg serializes msg and sends it as a single frame.
func writeMsg(rw *frameRW, msg Msg) error {
	payload, err := EncodeMsg(msg)
	if err != nil {
		return err
	}
	if err := rw.WriteFrame(payload); err != nil {
		return err
	}
	egressMsgMeter.Inc()
	return nil
}

func (p *Peer) writeMsg(msg Msg) error {
	p.log.Debug("sending message", zap.String("msg", msg.Name()))
	return writeMsg(p.rw, msg)
}

// close tears the session down: registry entry out, queue quit signal
// closed, connection closed. Safe against double invocation through the
// registry's compare-and-delete.
func (p *Peer) close() {
	if p.srv.removePeer(p.addr, p.queue) {
		disconnectMeter.Inc()
		p.srv.log.Info("peer disconnected", zap.Stringer("peer", p.addr))
	}
	close(p.queue.quit)
	p.rw.Close()
}

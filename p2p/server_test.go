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
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// testServer creates an unstarted server with timings scaled down for
// tests. Overrides from cfg win.
func testServer(t *testing.T, cfg Config) *Server {
	t.Helper()
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = "127.0.0.1:0"
	}
	if cfg.HandshakeGrace == 0 {
		cfg.HandshakeGrace = 10 * time.Millisecond
	}
	if cfg.Logger == nil {
		cfg.Logger = zaptest.NewLogger(t)
	}
	srv, err := NewServer(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { srv.Stop() })
	return srv
}

func startTestServer(t *testing.T, cfg Config) *Server {
	t.Helper()
	srv := testServer(t, cfg)
	require.NoError(t, srv.Start())
	return srv
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestServerStartSetsLocalAddr(t *testing.T) {
	srv := testServer(t, Config{})

	_, err := srv.LocalAddr()
	require.ErrorIs(t, err, newPeerError(LocalAddrUnknown, ""))

	require.NoError(t, srv.Start())
	addr, err := srv.LocalAddr()
	require.NoError(t, err)
	assert.NotZero(t, addr.Port)
}

func TestServerDoubleStartPanics(t *testing.T) {
	srv := startTestServer(t, Config{})
	assert.Panics(t, func() { srv.Start() })
}

func TestTwoNodesConnect(t *testing.T) {
	a := startTestServer(t, Config{})
	b := startTestServer(t, Config{})

	aAddr, err := a.LocalAddr()
	require.NoError(t, err)
	bAddr, err := b.LocalAddr()
	require.NoError(t, err)

	require.NoError(t, b.Connect(aAddr.String()))

	waitFor(t, 3*time.Second, func() bool {
		return a.PeerCount() == 1 && b.PeerCount() == 1
	}, "nodes did not connect")

	// Each side keys the peer by its advertised listener port, not the
	// ephemeral source port of the underlying TCP connection.
	assert.True(t, a.IsConnected(fmt.Sprintf("127.0.0.1:%d", bAddr.Port)))
	assert.True(t, b.IsConnected(fmt.Sprintf("127.0.0.1:%d", aAddr.Port)))

	assert.Contains(t, a.Peers(), fmt.Sprintf("127.0.0.1:%d", bAddr.Port))
	assert.Contains(t, a.KnownPeers(), fmt.Sprintf("127.0.0.1:%d", bAddr.Port))
}

func TestSendToUnknownPeer(t *testing.T) {
	srv := startTestServer(t, Config{})
	err := srv.SendTo("127.0.0.1:9", &Ping{})
	require.Error(t, err)
	code, ok := errCode(err)
	require.True(t, ok)
	assert.Equal(t, PeerNotConnected, code)
}

func TestSendToBackpressure(t *testing.T) {
	srv := testServer(t, Config{MsgQueueSize: 1})
	addr := &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 4131}
	q := &peerQueue{ch: make(chan Msg, 1), quit: make(chan struct{})}
	require.NoError(t, srv.addPeer(addr, q))

	// First send fills the queue.
	require.NoError(t, srv.SendTo(addr.String(), &Ping{}))

	// Second send blocks until the session terminates, then reports the
	// peer as gone. Nothing already enqueued is dropped.
	done := make(chan error, 1)
	go func() { done <- srv.SendTo(addr.String(), &Ping{}) }()
	select {
	case err := <-done:
		t.Fatalf("send to saturated queue returned early: %v", err)
	case <-time.After(50 * time.Millisecond):
	}
	close(q.quit)
	select {
	case err := <-done:
		code, ok := errCode(err)
		require.True(t, ok)
		assert.Equal(t, PeerNotConnected, code)
	case <-time.After(time.Second):
		t.Fatal("send still blocked after session terminated")
	}
	assert.Len(t, q.ch, 1)
}

func TestBroadcast(t *testing.T) {
	srv := testServer(t, Config{})
	live := &peerQueue{ch: make(chan Msg, 8), quit: make(chan struct{})}
	gone := &peerQueue{ch: make(chan Msg), quit: make(chan struct{})}
	other := &peerQueue{ch: make(chan Msg, 8), quit: make(chan struct{})}
	require.NoError(t, srv.addPeer(&net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 4131}, live))
	require.NoError(t, srv.addPeer(&net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 4132}, gone))
	require.NoError(t, srv.addPeer(&net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 4133}, other))
	close(gone.quit) // terminating session with an unconsumed queue

	srv.Broadcast("127.0.0.1:4133", &Ping{BlockHeight: 7})

	// The dead peer does not stop delivery to the live one, and the
	// excluded peer receives nothing.
	require.Len(t, live.ch, 1)
	msg := <-live.ch
	assert.Equal(t, PingMsg, msg.Code())
	assert.Empty(t, gone.ch)
	assert.Empty(t, other.ch)
}

func TestAddPeerRejectsDuplicate(t *testing.T) {
	srv := testServer(t, Config{})
	addr := &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 4131}
	q1 := &peerQueue{ch: make(chan Msg, 1), quit: make(chan struct{})}
	q2 := &peerQueue{ch: make(chan Msg, 1), quit: make(chan struct{})}
	require.NoError(t, srv.addPeer(addr, q1))
	err := srv.addPeer(addr, q2)
	code, ok := errCode(err)
	require.True(t, ok)
	assert.Equal(t, AlreadyConnected, code)
	assert.Equal(t, 1, srv.PeerCount())
}

func TestAddPeerRejectsOwnAddress(t *testing.T) {
	srv := startTestServer(t, Config{})
	local, err := srv.LocalAddr()
	require.NoError(t, err)
	q := &peerQueue{ch: make(chan Msg, 1), quit: make(chan struct{})}
	err = srv.addPeer(local, q)
	code, ok := errCode(err)
	require.True(t, ok)
	assert.Equal(t, SelfConnectAttempt, code)
	assert.Zero(t, srv.PeerCount())
}

func TestRemovePeerIdempotent(t *testing.T) {
	srv := testServer(t, Config{})
	addr := &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 4131}
	q := &peerQueue{ch: make(chan Msg, 1), quit: make(chan struct{})}
	require.NoError(t, srv.addPeer(addr, q))

	assert.True(t, srv.removePeer(addr, q))
	assert.False(t, srv.removePeer(addr, q), "second removal must be a no-op")
	assert.Zero(t, srv.PeerCount())

	// Removal with a stale queue handle must not evict a fresh entry.
	fresh := &peerQueue{ch: make(chan Msg, 1), quit: make(chan struct{})}
	require.NoError(t, srv.addPeer(addr, fresh))
	assert.False(t, srv.removePeer(addr, q))
	assert.Equal(t, 1, srv.PeerCount())
}

func TestMaxPeers(t *testing.T) {
	a := startTestServer(t, Config{MaxPeers: 1})
	aAddr, err := a.LocalAddr()
	require.NoError(t, err)

	b := startTestServer(t, Config{})
	require.NoError(t, b.Connect(aAddr.String()))
	waitFor(t, 3*time.Second, func() bool { return a.PeerCount() == 1 }, "first peer did not connect")

	// The second connection is dropped by admission control without
	// disturbing the established session.
	c := startTestServer(t, Config{})
	require.NoError(t, c.Connect(aAddr.String()))
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, a.PeerCount())
	assert.Zero(t, c.PeerCount())
}

func TestServerStop(t *testing.T) {
	a := startTestServer(t, Config{})
	b := startTestServer(t, Config{})
	aAddr, err := a.LocalAddr()
	require.NoError(t, err)
	require.NoError(t, b.Connect(aAddr.String()))
	waitFor(t, 3*time.Second, func() bool { return a.PeerCount() == 1 && b.PeerCount() == 1 }, "nodes did not connect")

	require.NoError(t, a.Stop())
	assert.Zero(t, a.PeerCount())
	waitFor(t, 3*time.Second, func() bool { return b.PeerCount() == 0 }, "remote session survived shutdown")
}

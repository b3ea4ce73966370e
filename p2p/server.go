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
	"errors"
	"net"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// Config holds the options of the connection layer. The zero value is
// not usable; pass the struct to NewServer, which fills in defaults for
// unset fields.
type Config struct {
	// ListenAddr is the TCP address the listener binds to. A port of 0
	// binds any available port.
	ListenAddr string

	// MaxPeers caps the number of connections the node maintains,
	// counting sessions still in their handshake.
	MaxPeers int

	// DialTimeout bounds outbound connection attempts.
	DialTimeout time.Duration

	// HandshakeGrace is the pause after a validated challenge response,
	// letting both ends reach symmetric completion before steady-state
	// traffic starts.
	HandshakeGrace time.Duration

	// HandshakeTimeout bounds the whole handshake, including the grace
	// pause. A connection that has not completed its handshake within
	// this window is closed and its admission slot released. Must
	// exceed HandshakeGrace.
	HandshakeTimeout time.Duration

	// KeepaliveInterval is the delay between a received Pong and the
	// next Ping. It is deliberately independent of InactivityTimeout;
	// keep it well below that value or idle sessions will be cut.
	KeepaliveInterval time.Duration

	// InactivityTimeout is how long a session tolerates a peer that
	// sends nothing before treating it as dead.
	InactivityTimeout time.Duration

	// AdmissionDelay is the pause after each accepted connection,
	// bounding the admission rate under connection bursts.
	AdmissionDelay time.Duration

	// MsgQueueSize is the capacity of each peer's outbound channel.
	// Enqueuing to a full channel blocks the sender.
	MsgQueueSize int

	// KnownPeersSize bounds the cache of peer addresses that ever
	// completed a handshake.
	KnownPeersSize int

	// Logger is the structured logger of the connection layer. Defaults
	// to a no-op logger.
	Logger *zap.Logger

	// Clock is the time source, overridable in tests.
	Clock clock.Clock
}

func (cfg Config) withDefaults() Config {
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = "127.0.0.1:4130"
	}
	if cfg.MaxPeers == 0 {
		cfg.MaxPeers = 16
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 5 * time.Second
	}
	if cfg.HandshakeGrace == 0 {
		cfg.HandshakeGrace = time.Second
	}
	if cfg.HandshakeTimeout == 0 {
		cfg.HandshakeTimeout = 5 * time.Second
	}
	if cfg.KeepaliveInterval == 0 {
		cfg.KeepaliveInterval = 20 * time.Second
	}
	if cfg.InactivityTimeout == 0 {
		cfg.InactivityTimeout = 280 * time.Second
	}
	if cfg.AdmissionDelay == 0 {
		cfg.AdmissionDelay = time.Millisecond
	}
	if cfg.MsgQueueSize == 0 {
		cfg.MsgQueueSize = 1024
	}
	if cfg.KnownPeersSize == 0 {
		cfg.KnownPeersSize = 1024
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	return cfg
}

// peerQueue is the registry's handle on one session: the outbound
// channel and the session's termination signal. Enqueuers select on quit
// so that a terminating session never strands or panics a sender.
type peerQueue struct {
	ch   chan Msg
	quit chan struct{}
}

// Server is the connection layer of a basalt node. It owns the TCP
// listener, dials outbound peers, gates every stream through admission
// control and the challenge handshake, and keeps the registry of
// established sessions.
//
// The registry lock guards only the peers map and the local address; it
// is never held across network I/O or a channel send.
type Server struct {
	cfg   Config
	log   *zap.Logger
	clock clock.Clock

	lock      sync.RWMutex
	peers     map[string]*peerQueue
	localAddr *net.TCPAddr

	// slots bounds concurrent sessions, counting handshakes in flight.
	slots *semaphore.Weighted

	// known remembers addresses that completed a handshake, for the
	// node's dial policy to consult. In-memory only.
	known *lru.Cache[string, time.Time]

	listener net.Listener
	quit     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewServer creates an unstarted connection-layer server.
func NewServer(cfg Config) (*Server, error) {
	cfg = cfg.withDefaults()
	known, err := lru.New[string, time.Time](cfg.KnownPeersSize)
	if err != nil {
		return nil, err
	}
	return &Server{
		cfg:   cfg,
		log:   cfg.Logger,
		clock: cfg.Clock,
		peers: make(map[string]*peerQueue),
		slots: semaphore.NewWeighted(int64(cfg.MaxPeers)),
		known: known,
		quit:  make(chan struct{}),
	}, nil
}

// Start binds the listener and begins accepting connections. The bound
// address becomes the server's local address. Starting a server twice is
// a programming error and panics.
func (srv *Server) Start() error {
	srv.lock.Lock()
	if srv.localAddr != nil {
		srv.lock.Unlock()
		panic("p2p: server started more than once")
	}
	listener, err := net.Listen("tcp", srv.cfg.ListenAddr)
	if err != nil {
		srv.lock.Unlock()
		return err
	}
	srv.listener = listener
	srv.localAddr = listener.Addr().(*net.TCPAddr)
	srv.lock.Unlock()

	srv.log.Info("listening for peers", zap.Stringer("addr", listener.Addr()))
	srv.wg.Add(1)
	go srv.listenLoop()
	return nil
}

// Stop closes the listener and terminates every session, then waits for
// them to wind down.
func (srv *Server) Stop() error {
	var err error
	srv.stopOnce.Do(func() {
		srv.log.Info("server stopping")
		close(srv.quit)
		srv.lock.RLock()
		listener := srv.listener
		srv.lock.RUnlock()
		if listener != nil {
			err = multierr.Append(err, listener.Close())
		}
		srv.wg.Wait()
		srv.log.Info("server stopped")
	})
	return err
}

// LocalAddr returns the listener address of this node. It fails until
// Start has bound the listener.
func (srv *Server) LocalAddr() (*net.TCPAddr, error) {
	srv.lock.RLock()
	defer srv.lock.RUnlock()
	if srv.localAddr == nil {
		return nil, newPeerError(LocalAddrUnknown, "")
	}
	return srv.localAddr, nil
}

// IsConnected reports whether an established session exists for addr.
func (srv *Server) IsConnected(addr string) bool {
	srv.lock.RLock()
	defer srv.lock.RUnlock()
	_, ok := srv.peers[addr]
	return ok
}

// PeerCount returns the number of established sessions.
func (srv *Server) PeerCount() int {
	srv.lock.RLock()
	defer srv.lock.RUnlock()
	return len(srv.peers)
}

// Peers returns the addresses of all established sessions.
func (srv *Server) Peers() []string {
	srv.lock.RLock()
	defer srv.lock.RUnlock()
	addrs := make([]string, 0, len(srv.peers))
	for addr := range srv.peers {
		addrs = append(addrs, addr)
	}
	return addrs
}

// KnownPeers returns the addresses that completed a handshake at some
// point, most recent first. The node's dial policy may use these as
// reconnection candidates.
func (srv *Server) KnownPeers() []string {
	keys := srv.known.Keys()
	// lru keys come oldest first.
	for i, j := 0, len(keys)-1; i < j; i, j = i+1, j-1 {
		keys[i], keys[j] = keys[j], keys[i]
	}
	return keys
}

// SendTo enqueues msg on the session for addr. It fails immediately if
// no session exists; if the peer's queue is full it blocks until there
// is room or the session terminates.
func (srv *Server) SendTo(addr string, msg Msg) error {
	srv.lock.RLock()
	q := srv.peers[addr]
	srv.lock.RUnlock()
	if q == nil {
		return newPeerError(PeerNotConnected, "%s", addr)
	}
	select {
	case q.ch <- msg:
		return nil
	case <-q.quit:
		return newPeerError(PeerNotConnected, "%s terminated", addr)
	}
}

// Broadcast enqueues msg on every session except the one for exclude.
// Each delivery is attempted independently; a failing peer is logged and
// does not stop delivery to the others.
func (srv *Server) Broadcast(exclude string, msg Msg) {
	type target struct {
		addr string
		q    *peerQueue
	}
	srv.lock.RLock()
	targets := make([]target, 0, len(srv.peers))
	for addr, q := range srv.peers {
		if addr != exclude {
			targets = append(targets, target{addr, q})
		}
	}
	srv.lock.RUnlock()

	for _, t := range targets {
		select {
		case t.q.ch <- msg:
			srv.log.Debug("broadcast enqueued", zap.String("msg", msg.Name()), zap.String("peer", t.addr))
		case <-t.q.quit:
			srv.log.Debug("broadcast skipped terminating peer", zap.String("msg", msg.Name()), zap.String("peer", t.addr))
		}
	}
}

// listenLoop accepts inbound connections for the lifetime of the node.
// Accept errors are logged and do not stop the loop.
func (srv *Server) listenLoop() {
	defer srv.wg.Done()
	for {
		conn, err := srv.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			srv.log.Error("failed to accept a connection", zap.Error(err))
			continue
		}
		ingressConnectMeter.Inc()
		srv.setupConn(conn, true)
		// Pause between accepts to avoid admitting above the peer
		// limit under connection bursts.
		srv.clock.Sleep(srv.cfg.AdmissionDelay)
	}
}

// setupConn is admission control: it drops the connection if the node
// is at its peer limit or already connected to the remote address, and
// otherwise hands it to a session goroutine. It never blocks on the
// handshake and surfaces no error to the caller.
func (srv *Server) setupConn(conn net.Conn, inbound bool) {
	remote := conn.RemoteAddr()
	if !srv.slots.TryAcquire(1) {
		srv.log.Debug("dropping connection, maximum peers reached", zap.Stringer("addr", remote))
		admissionDropMeter.Inc()
		conn.Close()
		return
	}
	// The remote socket address of an inbound connection carries an
	// ephemeral port, so this check only catches redials from the same
	// listener socket. The handshake re-checks under the advertised
	// listener port.
	if srv.IsConnected(remote.String()) {
		srv.log.Debug("dropping connection, peer already connected", zap.Stringer("addr", remote))
		admissionDropMeter.Inc()
		srv.slots.Release(1)
		conn.Close()
		return
	}

	srv.wg.Add(1)
	go func() {
		defer srv.wg.Done()
		defer srv.slots.Release(1)
		if err := srv.runPeer(conn, inbound); err != nil {
			srv.log.Debug("connection ended with error", zap.Stringer("addr", remote), zap.Error(err))
		}
	}()
}

// runPeer performs the handshake and, if it succeeds, runs the session
// until termination. The registry entry lives exactly as long as the
// session loop.
func (srv *Server) runPeer(conn net.Conn, inbound bool) error {
	// A counterparty that stalls mid-handshake must not hold its
	// admission slot past the handshake window, and shutdown must not
	// wait on it either. Steady-state liveness is the inactivity
	// timer's job, so the deadline is cleared once the peer is in.
	conn.SetDeadline(time.Now().Add(srv.cfg.HandshakeTimeout))
	peer, err := newPeer(srv, conn, inbound)
	if err != nil {
		handshakeFailureMeter.Inc()
		conn.Close()
		return err
	}
	conn.SetDeadline(time.Time{})
	srv.log.Info("peer connected", zap.Stringer("peer", peer.addr), zap.Bool("inbound", inbound))
	peer.run()
	return nil
}

// addPeer inserts the session queue for addr. It refuses duplicates and
// an entry for the node's own listener address.
func (srv *Server) addPeer(addr *net.TCPAddr, q *peerQueue) error {
	key := addr.String()
	srv.lock.Lock()
	defer srv.lock.Unlock()
	if srv.localAddr != nil && key == srv.localAddr.String() {
		return newPeerError(SelfConnectAttempt, "peer advertised our own address %s", key)
	}
	if _, ok := srv.peers[key]; ok {
		return newPeerError(AlreadyConnected, "%s", key)
	}
	srv.peers[key] = q
	srv.known.Add(key, srv.clock.Now())
	activePeerGauge.Inc()
	return nil
}

// removePeer deletes the registry entry for addr, provided it still
// belongs to q. It is idempotent and safe to call for absent entries.
func (srv *Server) removePeer(addr *net.TCPAddr, q *peerQueue) bool {
	key := addr.String()
	srv.lock.Lock()
	defer srv.lock.Unlock()
	if cur, ok := srv.peers[key]; ok && cur == q {
		delete(srv.peers, key)
		activePeerGauge.Dec()
		return true
	}
	return false
}

// tcpAddr extracts the TCP endpoint of a connection address.
func tcpAddr(addr net.Addr) (*net.TCPAddr, error) {
	if tcp, ok := addr.(*net.TCPAddr); ok {
		return tcp, nil
	}
	return net.ResolveTCPAddr("tcp", addr.String())
}

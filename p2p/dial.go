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
	"net"

	"go.uber.org/zap"
)

// Connect dials the given TCP address and submits the stream to
// admission control. It requires the listener to be bound already and
// refuses to dial the node itself. Dial failures are returned to the
// caller, which owns the retry policy; nothing past admission is
// reported here.
func (srv *Server) Connect(addr string) error {
	local, err := srv.LocalAddr()
	if err != nil {
		return err
	}
	remote, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		return newPeerError(DialFailed, "resolving %q: %v", addr, err)
	}
	if isSelf(remote, local) {
		return newPeerError(SelfConnectAttempt, "%s", addr)
	}

	srv.log.Debug("dialing", zap.Stringer("addr", remote))
	dialer := net.Dialer{Timeout: srv.cfg.DialTimeout}
	conn, err := dialer.Dial("tcp", remote.String())
	if err != nil {
		if nerr, ok := err.(net.Error); ok && nerr.Timeout() {
			return newPeerError(DialTimeout, "%s after %v", addr, srv.cfg.DialTimeout)
		}
		return newPeerError(DialFailed, "%s: %v", addr, err)
	}
	egressConnectMeter.Inc()
	srv.setupConn(conn, false)
	return nil
}

// isSelf reports whether remote addresses this node: either the local
// endpoint itself, or an unspecified/loopback IP sharing the local port.
func isSelf(remote, local *net.TCPAddr) bool {
	if remote.Port != local.Port {
		return false
	}
	if remote.IP == nil || remote.IP.IsUnspecified() || remote.IP.IsLoopback() {
		return true
	}
	return remote.IP.Equal(local.IP)
}

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

// Contains the meters used by the networking layer.

package p2p

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ingressConnectMeter = promauto.NewCounter(prometheus.CounterOpts{
		Name: "basalt_p2p_ingress_connects_total",
		Help: "Number of inbound TCP connections accepted.",
	})
	egressConnectMeter = promauto.NewCounter(prometheus.CounterOpts{
		Name: "basalt_p2p_egress_connects_total",
		Help: "Number of outbound TCP connections dialed.",
	})
	admissionDropMeter = promauto.NewCounter(prometheus.CounterOpts{
		Name: "basalt_p2p_admission_drops_total",
		Help: "Number of connections dropped by admission control.",
	})
	handshakeFailureMeter = promauto.NewCounter(prometheus.CounterOpts{
		Name: "basalt_p2p_handshake_failures_total",
		Help: "Number of connection attempts that failed the challenge handshake.",
	})
	disconnectMeter = promauto.NewCounter(prometheus.CounterOpts{
		Name: "basalt_p2p_disconnects_total",
		Help: "Number of established sessions that terminated.",
	})
	ingressMsgMeter = promauto.NewCounter(prometheus.CounterOpts{
		Name: "basalt_p2p_ingress_messages_total",
		Help: "Number of messages received from peers.",
	})
	egressMsgMeter = promauto.NewCounter(prometheus.CounterOpts{
		Name: "basalt_p2p_egress_messages_total",
		Help: "Number of messages written to peers.",
	})
	activePeerGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "basalt_p2p_peers",
		Help: "Number of currently connected peers.",
	})
)

// Package config holds the tunable parameters for peer connections and the
// MQTT signaling session.
package config

import "time"

// Role identifies which side of the signaling namespace a participant uses.
// A Portal always signals as Caller; a Proxy always signals as Callee.
type Role string

const (
	RoleCaller Role = "caller"
	RoleCallee Role = "callee"
)

// IceServer mirrors a single STUN/TURN server entry passed to pion's
// PeerConnection configuration. STUN servers carry no credentials; TURN
// servers require Username and Credential.
type IceServer struct {
	URLs       []string
	Username   string
	Credential string
}

// Stun builds an IceServer for a STUN-only URL.
func Stun(url string) IceServer {
	return IceServer{URLs: []string{url}}
}

// Turn builds an IceServer for a credentialed TURN URL.
func Turn(url, username, credential string) IceServer {
	return IceServer{URLs: []string{url}, Username: username, Credential: credential}
}

// PeerConfig holds ICE servers and the timeouts that govern session
// negotiation. DatachannelTimeout and IceGatheringTimeout are accepted but
// not yet enforced by any component — they exist for future tightening, as
// the upstream design notes.
type PeerConfig struct {
	IceServers          []IceServer
	OnlineTimeout       time.Duration
	ConnectTimeout      time.Duration
	DatachannelTimeout  time.Duration
	IceGatheringTimeout time.Duration
}

// DefaultPeerConfig returns the conservative defaults used when a caller
// does not override anything: Google's public STUN server and 5s timeouts.
func DefaultPeerConfig() PeerConfig {
	return PeerConfig{
		IceServers:          []IceServer{Stun("stun:stun.l.google.com:19302")},
		OnlineTimeout:       5 * time.Second,
		ConnectTimeout:      5 * time.Second,
		DatachannelTimeout:  5 * time.Second,
		IceGatheringTimeout: 5 * time.Second,
	}
}

// MQTTConfig holds broker connection parameters for the Signaling Client.
type MQTTConfig struct {
	BrokerURL    string // e.g. "tcp://localhost:1883" or "wss://broker.example.com/mqtt"
	Username     string
	Password     string
	KeepAlive    time.Duration
	CleanSession bool
}

// DefaultMQTTConfig returns the defaults used by the reference broker setup.
func DefaultMQTTConfig() MQTTConfig {
	return MQTTConfig{
		BrokerURL:    "tcp://localhost:1883",
		KeepAlive:    60 * time.Second,
		CleanSession: true,
	}
}

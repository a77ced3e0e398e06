// Package peer implements the two WebRTC session roles: Portal (caller,
// listens on a local address and dials out over a DataChannel per
// connection) and Proxy (callee, accepts DataChannels and dials a local
// address per connection). Both share a PeerConnection constructor and a
// common Event type fed back to the owning manager.
package peer

import (
	"sync"

	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"

	"github.com/1ureka/tunnelmesh/internal/config"
	"github.com/1ureka/tunnelmesh/internal/util"
)

var (
	rtcAPI     *webrtc.API
	rtcAPIOnce sync.Once
)

// sharedAPI returns the process-wide API every Portal and Proxy builds its
// PeerConnections from: one MediaEngine with the default codecs registered
// and one InterceptorRegistry with the default interceptors, built once
// and shared rather than reconstructed per session.
func sharedAPI() *webrtc.API {
	rtcAPIOnce.Do(func() {
		m := &webrtc.MediaEngine{}
		if err := m.RegisterDefaultCodecs(); err != nil {
			util.LogError("register default codecs: %v", err)
		}

		i := &interceptor.Registry{}
		if err := webrtc.RegisterDefaultInterceptors(m, i); err != nil {
			util.LogError("register default interceptors: %v", err)
		}

		rtcAPI = webrtc.NewAPI(webrtc.WithMediaEngine(m), webrtc.WithInterceptorRegistry(i))
	})
	return rtcAPI
}

// newPeerConnection builds a PeerConnection off the shared API, configured
// with cfg's ICE servers. Both Portal and Proxy use this.
func newPeerConnection(cfg config.PeerConfig) (*webrtc.PeerConnection, error) {
	servers := make([]webrtc.ICEServer, 0, len(cfg.IceServers))
	for _, s := range cfg.IceServers {
		servers = append(servers, webrtc.ICEServer{
			URLs:       s.URLs,
			Username:   s.Username,
			Credential: s.Credential,
		})
	}
	return sharedAPI().NewPeerConnection(webrtc.Configuration{ICEServers: servers})
}

// EventKind discriminates the variants of Event.
type EventKind int

const (
	EventCandidate EventKind = iota
	EventOffer
	EventAnswer
	EventConnected
	EventClosed
)

// Event is emitted by both Portal and Proxy through the Emitter supplied at
// construction time. A single owning manager multiplexes both roles'
// sessions over one select loop, so Portal and Proxy share this type
// rather than each defining their own enum.
type Event struct {
	Kind     EventKind
	RemoteID string
	FromID   string // local id this event originated from, for SignalType Candidate/Offer/Answer
	Payload  string // SDP or ICE candidate string
}

// Emitter delivers an Event to the owning manager. pion invokes PeerConnection
// and DataChannel callbacks from its own internal goroutines, which must
// never block; implementations are expected to enqueue onto an unbounded
// buffer rather than send directly on a fixed-capacity channel.
type Emitter func(Event)

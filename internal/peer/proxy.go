package peer

import (
	"fmt"
	"net"
	"strings"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/tunnelmesh/internal/bridge"
	"github.com/1ureka/tunnelmesh/internal/config"
	"github.com/1ureka/tunnelmesh/internal/signaling"
	"github.com/1ureka/tunnelmesh/internal/util"
)

// Proxy is the callee-side half of a tunnel: it accepts an Offer, answers
// it, and for every DataChannel the caller subsequently opens, dials the
// configured local address and bridges the two. One Proxy exists per
// remote id that has offered a session.
type Proxy struct {
	LocalID  string
	RemoteID string
	AddrURI  string
	Config   config.PeerConfig

	pc *webrtc.PeerConnection
}

// NewProxy accepts offer, creates the PeerConnection, answers it, and wires
// the DataChannel callback that dials AddrURI for every channel the caller
// opens (the pre-negotiated "DEFAULT" control channel is ignored).
func NewProxy(localID, remoteID, addrURI string, cfg config.PeerConfig, offer signaling.Envelope, emit Emitter) (*Proxy, error) {
	pc, err := newPeerConnection(cfg)
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}

	p := &Proxy{
		LocalID:  localID,
		RemoteID: remoteID,
		AddrURI:  addrURI,
		Config:   cfg,
		pc:       pc,
	}

	p.setupICECandidateCallback(emit)
	p.setupConnectionStateCallback(emit)
	p.setupDataChannelCallback()

	if err := pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  offer.Payload,
	}); err != nil {
		pc.Close()
		return nil, fmt.Errorf("set remote description: %w", err)
	}

	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		pc.Close()
		return nil, fmt.Errorf("create answer: %w", err)
	}
	if err := pc.SetLocalDescription(answer); err != nil {
		pc.Close()
		return nil, fmt.Errorf("set local description: %w", err)
	}

	emit(Event{
		Kind:     EventAnswer,
		RemoteID: remoteID,
		FromID:   localID,
		Payload:  answer.SDP,
	})

	util.LogDebug("proxy created for %s, dialing %s per channel", remoteID, addrURI)

	return p, nil
}

// HandleSignalMessage applies an inbound Candidate. Any other SignalType is
// logged and ignored — a Proxy never expects an Offer or Answer after
// construction.
func (p *Proxy) HandleSignalMessage(env signaling.Envelope) error {
	switch env.SignalType {
	case signaling.SignalCandidate:
		if err := p.pc.AddICECandidate(webrtc.ICECandidateInit{Candidate: env.Payload}); err != nil {
			return fmt.Errorf("add ice candidate: %w", err)
		}
	default:
		util.LogWarning("proxy %s: unexpected signal type %s", p.RemoteID, env.SignalType)
	}
	return nil
}

// IsConnected reports whether the underlying PeerConnection is currently
// in the Connected state.
func (p *Proxy) IsConnected() bool {
	return p.pc.ConnectionState() == webrtc.PeerConnectionStateConnected
}

// IsActive reports whether the Proxy is still a candidate for carrying
// traffic. Unlike Portal, a Proxy is considered inactive while merely
// Disconnected — ICE may still recover, but a Proxy that isn't actively
// serving a listener has nothing lost by being evicted early and recreated
// from a fresh offer if the caller reconnects.
func (p *Proxy) IsActive() bool {
	switch p.pc.ConnectionState() {
	case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed, webrtc.PeerConnectionStateDisconnected:
		return false
	default:
		return true
	}
}

// Close tears down the PeerConnection. Safe to call multiple times.
func (p *Proxy) Close() {
	_ = p.pc.Close()
	util.LogDebug("proxy closed for %s", p.RemoteID)
}

func (p *Proxy) setupICECandidateCallback(emit Emitter) {
	localID, remoteID := p.LocalID, p.RemoteID
	p.pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		emit(Event{
			Kind:     EventCandidate,
			RemoteID: remoteID,
			FromID:   localID,
			Payload:  c.ToJSON().Candidate,
		})
	})
}

func (p *Proxy) setupConnectionStateCallback(emit Emitter) {
	remoteID := p.RemoteID
	p.pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		util.LogDebug("proxy %s: peer connection state %s", remoteID, state)
		switch state {
		case webrtc.PeerConnectionStateConnected:
			emit(Event{Kind: EventConnected, RemoteID: remoteID})
		case webrtc.PeerConnectionStateDisconnected, webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
			emit(Event{Kind: EventClosed, RemoteID: remoteID})
		}
	})
}

func (p *Proxy) setupDataChannelCallback() {
	addrURI := p.AddrURI
	p.pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		if dc.Label() == "DEFAULT" {
			return
		}
		util.LogDebug("proxy %s: new data channel %s", p.RemoteID, dc.Label())
		go connectAndBridge(dc, addrURI)
	})
}

// connectAndBridge dials addrURI and bridges the resulting connection with
// dc. Run in its own goroutine since OnDataChannel fires synchronously from
// pion's SCTP read loop and dialing must not block it.
func connectAndBridge(dc *webrtc.DataChannel, addrURI string) {
	var (
		conn net.Conn
		err  error
	)
	if strings.HasPrefix(addrURI, "unix://") {
		conn, err = net.Dial("unix", strings.TrimPrefix(addrURI, "unix://"))
	} else {
		conn, err = net.Dial("tcp", addrURI)
	}
	if err != nil {
		util.LogError("dial %s: %v", addrURI, err)
		_ = dc.Close()
		return
	}
	bridge.New(dc, conn)
}

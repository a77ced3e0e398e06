package peer

import (
	"context"
	"fmt"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/tunnelmesh/internal/bridge"
	"github.com/1ureka/tunnelmesh/internal/config"
	"github.com/1ureka/tunnelmesh/internal/signaling"
	"github.com/1ureka/tunnelmesh/internal/util"
)

// Portal is the caller-side half of a tunnel: it listens on a local address
// and, for every accepted connection, opens a fresh DataChannel to the
// remote Proxy and bridges the two. One Portal exists per remote id the
// caller wants to reach.
type Portal struct {
	LocalID  string
	RemoteID string
	AddrURI  string
	Config   config.PeerConfig

	pc *webrtc.PeerConnection

	connectedOnce sync.Once
	connectedCh   chan struct{}

	listener net.Listener

	closeOnce sync.Once
}

// NewPortal creates the PeerConnection, synthesizes the initial offer,
// starts the local listener, and begins emitting Events on events. The
// offer itself is delivered as an Event rather than returned, since the
// caller needs ICE candidates delivered the same way and both must reach
// the signaling plane through the same ordered channel.
func NewPortal(ctx context.Context, localID, remoteID, addrURI string, cfg config.PeerConfig, emit Emitter) (*Portal, error) {
	pc, err := newPeerConnection(cfg)
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}

	p := &Portal{
		LocalID:     localID,
		RemoteID:    remoteID,
		AddrURI:     addrURI,
		Config:      cfg,
		pc:          pc,
		connectedCh: make(chan struct{}),
	}

	p.setupICECandidateCallback(emit)
	p.setupConnectionStateCallback(emit)

	// A pre-negotiated, never-used control channel. Its only purpose is to
	// force ICE/DTLS negotiation to start immediately instead of waiting
	// for the first data channel to be created by the accept loop.
	ctrl, err := pc.CreateDataChannel("DEFAULT", nil)
	if err != nil {
		pc.Close()
		return nil, fmt.Errorf("create control data channel: %w", err)
	}
	ctrl.OnOpen(func() {})

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		pc.Close()
		return nil, fmt.Errorf("create offer: %w", err)
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		pc.Close()
		return nil, fmt.Errorf("set local description: %w", err)
	}

	emit(Event{
		Kind:     EventOffer,
		RemoteID: remoteID,
		FromID:   localID,
		Payload:  offer.SDP,
	})

	listener, err := listen(addrURI)
	if err != nil {
		pc.Close()
		return nil, fmt.Errorf("listen on %s: %w", addrURI, err)
	}
	p.listener = listener

	go p.acceptLoop()
	go func() {
		<-ctx.Done()
		p.Close()
	}()

	util.LogDebug("portal created for %s, listening on %s", remoteID, addrURI)

	return p, nil
}

// WaitConnected blocks until the PeerConnection reaches Connected or
// Config.ConnectTimeout elapses, whichever comes first.
func (p *Portal) WaitConnected(ctx context.Context) error {
	select {
	case <-p.connectedCh:
		return nil
	case <-time.After(p.Config.ConnectTimeout):
		return fmt.Errorf("timeout waiting for connection to %s (%s)", p.RemoteID, p.Config.ConnectTimeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// HandleSignalMessage applies an inbound Answer or Candidate. Any other
// SignalType is logged and ignored — a Portal never expects an Offer.
func (p *Portal) HandleSignalMessage(env signaling.Envelope) error {
	switch env.SignalType {
	case signaling.SignalAnswer:
		if err := p.pc.SetRemoteDescription(webrtc.SessionDescription{
			Type: webrtc.SDPTypeAnswer,
			SDP:  env.Payload,
		}); err != nil {
			return fmt.Errorf("set remote description: %w", err)
		}
	case signaling.SignalCandidate:
		if err := p.pc.AddICECandidate(webrtc.ICECandidateInit{Candidate: env.Payload}); err != nil {
			return fmt.Errorf("add ice candidate: %w", err)
		}
	default:
		util.LogWarning("portal %s: unexpected signal type %s", p.RemoteID, env.SignalType)
	}
	return nil
}

// IsConnected reports whether the underlying PeerConnection is currently
// in the Connected state.
func (p *Portal) IsConnected() bool {
	return p.pc.ConnectionState() == webrtc.PeerConnectionStateConnected
}

// Close stops accepting new connections and tears down the PeerConnection.
// Safe to call multiple times.
func (p *Portal) Close() {
	p.closeOnce.Do(func() {
		if p.listener != nil {
			_ = p.listener.Close()
		}
		if strings.HasPrefix(p.AddrURI, "unix://") {
			_ = os.Remove(strings.TrimPrefix(p.AddrURI, "unix://"))
		}
		_ = p.pc.Close()
		util.LogDebug("portal closed for %s", p.RemoteID)
	})
}

func (p *Portal) acceptLoop() {
	for {
		conn, err := p.listener.Accept()
		if err != nil {
			util.LogDebug("portal %s: listener stopped: %v", p.RemoteID, err)
			return
		}

		state := p.pc.ConnectionState()
		if state == webrtc.PeerConnectionStateClosed || state == webrtc.PeerConnectionStateFailed {
			util.LogWarning("portal %s: peer connection %s, stopping accept loop", p.RemoteID, state)
			_ = conn.Close()
			return
		}

		label := fmt.Sprintf("%s-%d", p.LocalID, time.Now().UnixMilli())
		dc, err := p.pc.CreateDataChannel(label, nil)
		if err != nil {
			util.LogError("portal %s: create data channel: %v", p.RemoteID, err)
			_ = conn.Close()
			continue
		}

		bridge.New(dc, conn)
	}
}

func (p *Portal) setupICECandidateCallback(emit Emitter) {
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

func (p *Portal) setupConnectionStateCallback(emit Emitter) {
	remoteID := p.RemoteID
	p.pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		util.LogDebug("portal %s: peer connection state %s", remoteID, state)
		switch state {
		case webrtc.PeerConnectionStateConnected:
			p.connectedOnce.Do(func() { close(p.connectedCh) })
			emit(Event{Kind: EventConnected, RemoteID: remoteID})
		case webrtc.PeerConnectionStateDisconnected, webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
			emit(Event{Kind: EventClosed, RemoteID: remoteID})
		}
	})
}

// listen opens a TCP or, given a "unix://" prefixed addrURI, a Unix domain
// socket listener. Any stale socket file at the target path is removed
// first since a crashed previous run would otherwise leave bind failing.
func listen(addrURI string) (net.Listener, error) {
	if strings.HasPrefix(addrURI, "unix://") {
		path := strings.TrimPrefix(addrURI, "unix://")
		_ = os.Remove(path)
		return net.Listen("unix", path)
	}
	return net.Listen("tcp", addrURI)
}

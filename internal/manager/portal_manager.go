// Package manager owns the per-role single-consumer event loop that turns
// signaling events and peer events into portal/proxy lifecycle decisions.
package manager

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/1ureka/tunnelmesh/internal/config"
	"github.com/1ureka/tunnelmesh/internal/peer"
	"github.com/1ureka/tunnelmesh/internal/signaling"
	"github.com/1ureka/tunnelmesh/internal/util"
)

// PortalManager owns every Portal a caller process has opened, keyed by the
// remote callee's id, and drives them from one signaling connection.
type PortalManager struct {
	LocalID string
	Config  config.PeerConfig

	signal *signaling.Client
	queue  *peerEventQueue

	mu      sync.RWMutex
	portals map[string]*peer.Portal

	notifyMu  sync.Mutex
	notifiers map[string]chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewPortalManager connects to the signaling broker under the caller role
// and starts the manager's event loop. The returned manager is ready for
// CreatePortal immediately; the loop runs until the signaling connection is
// lost or ctx is cancelled.
func NewPortalManager(ctx context.Context, localID string, mqttCfg config.MQTTConfig, peerCfg config.PeerConfig) (*PortalManager, error) {
	mCtx, cancel := context.WithCancel(ctx)

	client, signalEvents, err := signaling.New(mCtx, localID, config.RoleCaller, mqttCfg)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("connect signaling: %w", err)
	}

	m := &PortalManager{
		LocalID:   localID,
		Config:    peerCfg,
		signal:    client,
		queue:     newPeerEventQueue(),
		portals:   make(map[string]*peer.Portal),
		notifiers: make(map[string]chan struct{}),
		ctx:       mCtx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}

	go m.eventLoop(mCtx, signalEvents)

	return m, nil
}

// CreatePortal returns the existing Portal for remoteID if one is already
// open, otherwise waits for remoteID to announce itself online, creates a
// new Portal listening on addrURI, and waits for the WebRTC connection to
// complete before returning.
func (m *PortalManager) CreatePortal(ctx context.Context, remoteID, addrURI string) (*peer.Portal, error) {
	m.mu.RLock()
	if p, ok := m.portals[remoteID]; ok {
		m.mu.RUnlock()
		util.LogDebug("portal to %s already exists, reusing", remoteID)
		return p, nil
	}
	m.mu.RUnlock()

	if err := m.waitRemoteOnline(ctx, remoteID); err != nil {
		return nil, err
	}

	p, err := peer.NewPortal(m.ctx, m.LocalID, remoteID, addrURI, m.Config, m.queue.emitter())
	if err != nil {
		return nil, fmt.Errorf("create portal: %w", err)
	}

	m.mu.Lock()
	m.portals[remoteID] = p
	count := len(m.portals)
	m.mu.Unlock()
	util.LogInfo("portal added: %s, total: %d", remoteID, count)

	if err := p.WaitConnected(ctx); err != nil {
		m.mu.Lock()
		delete(m.portals, remoteID)
		count := len(m.portals)
		m.mu.Unlock()
		p.Close()
		util.LogInfo("portal removed (connect failed): %s, total: %d", remoteID, count)
		return nil, err
	}

	return p, nil
}

// RemovePortal closes and forgets the Portal for remoteID, if any, and
// unsubscribes from its status topic.
func (m *PortalManager) RemovePortal(remoteID string) {
	m.mu.Lock()
	p, ok := m.portals[remoteID]
	if ok {
		delete(m.portals, remoteID)
	}
	count := len(m.portals)
	m.mu.Unlock()

	if ok {
		p.Close()
		util.LogInfo("portal removed: %s, total: %d", remoteID, count)
	}

	if err := m.signal.UnsubscribeRemoteStatus(remoteID, config.RoleCallee); err != nil {
		util.LogWarning("unsubscribe remote status for %s: %v", remoteID, err)
	}

	m.notifyMu.Lock()
	delete(m.notifiers, remoteID)
	m.notifyMu.Unlock()
}

// Close shuts down the signaling connection and every open Portal. Portals
// close concurrently since each one tears down a PeerConnection and its
// listener independently; a slow DTLS teardown on one remote shouldn't
// delay the others.
func (m *PortalManager) Close() {
	m.cancel()
	<-m.done
	m.signal.Close()

	m.mu.Lock()
	portals := make([]*peer.Portal, 0, len(m.portals))
	for id, p := range m.portals {
		portals = append(portals, p)
		delete(m.portals, id)
	}
	m.mu.Unlock()

	var g errgroup.Group
	for _, p := range portals {
		g.Go(func() error {
			p.Close()
			return nil
		})
	}
	_ = g.Wait()
}

func (m *PortalManager) waitRemoteOnline(ctx context.Context, remoteID string) error {
	notify := make(chan struct{}, 1)

	m.notifyMu.Lock()
	m.notifiers[remoteID] = notify
	count := len(m.notifiers)
	m.notifyMu.Unlock()
	util.LogDebug("online notifier added: %s, total: %d", remoteID, count)

	if err := m.signal.SubscribeRemoteStatus(remoteID, config.RoleCallee); err != nil {
		m.notifyMu.Lock()
		delete(m.notifiers, remoteID)
		m.notifyMu.Unlock()
		return fmt.Errorf("subscribe remote status: %w", err)
	}

	select {
	case <-notify:
		util.LogDebug("remote %s is now online", remoteID)
		return nil
	case <-time.After(m.Config.OnlineTimeout):
		m.notifyMu.Lock()
		delete(m.notifiers, remoteID)
		m.notifyMu.Unlock()
		return fmt.Errorf("timeout waiting for %s to come online (%s)", remoteID, m.Config.OnlineTimeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *PortalManager) eventLoop(ctx context.Context, signalEvents <-chan signaling.Event) {
	defer close(m.done)
	for {
		select {
		case e, ok := <-signalEvents:
			if !ok {
				return
			}
			if m.handleSignalEvent(e) {
				return
			}
		case <-m.queue.ready():
			for _, e := range m.queue.drain() {
				m.handlePortalEvent(e)
			}
		case <-ctx.Done():
			return
		}
	}
}

func (m *PortalManager) handleSignalEvent(e signaling.Event) (exit bool) {
	switch e.Kind {
	case signaling.EventRemoteOnline:
		util.LogDebug("remote %s is online", e.RemoteID)
		m.notifyMu.Lock()
		if notify, ok := m.notifiers[e.RemoteID]; ok {
			select {
			case notify <- struct{}{}:
			default:
			}
		}
		m.notifyMu.Unlock()

	case signaling.EventRemoteOffline:
		m.mu.Lock()
		p, ok := m.portals[e.RemoteID]
		if ok {
			delete(m.portals, e.RemoteID)
		}
		count := len(m.portals)
		m.mu.Unlock()
		if ok {
			p.Close()
			util.LogInfo("portal removed (offline): %s, total: %d", e.RemoteID, count)
		}

	case signaling.EventSignalMessage:
		m.mu.RLock()
		p, ok := m.portals[e.Envelope.FromID]
		m.mu.RUnlock()
		if !ok {
			util.LogWarning("no portal found for %s", e.Envelope.FromID)
			return false
		}
		if err := p.HandleSignalMessage(e.Envelope); err != nil {
			util.LogError("handle signal message from %s: %v", e.Envelope.FromID, err)
		}

	case signaling.EventConnected:
		util.LogDebug("signal connected")

	case signaling.EventDisconnected:
		util.LogWarning("signal disconnected, portal manager exiting")
		return true
	}
	return false
}

func (m *PortalManager) handlePortalEvent(e peer.Event) {
	switch e.Kind {
	case peer.EventOffer, peer.EventCandidate:
		signalType := signaling.SignalOffer
		if e.Kind == peer.EventCandidate {
			signalType = signaling.SignalCandidate
		}
		env := signaling.Envelope{FromID: e.FromID, Payload: e.Payload, SignalType: signalType}
		if err := m.signal.PublishSignalMessage(e.RemoteID, env, config.RoleCallee); err != nil {
			util.LogError("send %s to %s: %v", signalType, e.RemoteID, err)
		}

	case peer.EventConnected:
		util.LogDebug("%s connected", e.RemoteID)

	case peer.EventClosed:
		m.mu.Lock()
		p, ok := m.portals[e.RemoteID]
		if ok {
			delete(m.portals, e.RemoteID)
		}
		count := len(m.portals)
		m.mu.Unlock()
		if ok {
			p.Close()
			util.LogInfo("portal %s closed, removed, total: %d", e.RemoteID, count)
		}
	}
}

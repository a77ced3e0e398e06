package manager

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/1ureka/tunnelmesh/internal/config"
	"github.com/1ureka/tunnelmesh/internal/peer"
	"github.com/1ureka/tunnelmesh/internal/signaling"
	"github.com/1ureka/tunnelmesh/internal/util"
)

// ProxyManager owns every Proxy a callee process has accepted, keyed by
// the offering caller's id, and drives them from one signaling connection.
// Unlike PortalManager, proxies are created reactively from inbound offers
// rather than by explicit caller action.
type ProxyManager struct {
	LocalID    string
	Config     config.PeerConfig
	TargetAddr string

	signal *signaling.Client
	queue  *peerEventQueue

	mu      sync.RWMutex
	proxies map[string]*peer.Proxy

	cancel context.CancelFunc
	done   chan struct{}
}

// NewProxyManager connects to the signaling broker under the callee role
// and starts the manager's event loop. targetAddr is the local address
// dialed for every DataChannel a caller opens across any Proxy.
func NewProxyManager(ctx context.Context, localID, targetAddr string, mqttCfg config.MQTTConfig, peerCfg config.PeerConfig) (*ProxyManager, error) {
	mCtx, cancel := context.WithCancel(ctx)

	client, signalEvents, err := signaling.New(mCtx, localID, config.RoleCallee, mqttCfg)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("connect signaling: %w", err)
	}

	m := &ProxyManager{
		LocalID:    localID,
		Config:     peerCfg,
		TargetAddr: targetAddr,
		signal:     client,
		queue:      newPeerEventQueue(),
		proxies:    make(map[string]*peer.Proxy),
		cancel:     cancel,
		done:       make(chan struct{}),
	}

	go m.eventLoop(mCtx, signalEvents)

	return m, nil
}

// ConnectionCount returns the number of proxies currently tracked.
func (m *ProxyManager) ConnectionCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.proxies)
}

// Close shuts down the signaling connection and every open Proxy,
// concurrently for the same reason PortalManager does.
func (m *ProxyManager) Close() {
	m.cancel()
	<-m.done
	m.signal.Close()

	m.mu.Lock()
	proxies := make([]*peer.Proxy, 0, len(m.proxies))
	for id, p := range m.proxies {
		proxies = append(proxies, p)
		delete(m.proxies, id)
	}
	m.mu.Unlock()

	var g errgroup.Group
	for _, p := range proxies {
		g.Go(func() error {
			p.Close()
			return nil
		})
	}
	_ = g.Wait()
}

func (m *ProxyManager) eventLoop(ctx context.Context, signalEvents <-chan signaling.Event) {
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
				m.handleProxyEvent(e)
			}
		case <-ctx.Done():
			return
		}
	}
}

func (m *ProxyManager) handleSignalEvent(e signaling.Event) (exit bool) {
	switch e.Kind {
	case signaling.EventSignalMessage:
		if err := m.handleSignalMessage(e.Envelope); err != nil {
			util.LogError("handle signal message: %v", err)
		}
	case signaling.EventConnected:
		util.LogDebug("signal connected")
	case signaling.EventDisconnected:
		util.LogWarning("signal disconnected, proxy manager exiting")
		return true
	}
	return false
}

func (m *ProxyManager) handleSignalMessage(env signaling.Envelope) error {
	switch env.SignalType {
	case signaling.SignalOffer:
		remoteID := env.FromID
		util.LogDebug("received offer from %s", remoteID)

		p, err := peer.NewProxy(m.LocalID, remoteID, m.TargetAddr, m.Config, env, m.queue.emitter())
		if err != nil {
			return fmt.Errorf("create proxy for %s: %w", remoteID, err)
		}

		m.mu.Lock()
		// A second offer from the same remote replaces the prior proxy
		// outright rather than being rejected; explicitly closing the
		// displaced entry avoids leaking its PeerConnection, something a
		// bare map overwrite would not do for us here.
		if old, ok := m.proxies[remoteID]; ok {
			old.Close()
		}
		m.proxies[remoteID] = p
		count := len(m.proxies)
		m.mu.Unlock()
		util.LogInfo("proxy created: %s -> %s (target: %s), total: %d", m.LocalID, remoteID, m.TargetAddr, count)

	case signaling.SignalCandidate:
		m.mu.RLock()
		p, ok := m.proxies[env.FromID]
		m.mu.RUnlock()
		if !ok {
			util.LogWarning("no proxy found for %s, ignoring candidate", env.FromID)
			return nil
		}
		return p.HandleSignalMessage(env)
	}
	return nil
}

func (m *ProxyManager) handleProxyEvent(e peer.Event) {
	switch e.Kind {
	case peer.EventAnswer, peer.EventCandidate:
		signalType := signaling.SignalAnswer
		if e.Kind == peer.EventCandidate {
			signalType = signaling.SignalCandidate
		}
		env := signaling.Envelope{FromID: e.FromID, Payload: e.Payload, SignalType: signalType}
		if err := m.signal.PublishSignalMessage(e.RemoteID, env, config.RoleCaller); err != nil {
			util.LogError("send %s to %s: %v", signalType, e.RemoteID, err)
		}

	case peer.EventConnected:
		util.LogDebug("%s connected", e.RemoteID)

	case peer.EventClosed:
		m.tryRemoveProxy(e.RemoteID)
	}
}

// tryRemoveProxy evicts remoteID only if its proxy is no longer active.
// A Closed event can still arrive for a proxy that was already replaced by
// a newer offer (handleSignalMessage's overwrite above); in that case the
// map no longer holds the proxy that sent this event, so IsActive is
// checked against whatever is currently registered, matching the eviction
// policy in ProxyManager's grounding source exactly.
func (m *ProxyManager) tryRemoveProxy(remoteID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.proxies[remoteID]
	if !ok {
		return
	}
	if p.IsActive() {
		util.LogDebug("%s close event ignored, still active", remoteID)
		return
	}
	delete(m.proxies, remoteID)
	util.LogInfo("%s disconnected, count: %d", remoteID, len(m.proxies))
}

package peer

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/1ureka/tunnelmesh/internal/config"
)

func TestNewPeerConnectionAppliesICEServers(t *testing.T) {
	cfg := config.PeerConfig{
		IceServers: []config.IceServer{
			config.Stun("stun:stun.l.google.com:19302"),
			config.Turn("turn:example.com:3478", "user", "pass"),
		},
	}
	pc, err := newPeerConnection(cfg)
	if err != nil {
		t.Fatalf("newPeerConnection: %v", err)
	}
	defer pc.Close()

	got := pc.GetConfiguration().ICEServers
	if len(got) != 2 {
		t.Fatalf("expected 2 ICE servers, got %d", len(got))
	}
	if got[1].Username != "user" || got[1].Credential != "pass" {
		t.Errorf("turn server credentials not applied: %+v", got[1])
	}
}

func TestListenTCP(t *testing.T) {
	l, err := listen("127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer l.Close()
	if l.Addr().Network() != "tcp" {
		t.Errorf("expected tcp listener, got %s", l.Addr().Network())
	}
}

func TestListenUnixRemovesStaleSocket(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tunnelmesh-test.sock")
	if err := os.WriteFile(path, []byte("stale"), 0o600); err != nil {
		t.Fatalf("seed stale file: %v", err)
	}

	l, err := listen("unix://" + path)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer l.Close()
	if l.Addr().Network() != "unix" {
		t.Errorf("expected unix listener, got %s", l.Addr().Network())
	}
}

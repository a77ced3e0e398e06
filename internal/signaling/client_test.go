package signaling

import (
	"testing"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/1ureka/tunnelmesh/internal/config"
)

// fakeMessage implements mqtt.Message for exercising handlePublish without
// a live broker connection.
type fakeMessage struct {
	topic   string
	payload []byte
}

func (m *fakeMessage) Duplicate() bool   { return false }
func (m *fakeMessage) Qos() byte         { return 2 }
func (m *fakeMessage) Retained() bool    { return false }
func (m *fakeMessage) Topic() string     { return m.topic }
func (m *fakeMessage) MessageID() uint16 { return 0 }
func (m *fakeMessage) Payload() []byte   { return m.payload }
func (m *fakeMessage) Ack()              {}

var _ mqtt.Message = (*fakeMessage)(nil)

func newTestClient() *Client {
	return &Client{
		localID: "local",
		role:    config.RoleCaller,
		queue:   newEventQueue(),
	}
}

func TestHandlePublishStatusOnline(t *testing.T) {
	c := newTestClient()
	c.handlePublish(nil, &fakeMessage{topic: "callee/remote-1/status", payload: []byte("online")})

	got := c.queue.drain()
	if len(got) != 1 || got[0].Kind != EventRemoteOnline || got[0].RemoteID != "remote-1" {
		t.Fatalf("got %+v", got)
	}
}

func TestHandlePublishStatusOffline(t *testing.T) {
	c := newTestClient()
	c.handlePublish(nil, &fakeMessage{topic: "callee/remote-1/status", payload: []byte("offline")})

	got := c.queue.drain()
	if len(got) != 1 || got[0].Kind != EventRemoteOffline || got[0].RemoteID != "remote-1" {
		t.Fatalf("got %+v", got)
	}
}

func TestHandlePublishStatusGarbage(t *testing.T) {
	c := newTestClient()
	c.handlePublish(nil, &fakeMessage{topic: "callee/remote-1/status", payload: []byte("sideways")})

	if got := c.queue.drain(); got != nil {
		t.Fatalf("expected no event for unrecognized payload, got %+v", got)
	}
}

func TestHandlePublishSignalMessage(t *testing.T) {
	c := newTestClient()
	body := `{"from_id":"remote-1","payload":"v=0...","signal_type":"Offer"}`
	c.handlePublish(nil, &fakeMessage{topic: "caller/remote-1/signal", payload: []byte(body)})

	got := c.queue.drain()
	if len(got) != 1 || got[0].Kind != EventSignalMessage {
		t.Fatalf("got %+v", got)
	}
	env := got[0].Envelope
	if env.FromID != "remote-1" || env.SignalType != SignalOffer || env.Payload != "v=0..." {
		t.Errorf("unexpected envelope: %+v", env)
	}
}

func TestHandlePublishSignalMalformed(t *testing.T) {
	c := newTestClient()
	c.handlePublish(nil, &fakeMessage{topic: "caller/remote-1/signal", payload: []byte("not json")})

	if got := c.queue.drain(); got != nil {
		t.Fatalf("expected no event for malformed envelope, got %+v", got)
	}
}

func TestHandlePublishUnrecognizedTopic(t *testing.T) {
	c := newTestClient()
	c.handlePublish(nil, &fakeMessage{topic: "scratch/whatever", payload: []byte("x")})

	if got := c.queue.drain(); got != nil {
		t.Fatalf("expected no event for unrecognized topic, got %+v", got)
	}
}

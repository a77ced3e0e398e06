package signaling

import (
	"context"
	"encoding/json"
	"fmt"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/1ureka/tunnelmesh/internal/config"
	"github.com/1ureka/tunnelmesh/internal/topics"
	"github.com/1ureka/tunnelmesh/internal/util"
)

// Client is an MQTT session carrying the signaling plane for one local
// identity under one role. Construction wires a retained liveness beacon,
// a last-will "offline" message, and a dedicated event relay; callers drive
// the session entirely through the returned event channel and the
// Subscribe/Unsubscribe/Publish methods below.
type Client struct {
	localID string
	role    config.Role

	mqttClient mqtt.Client
	queue      *eventQueue
	events     chan Event
	done       chan struct{}
}

// New connects to the broker described by cfg and returns a ready Client
// plus its event channel. The channel is never closed: the relay feeding it
// stops when the caller calls Close or ctx is cancelled, and a fatal broker
// error is delivered on it as an EventDisconnected.
func New(ctx context.Context, localID string, role config.Role, cfg config.MQTTConfig) (*Client, <-chan Event, error) {
	c := &Client{
		localID: localID,
		role:    role,
		queue:   newEventQueue(),
		events:  make(chan Event, 64),
		done:    make(chan struct{}),
	}

	statusTopic := topics.GetStatusTopic(localID, role)
	signalTopic := topics.GetSignalTopic(localID, role)
	clientID := fmt.Sprintf("%s_%s", localID, role)

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.BrokerURL).
		SetClientID(clientID).
		SetKeepAlive(cfg.KeepAlive).
		SetCleanSession(cfg.CleanSession).
		SetAutoReconnect(false).
		SetWill(statusTopic, string(statusOffline), 2, true)

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	opts.SetOnConnectHandler(func(mc mqtt.Client) {
		token := mc.Publish(statusTopic, 2, true, string(statusOnline))
		if token.Wait(); token.Error() != nil {
			util.LogError("publish online status for %s: %v", localID, token.Error())
		}
		token = mc.Subscribe(signalTopic, 2, c.handlePublish)
		if token.Wait(); token.Error() != nil {
			util.LogError("subscribe signal topic for %s: %v", localID, token.Error())
		}
		c.queue.push(Event{Kind: EventConnected})
	})

	opts.SetConnectionLostHandler(func(mc mqtt.Client, err error) {
		util.LogWarning("signaling connection lost for %s: %v", localID, err)
		c.queue.push(Event{Kind: EventDisconnected})
	})

	c.mqttClient = mqtt.NewClient(opts)

	token := c.mqttClient.Connect()
	if !token.WaitTimeout(cfg.KeepAlive) {
		return nil, nil, fmt.Errorf("connect to broker %s: timed out", cfg.BrokerURL)
	}
	if err := token.Error(); err != nil {
		return nil, nil, fmt.Errorf("connect to broker %s: %w", cfg.BrokerURL, err)
	}

	go c.relay(ctx)

	return c, c.events, nil
}

// relay pumps queued events onto the public channel. It runs until Close
// or ctx is cancelled; unlike the queue's push (called from paho's internal
// goroutines and therefore never allowed to block), this loop may block on
// a slow consumer without affecting message delivery.
func (c *Client) relay(ctx context.Context) {
	for {
		select {
		case <-c.queue.ready():
			for _, e := range c.queue.drain() {
				select {
				case c.events <- e:
				case <-ctx.Done():
					return
				case <-c.done:
					return
				}
			}
		case <-ctx.Done():
			return
		case <-c.done:
			return
		}
	}
}

func (c *Client) handlePublish(_ mqtt.Client, msg mqtt.Message) {
	topic := msg.Topic()

	if remoteID, ok := topics.SplitStatusTopic(topic); ok {
		switch peerStatus(msg.Payload()) {
		case statusOnline:
			c.queue.push(Event{Kind: EventRemoteOnline, RemoteID: remoteID})
		case statusOffline:
			c.queue.push(Event{Kind: EventRemoteOffline, RemoteID: remoteID})
		default:
			util.LogWarning("unrecognized status payload on %s: %q", topic, msg.Payload())
		}
		return
	}

	if _, ok := topics.SplitSignalTopic(topic); ok {
		var env Envelope
		if err := json.Unmarshal(msg.Payload(), &env); err != nil {
			util.LogWarning("malformed signal envelope on %s: %v", topic, err)
			return
		}
		c.queue.push(Event{Kind: EventSignalMessage, Envelope: env})
		return
	}

	util.LogWarning("message on unrecognized topic: %s", topic)
}

// SubscribeRemoteStatus subscribes to a remote's status topic under
// remoteRole. The broker delivers the latest retained value immediately,
// which is how a first-time subscriber learns "online" without a timing
// race against the remote's own connect.
func (c *Client) SubscribeRemoteStatus(remoteID string, remoteRole config.Role) error {
	topic := topics.GetStatusTopic(remoteID, remoteRole)
	token := c.mqttClient.Subscribe(topic, 2, c.handlePublish)
	token.Wait()
	return token.Error()
}

// UnsubscribeRemoteStatus undoes SubscribeRemoteStatus.
func (c *Client) UnsubscribeRemoteStatus(remoteID string, remoteRole config.Role) error {
	topic := topics.GetStatusTopic(remoteID, remoteRole)
	token := c.mqttClient.Unsubscribe(topic)
	token.Wait()
	return token.Error()
}

// PublishSignalMessage JSON-encodes env and publishes it to remoteID's
// signal topic under remoteRole, at QoS 2 with retain disabled — retained
// signaling messages would deliver a stale offer to a future session.
func (c *Client) PublishSignalMessage(remoteID string, env Envelope, remoteRole config.Role) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode signal envelope: %w", err)
	}
	topic := topics.GetSignalTopic(remoteID, remoteRole)
	token := c.mqttClient.Publish(topic, 2, false, data)
	token.Wait()
	return token.Error()
}

// Close disconnects from the broker (triggering the last-will on the peer
// side is avoided — this is a graceful disconnect, not a crash) and stops
// the event relay. Safe to call once.
func (c *Client) Close() {
	close(c.done)
	c.queue.closeQueue()
	c.mqttClient.Disconnect(250)
}

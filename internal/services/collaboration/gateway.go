package collaboration

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"coderoom/internal/logging"

	"github.com/sirupsen/logrus"
)

/*
BROADCAST GATEWAY

Channels are plain strings ("room:<id>", "editor:<id>"). A connection
subscribes to a channel when it joins the room or editor and unsubscribes on
leave. Delivery is a non-blocking enqueue into the connection's send buffer;
a connection whose buffer is full is closed, and its read loop then runs the
normal disconnect path.

With a Relay configured, channel emits go through the relay and come back to
every instance (this one included) via Dispatch, so all instances deliver in
the order the relay publishes.
*/

// Subscriber is one connection as seen by the gateway
type Subscriber interface {
	ID() string
	// Deliver enqueues msg without blocking; false means the buffer is full
	Deliver(msg []byte) bool
	Close()
}

// Envelope is one channel emit as it crosses the relay
type Envelope struct {
	Channel string          `json:"channel"`
	Except  string          `json:"except,omitempty"`
	Payload json.RawMessage `json:"payload"`
}

// Relay carries channel emits between server instances
type Relay interface {
	Publish(ctx context.Context, env Envelope) error
}

// Gateway fans events out to channel subscribers
type Gateway struct {
	mu       sync.RWMutex
	channels map[string]map[string]Subscriber // channel -> conn id -> subscriber
	conns    map[string]Subscriber

	relay Relay
	log   *logrus.Entry
}

// NewGateway creates a gateway delivering in-process only
func NewGateway() *Gateway {
	return &Gateway{
		channels: make(map[string]map[string]Subscriber),
		conns:    make(map[string]Subscriber),
		log:      logging.Component("gateway"),
	}
}

// SetRelay routes channel emits through relay
func (g *Gateway) SetRelay(relay Relay) {
	g.relay = relay
}

// Attach makes a connection addressable by ToConn
func (g *Gateway) Attach(sub Subscriber) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.conns[sub.ID()] = sub
}

// Detach removes a connection and all its subscriptions
func (g *Gateway) Detach(connID string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	delete(g.conns, connID)
	for name, subs := range g.channels {
		delete(subs, connID)
		if len(subs) == 0 {
			delete(g.channels, name)
		}
	}
}

// Subscribe adds an attached connection to a channel
func (g *Gateway) Subscribe(channel, connID string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	sub, ok := g.conns[connID]
	if !ok {
		return
	}
	if g.channels[channel] == nil {
		g.channels[channel] = make(map[string]Subscriber)
	}
	g.channels[channel][connID] = sub
}

// Unsubscribe removes a connection from a channel
func (g *Gateway) Unsubscribe(channel, connID string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if subs, ok := g.channels[channel]; ok {
		delete(subs, connID)
		if len(subs) == 0 {
			delete(g.channels, channel)
		}
	}
}

// Subscribers counts local subscribers of a channel
func (g *Gateway) Subscribers(channel string) int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.channels[channel])
}

// ToAll emits to every subscriber of channel, sender included
func (g *Gateway) ToAll(ctx context.Context, channel, event string, data interface{}) {
	g.emit(ctx, channel, "", event, data)
}

// ToOthers emits to every subscriber of channel except the given connection
func (g *Gateway) ToOthers(ctx context.Context, channel, event string, data interface{}, exceptConn string) {
	g.emit(ctx, channel, exceptConn, event, data)
}

// ToConn sends directly to one local connection
func (g *Gateway) ToConn(connID, event string, data interface{}) {
	msg, err := encodeFrame(event, data)
	if err != nil {
		g.log.WithError(err).WithField("event", event).Error("failed to encode event")
		return
	}

	g.mu.RLock()
	sub, ok := g.conns[connID]
	g.mu.RUnlock()
	if !ok {
		return
	}
	g.deliver(sub, msg)
}

func (g *Gateway) emit(ctx context.Context, channel, except, event string, data interface{}) {
	msg, err := encodeFrame(event, data)
	if err != nil {
		g.log.WithError(err).WithField("event", event).Error("failed to encode event")
		return
	}

	if g.relay != nil {
		err := g.relay.Publish(ctx, Envelope{Channel: channel, Except: except, Payload: msg})
		if err == nil {
			return
		}
		// relay down: this instance's subscribers still get the event
		g.log.WithError(err).WithField("channel", channel).Warn("relay publish failed, delivering locally")
	}

	g.Dispatch(Envelope{Channel: channel, Except: except, Payload: msg})
}

// Dispatch delivers an envelope to local subscribers
func (g *Gateway) Dispatch(env Envelope) {
	g.mu.RLock()
	subs := make([]Subscriber, 0, len(g.channels[env.Channel]))
	for id, sub := range g.channels[env.Channel] {
		if id != env.Except {
			subs = append(subs, sub)
		}
	}
	g.mu.RUnlock()

	for _, sub := range subs {
		g.deliver(sub, env.Payload)
	}
}

func (g *Gateway) deliver(sub Subscriber, msg []byte) {
	if sub.Deliver(msg) {
		return
	}
	g.log.WithField("conn_id", sub.ID()).Warn("send buffer full, closing connection")
	sub.Close()
}

func encodeFrame(event string, data interface{}) ([]byte, error) {
	msg, err := json.Marshal(outFrame{Event: event, Data: data})
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", event, err)
	}
	return msg, nil
}

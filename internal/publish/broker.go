// Package publish fans delivered bridge records out to other processes through a
// message broker.
package publish

import (
	"context"
	"strings"
	"sync"

	"github.com/nats-io/nats.go"
)

// Message is one published payload.
type Message struct {
	Topic   string
	Payload []byte
}

// Broker moves payloads between topics and subscribers.
type Broker interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	// Subscribe delivers messages for topics until ctx is done, then closes the channel.
	Subscribe(ctx context.Context, topics []string) (<-chan Message, error)
	Close() error
}

// MemBroker is an in-process broker. Delivery is at-most-once: a slow subscriber
// misses messages instead of blocking the publisher.
type MemBroker struct {
	mu   sync.RWMutex
	subs map[string][]chan Message
}

// NewMemBroker creates an empty in-process broker.
func NewMemBroker() *MemBroker {
	return &MemBroker{subs: make(map[string][]chan Message)}
}

func (b *MemBroker) Publish(ctx context.Context, topic string, payload []byte) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	msg := Message{Topic: topic, Payload: payload}
	for _, ch := range b.subs[topic] {
		select {
		case ch <- msg:
		default:
		}
	}
	return nil
}

func (b *MemBroker) Subscribe(ctx context.Context, topics []string) (<-chan Message, error) {
	ch := make(chan Message, 4096)
	b.mu.Lock()
	for _, t := range topics {
		b.subs[t] = append(b.subs[t], ch)
	}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		for _, t := range topics {
			b.subs[t] = removeChan(b.subs[t], ch)
			if len(b.subs[t]) == 0 {
				delete(b.subs, t)
			}
		}
		b.mu.Unlock()
		close(ch)
	}()

	return ch, nil
}

func (b *MemBroker) Close() error { return nil }

func removeChan(list []chan Message, ch chan Message) []chan Message {
	out := list[:0]
	for _, c := range list {
		if c != ch {
			out = append(out, c)
		}
	}
	return out
}

// NatsBroker publishes over a NATS connection. Topics use ':' separators and are
// mapped to '.'-separated subjects.
type NatsBroker struct {
	nc *nats.Conn
}

// NewNatsBroker connects to the NATS server at url.
func NewNatsBroker(url string, opts ...nats.Option) (*NatsBroker, error) {
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, err
	}
	return &NatsBroker{nc: nc}, nil
}

func (b *NatsBroker) Publish(ctx context.Context, topic string, payload []byte) error {
	return b.nc.Publish(topicToSubject(topic), payload)
}

// Subscribe delivers messages for topics until ctx is done. Delivery is at-most-once
// like MemBroker.
func (b *NatsBroker) Subscribe(ctx context.Context, topics []string) (<-chan Message, error) {
	out := newSink(8192)
	subs := make([]*nats.Subscription, 0, len(topics))

	for _, t := range topics {
		sub, err := b.nc.Subscribe(topicToSubject(t), func(m *nats.Msg) {
			out.offer(Message{Topic: subjectToTopic(m.Subject), Payload: m.Data})
		})
		if err != nil {
			for _, s := range subs {
				_ = s.Unsubscribe()
			}
			return nil, err
		}
		subs = append(subs, sub)
	}

	go func() {
		<-ctx.Done()
		for _, s := range subs {
			_ = s.Unsubscribe()
		}
		out.close()
	}()

	return out.ch, nil
}

func (b *NatsBroker) Close() error {
	if b.nc != nil {
		_ = b.nc.Drain()
		b.nc.Close()
	}
	return nil
}

// sink is a buffered channel whose sends and close are serialized, so a callback
// still running after Unsubscribe never sends on a closed channel.
type sink struct {
	mu     sync.Mutex
	closed bool
	ch     chan Message
}

func newSink(size int) *sink {
	return &sink{ch: make(chan Message, size)}
}

// offer sends msg unless the sink is closed or full.
func (s *sink) offer(msg Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.ch <- msg:
		return true
	default:
		return false
	}
}

func (s *sink) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

func topicToSubject(topic string) string { return strings.ReplaceAll(topic, ":", ".") }
func subjectToTopic(subj string) string  { return strings.ReplaceAll(subj, ".", ":") }

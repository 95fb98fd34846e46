package message

import (
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// MemoryJetStream is an in-process JSContext. Messages are routed to the
// stream whose subjects match, and each durable consumer reads its stream
// once in publish order. Delivered messages carry no reply subject, so
// acknowledgments are no-ops. It backs tests and single-process local runs.
type MemoryJetStream struct {
	mu        sync.Mutex
	streams   map[string]*memStream
	published []*nats.Msg
}

type memStream struct {
	info      *nats.StreamInfo
	msgs      []*nats.Msg
	consumers map[string]*memConsumer
}

type memConsumer struct {
	info   *nats.ConsumerInfo
	cursor int
}

// NewMemoryJetStream returns an empty in-memory JetStream.
func NewMemoryJetStream() *MemoryJetStream {
	return &MemoryJetStream{streams: make(map[string]*memStream)}
}

// Publish appends data to the stream capturing subj.
func (m *MemoryJetStream) Publish(subj string, data []byte, _ ...nats.PubOpt) (*nats.PubAck, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for name, s := range m.streams {
		for _, pattern := range s.info.Config.Subjects {
			if !subjectMatches(pattern, subj) {
				continue
			}
			msg := &nats.Msg{Subject: subj, Data: append([]byte(nil), data...)}
			s.msgs = append(s.msgs, msg)
			s.info.State.Msgs++
			m.published = append(m.published, msg)
			return &nats.PubAck{Stream: name, Sequence: uint64(len(s.msgs))}, nil
		}
	}
	return nil, nats.ErrNoStreamResponse
}

// PullSubscribe binds to an existing durable consumer. Only the nats.Bind
// form is supported.
func (m *MemoryJetStream) PullSubscribe(_, durable string, _ ...nats.SubOpt) (JSSubscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.streams {
		if c, ok := s.consumers[durable]; ok {
			return &memSubscription{owner: m, stream: s, consumer: c}, nil
		}
	}
	return nil, nats.ErrConsumerNotFound
}

// StreamInfo returns the stream or nats.ErrStreamNotFound.
func (m *MemoryJetStream) StreamInfo(stream string) (*nats.StreamInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.streams[stream]
	if !ok {
		return nil, nats.ErrStreamNotFound
	}
	info := *s.info
	return &info, nil
}

// AddStream creates a stream.
func (m *MemoryJetStream) AddStream(cfg *nats.StreamConfig) (*nats.StreamInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.streams[cfg.Name]; ok {
		return nil, nats.ErrStreamNameAlreadyInUse
	}
	s := &memStream{
		info:      &nats.StreamInfo{Config: *cfg, Created: time.Now()},
		consumers: make(map[string]*memConsumer),
	}
	m.streams[cfg.Name] = s
	info := *s.info
	return &info, nil
}

// ConsumerInfo returns the consumer or nats.ErrConsumerNotFound.
func (m *MemoryJetStream) ConsumerInfo(stream, consumer string) (*nats.ConsumerInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.streams[stream]
	if !ok {
		return nil, nats.ErrStreamNotFound
	}
	c, ok := s.consumers[consumer]
	if !ok {
		return nil, nats.ErrConsumerNotFound
	}
	info := *c.info
	info.NumPending = uint64(len(s.msgs) - c.cursor)
	return &info, nil
}

// AddConsumer creates a durable consumer reading the stream from the start.
func (m *MemoryJetStream) AddConsumer(stream string, cfg *nats.ConsumerConfig) (*nats.ConsumerInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.streams[stream]
	if !ok {
		return nil, nats.ErrStreamNotFound
	}
	c := &memConsumer{info: &nats.ConsumerInfo{Stream: stream, Name: cfg.Durable, Config: *cfg, Created: time.Now()}}
	s.consumers[cfg.Durable] = c
	s.info.State.Consumers = len(s.consumers)
	info := *c.info
	return &info, nil
}

// Published returns copies of every message published on subj.
func (m *MemoryJetStream) Published(subj string) []*nats.Msg {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*nats.Msg
	for _, msg := range m.published {
		if msg.Subject == subj {
			out = append(out, &nats.Msg{Subject: msg.Subject, Data: append([]byte(nil), msg.Data...)})
		}
	}
	return out
}

type memSubscription struct {
	owner    *MemoryJetStream
	stream   *memStream
	consumer *memConsumer
}

func (s *memSubscription) Unsubscribe() error { return nil }

// Fetch returns up to batch unread messages matching the consumer's filter,
// or nats.ErrTimeout when there are none.
func (s *memSubscription) Fetch(batch int, _ ...nats.PullOpt) ([]*nats.Msg, error) {
	s.owner.mu.Lock()
	defer s.owner.mu.Unlock()

	filter := s.consumer.info.Config.FilterSubject
	var out []*nats.Msg
	for s.consumer.cursor < len(s.stream.msgs) && len(out) < batch {
		msg := s.stream.msgs[s.consumer.cursor]
		s.consumer.cursor++
		if filter != "" && !subjectMatches(filter, msg.Subject) {
			continue
		}
		out = append(out, &nats.Msg{Subject: msg.Subject, Data: msg.Data})
	}
	if len(out) == 0 {
		return nil, nats.ErrTimeout
	}
	return out, nil
}

// subjectMatches applies NATS wildcard rules: "*" matches one token and a
// trailing ">" matches one or more.
func subjectMatches(pattern, subject string) bool {
	pt := strings.Split(pattern, ".")
	st := strings.Split(subject, ".")
	for i, tok := range pt {
		if tok == ">" {
			return len(st) > i
		}
		if i >= len(st) {
			return false
		}
		if tok != "*" && tok != st[i] {
			return false
		}
	}
	return len(pt) == len(st)
}

// Package registry tracks which subjects are connected and what topics they
// subscribe to. It is the single piece of shared mutable state between the
// connection gateway and the broadcast engine; all state is in-memory and is
// rebuilt as clients reconnect after a restart.
package registry

import (
	"sync"

	"github.com/rs/zerolog"
)

// Conn is one live client connection owned by a subject. Send must not block
// past the gateway's push timeout; a non-nil error means the connection is
// broken or too slow and will be torn down by its owner.
type Conn interface {
	Send(payload []byte) error
	Close() error
}

// Registry is a bidirectional index of subject ↔ connections and
// subject ↔ topic subscriptions. A single coarse lock guards all three maps;
// callers never perform network I/O while holding it.
type Registry struct {
	mu sync.RWMutex

	// subject id → open connections (a subject may be connected from
	// several devices at once)
	connections map[string][]Conn

	// topic id → subscribed subjects, and the mirrored index. The two are
	// always updated together.
	topicSubjects map[string]map[string]struct{}
	subjectTopics map[string]map[string]struct{}

	logger zerolog.Logger
}

// New creates an empty registry.
func New(logger zerolog.Logger) *Registry {
	return &Registry{
		connections:   make(map[string][]Conn),
		topicSubjects: make(map[string]map[string]struct{}),
		subjectTopics: make(map[string]map[string]struct{}),
		logger:        logger.With().Str("component", "registry").Logger(),
	}
}

// Register adds a connection under its owning subject.
func (r *Registry) Register(subject string, conn Conn) {
	r.mu.Lock()
	r.connections[subject] = append(r.connections[subject], conn)
	count := len(r.connections[subject])
	r.mu.Unlock()

	r.logger.Info().Str("subject", subject).Int("connections", count).Msg("Client connected")
}

// Deregister removes a connection from its subject's list, dropping the
// subject entirely once its last connection is gone. It is a no-op if the
// connection is already absent, so disconnect handling may race with cleanup.
func (r *Registry) Deregister(subject string, conn Conn) {
	r.mu.Lock()
	conns := r.connections[subject]
	for i, c := range conns {
		if c == conn {
			conns[i] = conns[len(conns)-1]
			conns = conns[:len(conns)-1]
			break
		}
	}
	if len(conns) == 0 {
		delete(r.connections, subject)
	} else {
		r.connections[subject] = conns
	}
	r.mu.Unlock()

	r.logger.Info().Str("subject", subject).Msg("Client disconnected")
}

// Subscribe records subject's interest in topic in both indices.
func (r *Registry) Subscribe(subject, topic string) {
	r.mu.Lock()
	if r.topicSubjects[topic] == nil {
		r.topicSubjects[topic] = make(map[string]struct{})
	}
	if r.subjectTopics[subject] == nil {
		r.subjectTopics[subject] = make(map[string]struct{})
	}
	r.topicSubjects[topic][subject] = struct{}{}
	r.subjectTopics[subject][topic] = struct{}{}
	r.mu.Unlock()

	r.logger.Debug().Str("subject", subject).Str("topic", topic).Msg("Subscribed")
}

// Unsubscribe removes subject's interest in topic from both indices,
// pruning empty sets.
func (r *Registry) Unsubscribe(subject, topic string) {
	r.mu.Lock()
	if set, ok := r.topicSubjects[topic]; ok {
		delete(set, subject)
		if len(set) == 0 {
			delete(r.topicSubjects, topic)
		}
	}
	if set, ok := r.subjectTopics[subject]; ok {
		delete(set, topic)
		if len(set) == 0 {
			delete(r.subjectTopics, subject)
		}
	}
	r.mu.Unlock()

	r.logger.Debug().Str("subject", subject).Str("topic", topic).Msg("Unsubscribed")
}

// RecipientsFor returns the current subscribers of topic.
func (r *Registry) RecipientsFor(topic string) map[string]struct{} {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]struct{}, len(r.topicSubjects[topic]))
	for subject := range r.topicSubjects[topic] {
		out[subject] = struct{}{}
	}
	return out
}

// TopicsFor returns the topics subject is currently subscribed to.
func (r *Registry) TopicsFor(subject string) map[string]struct{} {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]struct{}, len(r.subjectTopics[subject]))
	for topic := range r.subjectTopics[subject] {
		out[topic] = struct{}{}
	}
	return out
}

// LiveConnectionsFor returns a copy of subject's open connections. The copy
// lets the broadcast engine write to sockets without holding the lock.
func (r *Registry) LiveConnectionsFor(subject string) []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns := r.connections[subject]
	if len(conns) == 0 {
		return nil
	}
	out := make([]Conn, len(conns))
	copy(out, conns)
	return out
}

// AllConnectedSubjects returns every subject with at least one open
// connection. Used for topic-less broadcasts.
func (r *Registry) AllConnectedSubjects() map[string]struct{} {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]struct{}, len(r.connections))
	for subject := range r.connections {
		out[subject] = struct{}{}
	}
	return out
}

// ConnectionCount returns the number of open connections across all subjects.
func (r *Registry) ConnectionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, conns := range r.connections {
		n += len(conns)
	}
	return n
}

// SubjectCount returns the number of distinct connected subjects.
func (r *Registry) SubjectCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.connections)
}

// CloseAll closes every registered connection, for service shutdown. Each
// connection's read loop then exits through its normal termination path.
func (r *Registry) CloseAll() {
	r.mu.RLock()
	var all []Conn
	for _, conns := range r.connections {
		all = append(all, conns...)
	}
	r.mu.RUnlock()

	for _, c := range all {
		if err := c.Close(); err != nil {
			r.logger.Debug().Err(err).Msg("Error closing connection during shutdown")
		}
	}
}

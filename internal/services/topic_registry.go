package services

import "sync"

// TopicRegistry is the ordered set of topics the client intends to be
// subscribed to. It outlives individual sessions.
type TopicRegistry struct {
	mu     sync.Mutex
	order  []string
	member map[string]struct{}
}

// NewTopicRegistry creates a registry seeded with topics.
func NewTopicRegistry(topics ...string) *TopicRegistry {
	r := &TopicRegistry{member: make(map[string]struct{})}
	for _, t := range topics {
		r.Add(t)
	}
	return r
}

// Add records topic and reports whether it was new.
func (r *TopicRegistry) Add(topic string) bool {
	if topic == "" {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.member[topic]; ok {
		return false
	}
	r.member[topic] = struct{}{}
	r.order = append(r.order, topic)
	return true
}

// Remove drops topic and reports whether it was present.
func (r *TopicRegistry) Remove(topic string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.member[topic]; !ok {
		return false
	}
	delete(r.member, topic)
	for i, t := range r.order {
		if t == topic {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return true
}

// Clear empties the registry and returns what it held.
func (r *TopicRegistry) Clear() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	old := r.order
	r.order = nil
	r.member = make(map[string]struct{})
	return old
}

func (r *TopicRegistry) Contains(topic string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.member[topic]
	return ok
}

// List returns the topics in insertion order.
func (r *TopicRegistry) List() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.order...)
}

func (r *TopicRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.order)
}

// Batches splits topics into consecutive groups of at most size.
func Batches(topics []string, size int) [][]string {
	if size <= 0 {
		size = 1
	}
	var out [][]string
	for start := 0; start < len(topics); start += size {
		end := start + size
		if end > len(topics) {
			end = len(topics)
		}
		out = append(out, topics[start:end])
	}
	return out
}

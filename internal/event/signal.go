// Package event provides a small synchronous observer list used for all
// signals in alarmd.
package event

import "sync"

// Signal delivers values of type T to every connected handler.
// The zero value is ready to use.
type Signal[T any] struct {
	mu       sync.Mutex
	nextID   uint64
	handlers []handler[T]
}

type handler[T any] struct {
	id uint64
	fn func(T)
}

// Connection is returned by Connect and removes the handler again.
type Connection struct {
	once       sync.Once
	disconnect func()
}

// Disconnect removes the handler. It is safe to call more than once.
func (c *Connection) Disconnect() {
	if c == nil {
		return
	}
	c.once.Do(c.disconnect)
}

// Connect registers fn to be called on every Emit.
func (s *Signal[T]) Connect(fn func(T)) *Connection {
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.handlers = append(s.handlers, handler[T]{id: id, fn: fn})
	s.mu.Unlock()

	return &Connection{disconnect: func() { s.remove(id) }}
}

func (s *Signal[T]) remove(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, h := range s.handlers {
		if h.id == id {
			s.handlers = append(s.handlers[:i:i], s.handlers[i+1:]...)
			return
		}
	}
}

// Emit calls every handler connected at the time of the call, in connection
// order, on the calling goroutine. Handlers may connect or disconnect while
// the signal is being emitted.
func (s *Signal[T]) Emit(v T) {
	s.mu.Lock()
	handlers := s.handlers
	s.mu.Unlock()

	for _, h := range handlers {
		h.fn(v)
	}
}

// Len returns the number of connected handlers.
func (s *Signal[T]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.handlers)
}

// Notify is a signal that carries no value.
type Notify struct {
	sig Signal[struct{}]
}

// Connect registers fn to be called on every Emit.
func (n *Notify) Connect(fn func()) *Connection {
	return n.sig.Connect(func(struct{}) { fn() })
}

// Emit calls every connected handler.
func (n *Notify) Emit() {
	n.sig.Emit(struct{}{})
}

// Len returns the number of connected handlers.
func (n *Notify) Len() int {
	return n.sig.Len()
}

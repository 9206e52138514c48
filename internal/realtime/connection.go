package realtime

import (
	"errors"
	"sync"
)

// State is the lifecycle position of a realtime connection.
type State int32

const (
	StateConnecting State = iota
	StateAuthenticating
	StateJoined
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateJoined:
		return "joined"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

var (
	ErrConnectionClosed  = errors.New("realtime: connection closed")
	ErrSendBufferFull    = errors.New("realtime: send buffer full")
	errInvalidTransition = errors.New("realtime: invalid state transition")
)

// Connection is one live transport session. Its owning user is bound once during
// authentication and never changes afterwards.
type Connection struct {
	id string

	mu     sync.Mutex
	state  State
	userID string

	outbound  chan []byte
	closed    chan struct{}
	closeOnce sync.Once
}

func newConnection(id string, bufferSize int) *Connection {
	if bufferSize <= 0 {
		bufferSize = 1
	}
	return &Connection{
		id:       id,
		state:    StateConnecting,
		outbound: make(chan []byte, bufferSize),
		closed:   make(chan struct{}),
	}
}

// ID returns the session identifier.
func (c *Connection) ID() string {
	return c.id
}

// UserID returns the bound identity, empty until authentication succeeds.
func (c *Connection) UserID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userID
}

// State returns the current lifecycle state.
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Done is closed once the connection is disconnected.
func (c *Connection) Done() <-chan struct{} {
	return c.closed
}

func (c *Connection) beginAuthentication() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateConnecting {
		return errInvalidTransition
	}
	c.state = StateAuthenticating
	return nil
}

func (c *Connection) bind(userID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateDisconnected {
		return ErrConnectionClosed
	}
	if c.state != StateAuthenticating || c.userID != "" {
		return errInvalidTransition
	}
	c.userID = userID
	return nil
}

// markJoined moves an authenticated connection into Joined. A connection that was
// closed while authentication was in flight reports ErrConnectionClosed.
func (c *Connection) markJoined() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case c.state == StateDisconnected:
		return ErrConnectionClosed
	case c.state != StateAuthenticating || c.userID == "":
		return errInvalidTransition
	}
	c.state = StateJoined
	return nil
}

// Close moves the connection to Disconnected. It is safe to call repeatedly and
// from any goroutine; only the first call reports true.
func (c *Connection) Close() bool {
	first := false
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.state = StateDisconnected
		c.mu.Unlock()
		close(c.closed)
		first = true
	})
	return first
}

// enqueue hands an encoded frame to the connection's writer without blocking.
func (c *Connection) enqueue(payload []byte) error {
	select {
	case <-c.closed:
		return ErrConnectionClosed
	default:
	}
	select {
	case c.outbound <- payload:
		return nil
	default:
		return ErrSendBufferFull
	}
}

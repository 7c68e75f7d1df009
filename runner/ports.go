package runner

import (
	"net"
	"sync"

	"go.uber.org/zap"

	"github.com/edgerun/wasmdbg/engine"
	"github.com/edgerun/wasmdbg/errors"
)

// PortLease is exclusive ownership of one OS-assigned ephemeral port,
// including its live listener. Released exactly once on session cleanup.
type PortLease struct {
	Port      int
	SessionID string

	listener net.Listener
}

// Listener returns the bound listener for the leased port.
func (l *PortLease) Listener() net.Listener { return l.listener }

// PortManager leases ephemeral TCP ports for runner sessions. Port
// selection is delegated to the operating system (bind to port 0) so leases
// can never collide with occupied ports; the manager tracks only currently
// leased ports to detect double releases. One instance is shared across all
// sessions of a process.
type PortManager struct {
	mu     sync.Mutex
	leased map[int]string // port -> owning session id
}

// NewPortManager creates an empty port ledger.
func NewPortManager() *PortManager {
	return &PortManager{leased: make(map[int]string)}
}

// Lease binds a new loopback listener on an OS-assigned port and records
// the lease. Fails with a port-exhausted error when the OS cannot bind.
func (m *PortManager) Lease(sessionID string) (*PortLease, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, errors.PortExhausted(err)
	}

	port := ln.Addr().(*net.TCPAddr).Port

	m.mu.Lock()
	m.leased[port] = sessionID
	m.mu.Unlock()

	engine.Logger().Debug("leased port",
		zap.Int("port", port), zap.String("session", sessionID))

	return &PortLease{Port: port, SessionID: sessionID, listener: ln}, nil
}

// Release closes the lease's listener and returns the port to the OS.
// Releasing a lease that is not held reports a double-release error.
func (m *PortManager) Release(lease *PortLease) error {
	if lease == nil {
		return nil
	}

	m.mu.Lock()
	_, held := m.leased[lease.Port]
	delete(m.leased, lease.Port)
	m.mu.Unlock()

	if !held {
		return errors.DoubleRelease(lease.Port)
	}

	if lease.listener != nil {
		// The listener may already be closed by a server shutdown; that is
		// not a leak, so the close error is only logged.
		if err := lease.listener.Close(); err != nil {
			engine.Logger().Debug("closing leased listener",
				zap.Int("port", lease.Port), zap.Error(err))
		}
	}

	engine.Logger().Debug("released port",
		zap.Int("port", lease.Port), zap.String("session", lease.SessionID))
	return nil
}

// Leased reports how many ports are currently held.
func (m *PortManager) Leased() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.leased)
}

package phy

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// TCPPortConfig configures a TCP connection to a serial server or PHY gateway
type TCPPortConfig struct {
	Address      string        // "host:port" format
	DialTimeout  time.Duration // Connection timeout
	WriteTimeout time.Duration // Write timeout (0 = no timeout)
}

// TCPPort implements Port over a TCP connection
type TCPPort struct {
	conn     net.Conn
	connLock sync.RWMutex

	address      string
	writeTimeout time.Duration

	// Statistics
	stats struct {
		bytesSent     atomic.Uint64
		bytesReceived atomic.Uint64
		writeErrors   atomic.Uint64
		readErrors    atomic.Uint64
	}

	closed atomic.Bool
}

// DialTCPPort connects to the given address
func DialTCPPort(config TCPPortConfig) (*TCPPort, error) {
	if config.Address == "" {
		return nil, fmt.Errorf("address is required")
	}
	if config.DialTimeout == 0 {
		config.DialTimeout = 10 * time.Second
	}
	if config.WriteTimeout == 0 {
		config.WriteTimeout = 2 * time.Second
	}

	conn, err := net.DialTimeout("tcp", config.Address, config.DialTimeout)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", config.Address, err)
	}

	return NewTCPPort(conn, config), nil
}

// NewTCPPort wraps an established connection
func NewTCPPort(conn net.Conn, config TCPPortConfig) *TCPPort {
	return &TCPPort{
		conn:         conn,
		address:      config.Address,
		writeTimeout: config.WriteTimeout,
	}
}

// Read implements io.Reader
func (tp *TCPPort) Read(b []byte) (int, error) {
	tp.connLock.RLock()
	conn := tp.conn
	tp.connLock.RUnlock()

	if conn == nil {
		return 0, net.ErrClosed
	}

	n, err := conn.Read(b)
	tp.stats.bytesReceived.Add(uint64(n))
	if err != nil {
		tp.stats.readErrors.Add(1)
	}
	return n, err
}

// Write implements io.Writer
func (tp *TCPPort) Write(b []byte) (int, error) {
	tp.connLock.RLock()
	conn := tp.conn
	tp.connLock.RUnlock()

	if conn == nil {
		tp.stats.writeErrors.Add(1)
		return 0, net.ErrClosed
	}

	if tp.writeTimeout > 0 {
		conn.SetWriteDeadline(time.Now().Add(tp.writeTimeout))
	}

	n, err := conn.Write(b)
	tp.stats.bytesSent.Add(uint64(n))
	if err != nil {
		tp.stats.writeErrors.Add(1)
	}
	return n, err
}

// Close implements io.Closer
func (tp *TCPPort) Close() error {
	if !tp.closed.CompareAndSwap(false, true) {
		return nil
	}

	tp.connLock.Lock()
	defer tp.connLock.Unlock()
	if tp.conn == nil {
		return nil
	}
	err := tp.conn.Close()
	tp.conn = nil
	return err
}

// Statistics returns byte counters of the connection
func (tp *TCPPort) Statistics() TransportStats {
	return TransportStats{
		BytesSent:     tp.stats.bytesSent.Load(),
		BytesReceived: tp.stats.bytesReceived.Load(),
		WriteErrors:   tp.stats.writeErrors.Load(),
		ReadErrors:    tp.stats.readErrors.Load(),
	}
}

// RemoteAddr returns the remote address of the connection
func (tp *TCPPort) RemoteAddr() net.Addr {
	tp.connLock.RLock()
	defer tp.connLock.RUnlock()
	if tp.conn != nil {
		return tp.conn.RemoteAddr()
	}
	return nil
}

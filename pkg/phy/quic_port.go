package phy

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"math/big"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/quic-go/quic-go"
)

// ALPN protocol announced on QUIC connections carrying CP-PHY messages
const QUICNextProto = "profibus-cpphy"

// QUICPortConfig configures a QUIC stream port
type QUICPortConfig struct {
	Address      string        // "host:port" format
	IsServer     bool          // true = listen (gateway side), false = connect
	DialTimeout  time.Duration // Connection timeout (client only)
	WriteTimeout time.Duration // Write timeout (0 = no timeout)
	TLSConfig    *tls.Config   // Optional TLS config (if nil, will generate self-signed cert)
}

// QUICPort implements Port over a single bidirectional QUIC stream.
// It lets the master drive a communication processor attached to a
// remote gateway.
type QUICPort struct {
	connection *quic.Conn
	stream     *quic.Stream
	listener   *quic.Listener
	connLock   sync.RWMutex
	streamCond *sync.Cond

	address      string
	isServer     bool
	writeTimeout time.Duration
	tlsConfig    *tls.Config

	// Statistics
	stats struct {
		bytesSent     atomic.Uint64
		bytesReceived atomic.Uint64
		writeErrors   atomic.Uint64
		readErrors    atomic.Uint64
	}

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed atomic.Bool
}

// NewQUICPort creates a QUIC port
func NewQUICPort(config QUICPortConfig) (*QUICPort, error) {
	if config.Address == "" {
		return nil, fmt.Errorf("address is required")
	}
	if config.DialTimeout == 0 {
		config.DialTimeout = 10 * time.Second
	}
	if config.WriteTimeout == 0 {
		config.WriteTimeout = 2 * time.Second
	}

	tlsConfig := config.TLSConfig
	if tlsConfig == nil {
		var err error
		tlsConfig, err = generateTLSConfig()
		if err != nil {
			return nil, fmt.Errorf("failed to generate TLS config: %w", err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())

	qp := &QUICPort{
		address:      config.Address,
		isServer:     config.IsServer,
		writeTimeout: config.WriteTimeout,
		tlsConfig:    tlsConfig,
		ctx:          ctx,
		cancel:       cancel,
	}
	qp.streamCond = sync.NewCond(qp.connLock.RLocker())

	var err error
	if config.IsServer {
		err = qp.startServer()
	} else {
		err = qp.connect(config.DialTimeout)
	}
	if err != nil {
		cancel()
		return nil, err
	}

	return qp, nil
}

// generateTLSConfig generates a self-signed certificate for QUIC
func generateTLSConfig() (*tls.Config, error) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, err
	}

	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		NotBefore:    time.Now(),
		NotAfter:     time.Now().Add(365 * 24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}

	certDER, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		return nil, err
	}

	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certDER})

	tlsCert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return nil, err
	}

	return &tls.Config{
		Certificates:       []tls.Certificate{tlsCert},
		NextProtos:         []string{QUICNextProto},
		InsecureSkipVerify: true, // For self-signed certs
	}, nil
}

// startServer listens for the gateway connection
func (qp *QUICPort) startServer() error {
	udpAddr, err := net.ResolveUDPAddr("udp", qp.address)
	if err != nil {
		return fmt.Errorf("failed to resolve UDP address %s: %w", qp.address, err)
	}

	udpConn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", qp.address, err)
	}

	listener, err := quic.Listen(udpConn, qp.tlsConfig, nil)
	if err != nil {
		udpConn.Close()
		return fmt.Errorf("failed to create QUIC listener: %w", err)
	}
	qp.listener = listener

	qp.wg.Add(1)
	go qp.acceptLoop()

	return nil
}

// acceptLoop accepts connections; a newer connection replaces the old one
func (qp *QUICPort) acceptLoop() {
	defer qp.wg.Done()

	for {
		conn, err := qp.listener.Accept(qp.ctx)
		if err != nil {
			if qp.closed.Load() || qp.ctx.Err() != nil {
				return
			}
			continue
		}

		stream, err := conn.AcceptStream(qp.ctx)
		if err != nil {
			conn.CloseWithError(0, "no stream")
			continue
		}

		qp.setConnection(conn, stream)
	}
}

// connect establishes a QUIC connection to the gateway and opens the stream
func (qp *QUICPort) connect(timeout time.Duration) error {
	udpConn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4zero, Port: 0})
	if err != nil {
		return fmt.Errorf("failed to create UDP socket: %w", err)
	}

	remoteAddr, err := net.ResolveUDPAddr("udp", qp.address)
	if err != nil {
		udpConn.Close()
		return fmt.Errorf("failed to resolve remote address %s: %w", qp.address, err)
	}

	ctx, cancel := context.WithTimeout(qp.ctx, timeout)
	defer cancel()

	conn, err := quic.Dial(ctx, udpConn, remoteAddr, qp.tlsConfig, nil)
	if err != nil {
		udpConn.Close()
		return fmt.Errorf("failed to connect to %s: %w", qp.address, err)
	}

	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		conn.CloseWithError(0, "failed to open stream")
		return fmt.Errorf("failed to open stream: %w", err)
	}

	qp.setConnection(conn, stream)
	return nil
}

// setConnection installs a new connection and wakes blocked readers
func (qp *QUICPort) setConnection(conn *quic.Conn, stream *quic.Stream) {
	qp.connLock.Lock()
	if qp.connection != nil {
		qp.connection.CloseWithError(0, "replaced")
	}
	qp.connection = conn
	qp.stream = stream
	qp.connLock.Unlock()
	qp.streamCond.Broadcast()
}

// currentStream blocks until a stream is available or the port closes
func (qp *QUICPort) currentStream() *quic.Stream {
	qp.connLock.RLock()
	defer qp.connLock.RUnlock()
	for qp.stream == nil && !qp.closed.Load() {
		qp.streamCond.Wait()
	}
	return qp.stream
}

// Read implements io.Reader
func (qp *QUICPort) Read(b []byte) (int, error) {
	stream := qp.currentStream()
	if stream == nil {
		return 0, net.ErrClosed
	}

	n, err := stream.Read(b)
	qp.stats.bytesReceived.Add(uint64(n))
	if err != nil {
		qp.stats.readErrors.Add(1)
	}
	return n, err
}

// Write implements io.Writer
func (qp *QUICPort) Write(b []byte) (int, error) {
	qp.connLock.RLock()
	stream := qp.stream
	qp.connLock.RUnlock()

	if stream == nil {
		qp.stats.writeErrors.Add(1)
		return 0, fmt.Errorf("no stream")
	}

	if qp.writeTimeout > 0 {
		stream.SetWriteDeadline(time.Now().Add(qp.writeTimeout))
	}

	n, err := stream.Write(b)
	qp.stats.bytesSent.Add(uint64(n))
	if err != nil {
		qp.stats.writeErrors.Add(1)
	}
	return n, err
}

// Close implements io.Closer
func (qp *QUICPort) Close() error {
	if !qp.closed.CompareAndSwap(false, true) {
		return nil
	}

	qp.cancel()

	if qp.listener != nil {
		qp.listener.Close()
	}

	qp.connLock.Lock()
	if qp.stream != nil {
		qp.stream.Close()
		qp.stream = nil
	}
	if qp.connection != nil {
		qp.connection.CloseWithError(0, "port closed")
		qp.connection = nil
	}
	qp.connLock.Unlock()
	qp.streamCond.Broadcast()

	qp.wg.Wait()
	return nil
}

// Statistics returns byte counters of the stream
func (qp *QUICPort) Statistics() TransportStats {
	return TransportStats{
		BytesSent:     qp.stats.bytesSent.Load(),
		BytesReceived: qp.stats.bytesReceived.Load(),
		WriteErrors:   qp.stats.writeErrors.Load(),
		ReadErrors:    qp.stats.readErrors.Load(),
	}
}

// IsConnected returns true if there is an active connection
func (qp *QUICPort) IsConnected() bool {
	qp.connLock.RLock()
	defer qp.connLock.RUnlock()
	return qp.connection != nil && qp.connection.Context().Err() == nil
}

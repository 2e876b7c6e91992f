package phy

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"avaneesh/profibus-go/pkg/internal/logger"
)

// PROFIBUS baud-rate identifiers understood by the communication processor
const (
	Baud9600 uint8 = iota
	Baud19200
	Baud45450
	Baud93750
	Baud187500
	Baud500000
	Baud1500000
	Baud3000000
	Baud6000000
	Baud12000000
)

var baudToID = map[int]uint8{
	9600:     Baud9600,
	19200:    Baud19200,
	45450:    Baud45450,
	93750:    Baud93750,
	187500:   Baud187500,
	500000:   Baud500000,
	1500000:  Baud1500000,
	3000000:  Baud3000000,
	6000000:  Baud6000000,
	12000000: Baud12000000,
}

// RTSMode selects how the processor drives the RS-485 RTS line
type RTSMode uint8

const (
	RTSAlwaysLow  RTSMode = 0
	RTSAlwaysHigh RTSMode = 1
	RTSSendingHi  RTSMode = 2
	RTSSendingLo  RTSMode = 3
)

// Errors
var (
	ErrClosed           = errors.New("phy is closed")
	ErrInvalidBaudrate  = errors.New("invalid baud-rate")
	ErrInvalidRxTimeout = errors.New("invalid RX timeout")
	ErrNoAck            = errors.New("communication processor did not acknowledge")
)

// CpPhyConfig configures the communication processor
type CpPhyConfig struct {
	Baudrate       int           // PROFIBUS baud rate in bit/s
	RxTimeout      time.Duration // Slave reply timeout (1ms - 255ms)
	BitErrorChecks bool          // Enable parity and framing checks
	RTSMode        RTSMode       // RS-485 driver enable mode
	AckTimeout     time.Duration // Wait for RESET/SETCFG acknowledge (negative = forever)
	RxQueueSize    int           // Buffered replies waiting for Poll
}

// DefaultCpPhyConfig returns default configuration
func DefaultCpPhyConfig() CpPhyConfig {
	return CpPhyConfig{
		Baudrate:       19200,
		RxTimeout:      100 * time.Millisecond,
		BitErrorChecks: true,
		RTSMode:        RTSAlwaysLow,
		AckTimeout:     2 * time.Second,
		RxQueueSize:    16,
	}
}

// CpPhy implements Phy on top of a communication processor reachable
// through a Port
type CpPhy struct {
	port   Port
	reader *bufio.Reader
	config CpPhyConfig
	logger logger.Logger

	rx   chan *Message // PB_SRD_REPLY messages
	ctrl chan *Message // ACK / NACK of control requests

	writeMu sync.Mutex

	// Statistics
	stats struct {
		bytesSent      atomic.Uint64
		bytesReceived  atomic.Uint64
		messagesSent   atomic.Uint64
		messagesRecv   atomic.Uint64
		writeErrors    atomic.Uint64
		readErrors     atomic.Uint64
		checksumErrors atomic.Uint64
		dropped        atomic.Uint64
	}

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed atomic.Bool
}

// NewCpPhy starts talking to the communication processor on port,
// resets it and uploads the configuration
func NewCpPhy(port Port, config CpPhyConfig, log logger.Logger) (*CpPhy, error) {
	if port == nil {
		return nil, fmt.Errorf("port is required")
	}
	def := DefaultCpPhyConfig()
	if config.Baudrate == 0 {
		config.Baudrate = def.Baudrate
	}
	if config.RxTimeout == 0 {
		config.RxTimeout = def.RxTimeout
	}
	if config.AckTimeout == 0 {
		config.AckTimeout = def.AckTimeout
	}
	if config.RxQueueSize <= 0 {
		config.RxQueueSize = def.RxQueueSize
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &CpPhy{
		port:   port,
		reader: bufio.NewReader(port),
		config: config,
		logger: logger.OrNoOp(log),
		rx:     make(chan *Message, config.RxQueueSize),
		ctrl:   make(chan *Message, 1),
		ctx:    ctx,
		cancel: cancel,
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.readLoop()
	}()

	if err := p.Reset(); err != nil {
		p.Close()
		return nil, err
	}
	if err := p.SetConfig(config); err != nil {
		p.Close()
		return nil, err
	}

	p.logger.Info("CP-PHY opened: %d baud, rx timeout %s", config.Baudrate, config.RxTimeout)
	return p, nil
}

// Reset sends a software reset and waits for the acknowledge
func (p *CpPhy) Reset() error {
	if err := p.control(NewMessage(MsgReset, nil)); err != nil {
		return fmt.Errorf("failed to reset PHY: %w", err)
	}
	return nil
}

// SetConfig uploads the bus configuration to the communication processor
func (p *CpPhy) SetConfig(config CpPhyConfig) error {
	baudID, ok := baudToID[config.Baudrate]
	if !ok {
		return fmt.Errorf("%w: %d", ErrInvalidBaudrate, config.Baudrate)
	}
	rxMs := config.RxTimeout.Milliseconds()
	if rxMs < 1 || rxMs > 255 {
		return fmt.Errorf("%w: %s", ErrInvalidRxTimeout, config.RxTimeout)
	}
	var bitChecks byte
	if config.BitErrorChecks {
		bitChecks = 1
	}
	payload := []byte{baudID, byte(rxMs), bitChecks, byte(config.RTSMode)}
	if err := p.control(NewMessage(MsgSetCfg, payload)); err != nil {
		return fmt.Errorf("failed to upload config: %w", err)
	}
	return nil
}

// control sends a control message and waits for ACK
func (p *CpPhy) control(m *Message) error {
	// Forget acknowledges of earlier requests
	select {
	case <-p.ctrl:
	default:
	}

	if err := p.writeMessage(m); err != nil {
		return err
	}

	var timeout <-chan time.Time
	if p.config.AckTimeout > 0 {
		timer := time.NewTimer(p.config.AckTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case reply := <-p.ctrl:
		if reply.Type != MsgAck {
			return fmt.Errorf("%w: got %s", ErrNoAck, reply.Type)
		}
		return nil
	case <-timeout:
		return ErrNoAck
	case <-p.ctx.Done():
		return ErrClosed
	}
}

// SendRequestReply implements Phy.SendRequestReply
func (p *CpPhy) SendRequestReply(data []byte) error {
	// A reply still queued belongs to an earlier request
	for {
		select {
		case <-p.rx:
			p.stats.dropped.Add(1)
			continue
		default:
		}
		break
	}
	return p.writeMessage(NewMessage(MsgPbSRD, data))
}

// SendNoReply implements Phy.SendNoReply
func (p *CpPhy) SendNoReply(data []byte) error {
	return p.writeMessage(NewMessage(MsgPbSDN, data))
}

// Poll implements Phy.Poll
func (p *CpPhy) Poll(timeout time.Duration) ([]byte, error) {
	if p.closed.Load() {
		return nil, ErrClosed
	}

	if timeout == 0 {
		select {
		case m := <-p.rx:
			return m.Payload, nil
		default:
			return nil, nil
		}
	}

	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case m := <-p.rx:
		return m.Payload, nil
	case <-expired:
		return nil, nil
	case <-p.ctx.Done():
		return nil, ErrClosed
	}
}

// Close implements Phy.Close
func (p *CpPhy) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}

	p.cancel()
	err := p.port.Close()
	p.wg.Wait()

	p.logger.Info("CP-PHY closed")
	return err
}

// Statistics returns transport-level statistics
func (p *CpPhy) Statistics() TransportStats {
	return TransportStats{
		BytesSent:      p.stats.bytesSent.Load(),
		BytesReceived:  p.stats.bytesReceived.Load(),
		MessagesSent:   p.stats.messagesSent.Load(),
		MessagesRecv:   p.stats.messagesRecv.Load(),
		WriteErrors:    p.stats.writeErrors.Load(),
		ReadErrors:     p.stats.readErrors.Load(),
		ChecksumErrors: p.stats.checksumErrors.Load(),
		Dropped:        p.stats.dropped.Load(),
	}
}

// State returns the current PHY state
func (p *CpPhy) State() PhyState {
	if p.closed.Load() {
		return PhyStateClosed
	}
	return PhyStateOpen
}

// writeMessage serializes and writes one message to the port
func (p *CpPhy) writeMessage(m *Message) error {
	if p.closed.Load() {
		return ErrClosed
	}

	data, err := m.Serialize()
	if err != nil {
		return err
	}

	if logger.FrameDebug() {
		p.logger.Debug("[PHY] sending message: %s", m)
	}

	p.writeMu.Lock()
	_, err = p.port.Write(data)
	p.writeMu.Unlock()

	if err != nil {
		p.stats.writeErrors.Add(1)
		return fmt.Errorf("phy write failed: %w", err)
	}
	p.stats.bytesSent.Add(uint64(len(data)))
	p.stats.messagesSent.Add(1)
	return nil
}

// readLoop decodes messages from the port and dispatches them
func (p *CpPhy) readLoop() {
	p.logger.Debug("CP-PHY read loop started")
	defer p.logger.Debug("CP-PHY read loop stopped")

	for {
		select {
		case <-p.ctx.Done():
			return
		default:
		}

		m, err := p.readMessage()
		if err != nil {
			if p.closed.Load() || isClosedErr(err) {
				return
			}
			if errors.Is(err, ErrMessageChecksum) || errors.Is(err, ErrUnknownType) ||
				errors.Is(err, ErrPayloadLength) {
				p.stats.checksumErrors.Add(1)
				p.logger.Warn("CP-PHY dropped bad message: %v", err)
				continue
			}
			// Serial ports report read timeouts as EOF
			if !errors.Is(err, io.EOF) {
				p.stats.readErrors.Add(1)
				p.logger.Error("CP-PHY read error: %v", err)
			}
			select {
			case <-p.ctx.Done():
				return
			case <-time.After(10 * time.Millisecond):
			}
			continue
		}

		p.stats.messagesRecv.Add(1)
		if logger.FrameDebug() {
			p.logger.Debug("[PHY] received message: %s", m)
		}
		p.dispatch(m)
	}
}

// readMessage reads one message, skipping NOP fill bytes
func (p *CpPhy) readMessage() (*Message, error) {
	var fc byte
	for {
		b, err := p.reader.ReadByte()
		if err != nil {
			return nil, err
		}
		p.stats.bytesReceived.Add(1)
		if MessageType(b) != MsgNop {
			fc = b
			break
		}
	}

	raw := make([]byte, MessageHeaderSize)
	raw[0] = fc
	if err := p.readFull(raw[1:]); err != nil {
		return nil, err
	}
	if n := int(raw[1]); n > 0 {
		payload := make([]byte, n)
		if err := p.readFull(payload); err != nil {
			return nil, err
		}
		raw = append(raw, payload...)
	}
	p.stats.bytesReceived.Add(uint64(len(raw) - 1))

	return ParseMessage(raw)
}

// readFull fills buf. A serial read timeout shows up as io.EOF in the
// middle of a message; the bytes read so far are kept and reading goes on
// until the port is closed.
func (p *CpPhy) readFull(buf []byte) error {
	for n := 0; n < len(buf); {
		m, err := p.reader.Read(buf[n:])
		n += m
		if err == nil {
			continue
		}
		if !errors.Is(err, io.EOF) || p.closed.Load() {
			return err
		}
		if p.ctx.Err() != nil {
			return io.EOF
		}
	}
	return nil
}

// dispatch routes a decoded message to its consumer
func (p *CpPhy) dispatch(m *Message) {
	switch m.Type {
	case MsgPbSRDReply:
		select {
		case p.rx <- m:
		default:
			p.stats.dropped.Add(1)
			p.logger.Warn("CP-PHY reply queue full, dropping %s", m)
		}
	case MsgAck, MsgNack:
		select {
		case p.ctrl <- m:
		default:
			p.stats.dropped.Add(1)
		}
	default:
		p.stats.dropped.Add(1)
		p.logger.Debug("CP-PHY ignoring unexpected %s", m.Type)
	}
}

// isClosedErr reports errors raised by reading from a closed port
func isClosedErr(err error) bool {
	return errors.Is(err, net.ErrClosed) || errors.Is(err, os.ErrClosed) ||
		errors.Is(err, io.ErrClosedPipe)
}

package phy

import (
	"bufio"
	"context"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeProcessor plays the communication processor on the far end of a pipe
type fakeProcessor struct {
	conn   net.Conn
	reader *bufio.Reader

	mu      sync.Mutex
	srd     [][]byte
	sdn     [][]byte
	cfg     []byte
	replies map[byte][]byte // destination address -> raw reply telegram
	nackCfg bool
}

func newFakeProcessor(conn net.Conn) *fakeProcessor {
	f := &fakeProcessor{
		conn:    conn,
		reader:  bufio.NewReader(conn),
		replies: make(map[byte][]byte),
	}
	go f.serve()
	return f
}

func (f *fakeProcessor) read() (*Message, error) {
	hdr := make([]byte, MessageHeaderSize)
	if _, err := io.ReadFull(f.reader, hdr); err != nil {
		return nil, err
	}
	payload := make([]byte, hdr[1])
	if _, err := io.ReadFull(f.reader, payload); err != nil {
		return nil, err
	}
	return ParseMessage(append(hdr, payload...))
}

func (f *fakeProcessor) send(m *Message) {
	data, _ := m.Serialize()
	// NOP fill bytes must be skipped by the reader
	f.conn.Write(append([]byte{0x00, 0x00}, data...))
}

func (f *fakeProcessor) serve() {
	for {
		m, err := f.read()
		if err != nil {
			return
		}
		f.mu.Lock()
		switch m.Type {
		case MsgReset:
			f.mu.Unlock()
			f.send(NewMessage(MsgAck, nil))
			continue
		case MsgSetCfg:
			f.cfg = m.Payload
			nack := f.nackCfg
			f.mu.Unlock()
			if nack {
				f.send(NewMessage(MsgNack, nil))
			} else {
				f.send(NewMessage(MsgAck, nil))
			}
			continue
		case MsgPbSRD:
			f.srd = append(f.srd, m.Payload)
			var reply []byte
			if len(m.Payload) > 1 {
				reply = f.replies[m.Payload[1]&0x7F]
			}
			f.mu.Unlock()
			if reply != nil {
				f.send(NewMessage(MsgPbSRDReply, reply))
			}
			continue
		case MsgPbSDN:
			f.sdn = append(f.sdn, m.Payload)
		}
		f.mu.Unlock()
	}
}

func (f *fakeProcessor) setReply(addr byte, reply []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replies[addr] = reply
}

func (f *fakeProcessor) sdnCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sdn)
}

func openTestPhy(t *testing.T) (*CpPhy, *fakeProcessor) {
	t.Helper()
	master, device := net.Pipe()
	proc := newFakeProcessor(device)

	cfg := DefaultCpPhyConfig()
	cfg.Baudrate = 500000
	cfg.RxTimeout = 50 * time.Millisecond
	p, err := NewCpPhy(master, cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		p.Close()
		device.Close()
	})
	return p, proc
}

func TestCpPhyOpenUploadsConfig(t *testing.T) {
	p, proc := openTestPhy(t)

	proc.mu.Lock()
	cfg := proc.cfg
	proc.mu.Unlock()

	require.Equal(t, []byte{Baud500000, 50, 1, byte(RTSAlwaysLow)}, cfg)
	assert.Equal(t, PhyStateOpen, p.State())
	assert.EqualValues(t, 2, p.Statistics().MessagesSent)
}

func TestCpPhyRequestReply(t *testing.T) {
	p, proc := openTestPhy(t)

	request := []byte{0x10, 0x05, 0x01, 0x49, 0x4F, 0x16}
	reply := []byte{0x10, 0x01, 0x05, 0x00, 0x06, 0x16}
	proc.setReply(0x05, reply)

	require.NoError(t, p.SendRequestReply(request))
	got, err := p.Poll(time.Second)
	require.NoError(t, err)
	assert.Equal(t, reply, got)

	// Nothing else queued
	got, err = p.Poll(0)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestCpPhyPollTimeout(t *testing.T) {
	p, _ := openTestPhy(t)

	require.NoError(t, p.SendRequestReply([]byte{0x10, 0x09, 0x01, 0x49, 0x53, 0x16}))
	start := time.Now()
	got, err := p.Poll(30 * time.Millisecond)
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.GreaterOrEqual(t, time.Since(start), 25*time.Millisecond)
}

func TestCpPhySendNoReply(t *testing.T) {
	p, proc := openTestPhy(t)

	require.NoError(t, p.SendNoReply([]byte{0x68, 0x05, 0x05, 0x68, 0xFF, 0x81, 0x46, 0x3A, 0x3E, 0x00}))
	require.Eventually(t, func() bool { return proc.sdnCount() == 1 }, time.Second, 5*time.Millisecond)
}

func TestCpPhyConfigRejected(t *testing.T) {
	master, device := net.Pipe()
	defer device.Close()
	proc := newFakeProcessor(device)
	proc.mu.Lock()
	proc.nackCfg = true
	proc.mu.Unlock()

	_, err := NewCpPhy(master, DefaultCpPhyConfig(), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoAck)
}

func TestCpPhySetConfigValidation(t *testing.T) {
	p, _ := openTestPhy(t)

	cfg := DefaultCpPhyConfig()
	cfg.Baudrate = 1234
	assert.ErrorIs(t, p.SetConfig(cfg), ErrInvalidBaudrate)

	cfg = DefaultCpPhyConfig()
	cfg.RxTimeout = 300 * time.Millisecond
	assert.ErrorIs(t, p.SetConfig(cfg), ErrInvalidRxTimeout)
}

func TestCpPhyClosed(t *testing.T) {
	p, _ := openTestPhy(t)
	require.NoError(t, p.Close())
	require.NoError(t, p.Close())

	assert.Equal(t, PhyStateClosed, p.State())
	_, err := p.Poll(0)
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, p.SendNoReply([]byte{0xE5}), ErrClosed)
}

// chunkReader returns one chunk per Read. A nil chunk, or running out of
// chunks, reads as a serial timeout.
type chunkReader struct {
	chunks [][]byte
}

func (r *chunkReader) Read(b []byte) (int, error) {
	if len(r.chunks) == 0 {
		return 0, io.EOF
	}
	c := r.chunks[0]
	r.chunks = r.chunks[1:]
	if c == nil {
		return 0, io.EOF
	}
	return copy(b, c), nil
}

func TestCpPhyReadMessageAcrossTimeouts(t *testing.T) {
	data, err := NewMessage(MsgPbSRDReply, []byte{0xE5, 0x01, 0x02}).Serialize()
	require.NoError(t, err)

	src := &chunkReader{chunks: [][]byte{{0x00}, data[:2], nil, data[2:4], nil, nil, data[4:]}}
	p := &CpPhy{reader: bufio.NewReader(src), ctx: context.Background()}

	m, err := p.readMessage()
	require.NoError(t, err)
	assert.Equal(t, MsgPbSRDReply, m.Type)
	assert.Equal(t, []byte{0xE5, 0x01, 0x02}, m.Payload)
	assert.Equal(t, uint64(len(data)+1), p.stats.bytesReceived.Load())
}

func TestCpPhyReadMessageStopsWhenClosed(t *testing.T) {
	data, err := NewMessage(MsgPbSRDReply, []byte{0xE5}).Serialize()
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := &CpPhy{reader: bufio.NewReader(&chunkReader{chunks: [][]byte{data[:2]}}), ctx: ctx}

	_, err = p.readMessage()
	assert.ErrorIs(t, err, io.EOF)
}

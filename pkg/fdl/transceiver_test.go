package fdl

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedPhy records sent frames and hands out queued replies
type scriptedPhy struct {
	srd     [][]byte
	sdn     [][]byte
	replies [][]byte
	pollErr error
	closed  bool
}

func (p *scriptedPhy) SendRequestReply(data []byte) error {
	p.srd = append(p.srd, data)
	return nil
}

func (p *scriptedPhy) SendNoReply(data []byte) error {
	p.sdn = append(p.sdn, data)
	return nil
}

func (p *scriptedPhy) Poll(timeout time.Duration) ([]byte, error) {
	if p.pollErr != nil {
		return nil, p.pollErr
	}
	if len(p.replies) == 0 {
		return nil, nil
	}
	r := p.replies[0]
	p.replies = p.replies[1:]
	return r, nil
}

func (p *scriptedPhy) Close() error {
	p.closed = true
	return nil
}

func (p *scriptedPhy) queue(t *testing.T, tg *Telegram) {
	t.Helper()
	data, err := tg.Serialize()
	require.NoError(t, err)
	p.replies = append(p.replies, data)
}

func sentFC(t *testing.T, raw []byte) uint8 {
	t.Helper()
	tg, err := Parse(raw)
	require.NoError(t, err)
	return tg.FC
}

func TestFCBReset(t *testing.T) {
	f := NewFCB()
	assert.True(t, f.Bit())
	assert.False(t, f.Valid())
	assert.False(t, f.WaitingReply())
	assert.False(t, f.Enabled())
}

func TestSRDAlternatesFCB(t *testing.T) {
	p := &scriptedPhy{}
	tr := NewTransceiver(p, nil)
	fcb := NewFCB()
	fcb.Enable(true)

	req, err := NewVariable(3, 1, FCReq|FCSrdHi, nil, nil, []byte{0x01})
	require.NoError(t, err)

	const n = 6
	for i := 0; i < n; i++ {
		p.queue(t, NewShortAck())
		ok, reply, err := tr.SendSync(fcb, req, 10*time.Millisecond)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, KindShortAck, reply.Kind)
	}

	require.Len(t, p.srd, n)
	for i, raw := range p.srd {
		fc := sentFC(t, raw)
		wantFCB := i%2 == 0
		assert.Equal(t, wantFCB, fc&FCFCB != 0, "request %d FCB", i)
		assert.Equal(t, i > 0, fc&FCFCV != 0, "request %d FCV", i)
	}
	// The caller's telegram is not modified
	assert.Equal(t, FCReq|FCSrdHi, req.FC)
}

func TestSRDWithoutReplyRepeatsFCB(t *testing.T) {
	p := &scriptedPhy{}
	tr := NewTransceiver(p, nil)
	fcb := NewFCB()
	fcb.Enable(true)

	req := NewFdlStatReq(3, 1)
	ok, _, err := tr.SendSync(fcb, req, 0)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.True(t, fcb.WaitingReply())

	ok, _, err = tr.SendSync(fcb, req, 0)
	require.NoError(t, err)
	assert.False(t, ok)

	require.Len(t, p.srd, 2)
	assert.Equal(t, sentFC(t, p.srd[0]), sentFC(t, p.srd[1]), "retransmission keeps the bit")
}

func TestSDNAdvancesImmediately(t *testing.T) {
	p := &scriptedPhy{}
	tr := NewTransceiver(p, nil)
	fcb := NewFCB()
	fcb.Enable(true)

	req, err := NewVariable(3, 1, FCReq|FCSdnHi, nil, nil, []byte{0x01})
	require.NoError(t, err)

	require.NoError(t, tr.Send(fcb, req))
	assert.False(t, fcb.WaitingReply())
	assert.False(t, fcb.Bit())
	assert.True(t, fcb.Valid())

	require.NoError(t, tr.Send(fcb, req))
	require.Len(t, p.sdn, 2)
	assert.Empty(t, p.srd)
	assert.NotZero(t, sentFC(t, p.sdn[0])&FCFCB)
	assert.Zero(t, sentFC(t, p.sdn[1])&FCFCB)
}

func TestFCBDisabledClearsBits(t *testing.T) {
	p := &scriptedPhy{}
	tr := NewTransceiver(p, nil)
	fcb := NewFCB()

	req := NewNoData(3, 1, FCReq|FCFCB|FCFCV|FCSrdHi)
	require.NoError(t, tr.Send(fcb, req))
	require.NoError(t, tr.Send(nil, req))

	for _, raw := range p.srd {
		assert.Equal(t, FCReq|FCSrdHi, sentFC(t, raw))
	}
	assert.False(t, fcb.WaitingReply())
}

func TestResponsesAreSentNoReply(t *testing.T) {
	p := &scriptedPhy{}
	tr := NewTransceiver(p, nil)

	require.NoError(t, tr.Send(nil, NewNoData(1, 3, FCOk)))
	require.NoError(t, tr.Send(nil, NewShortAck()))
	assert.Len(t, p.sdn, 2)
	assert.Empty(t, p.srd)
}

func TestRXFilter(t *testing.T) {
	p := &scriptedPhy{}
	tr := NewTransceiver(p, nil)
	tr.SetRXFilter([]uint8{2, AddressBroadcast})

	p.queue(t, NewNoData(5, 3, FCOk))
	ok, reply, err := tr.Poll(nil, 0)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, reply)

	p.queue(t, NewNoData(2, 3, FCOk))
	ok, reply, err = tr.Poll(nil, 0)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, uint8(3), reply.SA)

	p.queue(t, NewShortAck())
	ok, _, err = tr.Poll(nil, 0)
	require.NoError(t, err)
	assert.True(t, ok, "short ACK carries no address")

	tr.SetRXFilter(nil)
	p.queue(t, NewNoData(5, 3, FCOk))
	ok, _, err = tr.Poll(nil, 0)
	require.NoError(t, err)
	assert.True(t, ok)

	stats := tr.Statistics()
	assert.EqualValues(t, 1, stats.Filtered)
	assert.EqualValues(t, 3, stats.Rx)
}

func TestFilteredReplyKeepsWindowOpen(t *testing.T) {
	p := &scriptedPhy{}
	tr := NewTransceiver(p, nil)
	tr.SetRXFilter([]uint8{2})
	fcb := NewFCB()
	fcb.Enable(true)

	p.queue(t, NewNoData(9, 3, FCOk))
	ok, _, err := tr.SendSync(fcb, NewFdlStatReq(3, 2), 0)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.True(t, fcb.WaitingReply())
	assert.True(t, fcb.Bit())
}

func TestPollFramingError(t *testing.T) {
	p := &scriptedPhy{replies: [][]byte{{0x10, 0x03, 0x01}}}
	tr := NewTransceiver(p, nil)

	ok, reply, err := tr.Poll(nil, 0)
	assert.False(t, ok)
	assert.Nil(t, reply)
	assert.ErrorIs(t, err, ErrLength)
	assert.EqualValues(t, 1, tr.Statistics().FramingErrors)
}

func TestPollPhyError(t *testing.T) {
	boom := errors.New("boom")
	p := &scriptedPhy{pollErr: boom}
	tr := NewTransceiver(p, nil)

	_, _, err := tr.Poll(nil, 0)
	assert.ErrorIs(t, err, boom)
	assert.False(t, IsFramingError(err))

	require.NoError(t, tr.Close())
	assert.True(t, p.closed)
}

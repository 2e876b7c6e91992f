package fdl

import (
	"fmt"
	"sync"
	"time"

	"avaneesh/profibus-go/pkg/internal/logger"
	"avaneesh/profibus-go/pkg/phy"
)

// Transceiver sends FDL telegrams through a PHY and parses the replies.
// Frame count bit state is passed in by the caller per station.
type Transceiver struct {
	phy    phy.Phy
	logger logger.Logger
	stats  *Statistics

	mu       sync.RWMutex
	rxFilter map[uint8]struct{} // nil accepts every address
}

// NewTransceiver creates a transceiver on top of p
func NewTransceiver(p phy.Phy, log logger.Logger) *Transceiver {
	return &Transceiver{
		phy:    p,
		logger: logger.OrNoOp(log),
		stats:  NewStatistics(),
	}
}

// SetRXFilter restricts accepted telegrams to the given destination
// addresses. An empty list accepts everything.
func (tr *Transceiver) SetRXFilter(addrs []uint8) {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	if len(addrs) == 0 {
		tr.rxFilter = nil
		return
	}
	tr.rxFilter = make(map[uint8]struct{}, len(addrs))
	for _, a := range addrs {
		tr.rxFilter[a&AddressMask] = struct{}{}
	}
}

func (tr *Transceiver) accepts(t *Telegram) bool {
	if !t.HasDestination() {
		return true
	}
	tr.mu.RLock()
	defer tr.mu.RUnlock()
	if tr.rxFilter == nil {
		return true
	}
	_, ok := tr.rxFilter[t.DA]
	return ok
}

// Send transmits t. Requests get the FCB/FCV bits of fcb stamped in; a nil
// fcb sends the bits cleared. SRD requests go out as request/reply, all
// other telegrams as send-no-reply.
func (tr *Transceiver) Send(fcb *FCB, t *Telegram) error {
	out := *t
	srd := false
	if out.IsRequest() {
		srd = IsSRDFunc(out.FC)
		out.FC = fcb.apply(out.FC, srd)
	}

	data, err := out.Serialize()
	if err != nil {
		return err
	}
	if logger.FrameDebug() {
		tr.logger.Debug("FDL TX %s % X", &out, data)
	}

	if srd {
		tr.stats.TxSRD()
		err = tr.phy.SendRequestReply(data)
	} else {
		tr.stats.TxSDN()
		err = tr.phy.SendNoReply(data)
	}
	if err != nil {
		tr.stats.PhyError()
		return fmt.Errorf("fdl send to %d failed: %w", out.DA, err)
	}
	return nil
}

// Poll waits up to timeout for one telegram. ok is false when nothing
// arrived or the telegram was dropped by the RX filter. A telegram that
// fails to parse is reported as a framing error.
func (tr *Transceiver) Poll(fcb *FCB, timeout time.Duration) (bool, *Telegram, error) {
	raw, err := tr.phy.Poll(timeout)
	if err != nil {
		tr.stats.PhyError()
		return false, nil, fmt.Errorf("fdl poll failed: %w", err)
	}
	if raw == nil {
		return false, nil, nil
	}

	t, err := Parse(raw)
	if err != nil {
		tr.stats.FramingError()
		tr.logger.Debug("FDL RX dropped % X: %v", raw, err)
		return false, nil, err
	}
	if !tr.accepts(t) {
		tr.stats.Filtered()
		return false, nil, nil
	}
	if logger.FrameDebug() {
		tr.logger.Debug("FDL RX %s", t)
	}

	tr.stats.Rx()
	fcb.handleReply()
	return true, t, nil
}

// SendSync sends t and polls once for the reply
func (tr *Transceiver) SendSync(fcb *FCB, t *Telegram, timeout time.Duration) (bool, *Telegram, error) {
	if err := tr.Send(fcb, t); err != nil {
		return false, nil, err
	}
	return tr.Poll(fcb, timeout)
}

// Statistics returns the transceiver counters
func (tr *Transceiver) Statistics() Snapshot {
	return tr.stats.Snapshot()
}

// Close releases the PHY
func (tr *Transceiver) Close() error {
	return tr.phy.Close()
}

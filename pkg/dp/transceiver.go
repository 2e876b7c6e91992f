package dp

import (
	"time"

	"avaneesh/profibus-go/pkg/fdl"
	"avaneesh/profibus-go/pkg/internal/logger"
)

// Transceiver pairs DP telegrams with an FDL transceiver
type Transceiver struct {
	fdl    *fdl.Transceiver
	logger logger.Logger
}

// NewTransceiver creates a DP transceiver
func NewTransceiver(ft *fdl.Transceiver, log logger.Logger) *Transceiver {
	return &Transceiver{fdl: ft, logger: logger.OrNoOp(log)}
}

// Fdl returns the underlying FDL transceiver
func (tr *Transceiver) Fdl() *fdl.Transceiver {
	return tr.fdl
}

// Send encodes and transmits t
func (tr *Transceiver) Send(fcb *fdl.FCB, t Telegram) error {
	ft, err := ToFdl(t)
	if err != nil {
		return err
	}
	if logger.FrameDebug() {
		tr.logger.Debug("DP TX %s", t)
	}
	return tr.fdl.Send(fcb, ft)
}

// Poll waits for one reply and decodes it
func (tr *Transceiver) Poll(fcb *fdl.FCB, timeout time.Duration) (bool, Telegram, error) {
	ok, ft, err := tr.fdl.Poll(fcb, timeout)
	if err != nil || !ok {
		return false, nil, err
	}
	t, err := FromFdl(ft)
	if err != nil {
		return false, nil, err
	}
	if logger.FrameDebug() {
		tr.logger.Debug("DP RX %s", t)
	}
	return true, t, nil
}

// SendSync sends t and polls once for the reply
func (tr *Transceiver) SendSync(fcb *fdl.FCB, t Telegram, timeout time.Duration) (bool, Telegram, error) {
	if err := tr.Send(fcb, t); err != nil {
		return false, nil, err
	}
	return tr.Poll(fcb, timeout)
}

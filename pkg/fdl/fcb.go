package fdl

// FCB is the frame count bit context of one remote station.
// It is owned by the record of the station it belongs to and is not safe
// for concurrent use.
type FCB struct {
	fcb          bool
	fcv          bool
	waitingReply bool
	enabled      bool
}

// NewFCB creates a context in reset state with tracking disabled
func NewFCB() *FCB {
	f := &FCB{}
	f.Reset()
	return f
}

// Reset seeds FCB=1, FCV=0 and closes any open reply window
func (f *FCB) Reset() {
	f.fcb = true
	f.fcv = false
	f.waitingReply = false
}

// Enable switches frame count bit tracking on or off
func (f *FCB) Enable(enabled bool) {
	f.enabled = enabled
}

// Enabled reports whether tracking is on
func (f *FCB) Enabled() bool {
	return f.enabled
}

// Bit returns the current frame count bit
func (f *FCB) Bit() bool {
	return f.fcb
}

// Valid returns the current frame count valid bit
func (f *FCB) Valid() bool {
	return f.fcv
}

// WaitingReply reports whether an SRD request is awaiting its reply
func (f *FCB) WaitingReply() bool {
	return f.waitingReply
}

func (f *FCB) next() {
	f.fcb = !f.fcb
	f.fcv = true
	f.waitingReply = false
}

// apply stamps the FCB/FCV bits into a request frame control byte and
// advances the context. SRD requests keep the bit until the reply arrives.
func (f *FCB) apply(fc uint8, srd bool) uint8 {
	fc &^= FCFCB | FCFCV
	if f == nil || !f.enabled {
		return fc
	}
	if f.fcb {
		fc |= FCFCB
	}
	if f.fcv {
		fc |= FCFCV
	}
	if srd {
		f.waitingReply = true
	} else {
		f.next()
	}
	return fc
}

// handleReply closes the duplicate detection window after a valid reply
func (f *FCB) handleReply() {
	if f != nil && f.waitingReply {
		f.next()
	}
}

package master

import (
	"fmt"
	"time"
)

// Class is the DP master class
type Class int

const (
	DPM1 Class = 1 // Class 1: cyclic I/O
	DPM2 Class = 2 // Class 2: engineering and diagnosis
)

// String returns string representation of Class
func (c Class) String() string {
	switch c {
	case DPM1:
		return "DPM1"
	case DPM2:
		return "DPM2"
	default:
		return fmt.Sprintf("Class(%d)", int(c))
	}
}

// Config configures a DP master
type Config struct {
	// Identity
	ID         string
	Class      Class
	MasterAddr uint8

	// Scheduler
	ReplyTimeout   time.Duration // Reply wait per scheduled request
	DxReadyTimeout time.Duration // Time allowed in WaitDxReady
	DiagRetries    int           // Data exchange failures tolerated before a diagnosis read
	ReinitRetries  int           // Data exchange failures tolerated before re-initialization

	// Blocking bring-up (InitializeSlave)
	StatusProbeLimit    time.Duration // Overall limit of the FDL status probe
	StatusProbeInterval time.Duration // Reply wait and pause between probes
	DiagLimit           time.Duration // Overall limit of the first diagnosis read
	PrmCfgTimeout       time.Duration // Reply wait for Set_Prm and Chk_Cfg
	FinalDiagLimit      time.Duration // Overall limit of the final diagnosis read
}

// NoRetries sets DiagRetries or ReinitRetries to act on the first failure.
// A zero retry count selects the default.
const NoRetries = -1

// DefaultConfig returns a configuration with the standard timings
func DefaultConfig() Config {
	return Config{
		ID:                  "dpm",
		Class:               DPM1,
		MasterAddr:          1,
		ReplyTimeout:        100 * time.Millisecond,
		DxReadyTimeout:      1 * time.Second,
		DiagRetries:         2,
		ReinitRetries:       4,
		StatusProbeLimit:    5 * time.Second,
		StatusProbeInterval: 100 * time.Millisecond,
		DiagLimit:           5 * time.Second,
		PrmCfgTimeout:       300 * time.Millisecond,
		FinalDiagLimit:      1 * time.Second,
	}
}

// withDefaults fills zero values from DefaultConfig. Negative retry counts
// become zero.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.ID == "" {
		c.ID = d.ID
	}
	if c.Class == 0 {
		c.Class = d.Class
	}
	if c.ReplyTimeout == 0 {
		c.ReplyTimeout = d.ReplyTimeout
	}
	if c.DxReadyTimeout == 0 {
		c.DxReadyTimeout = d.DxReadyTimeout
	}
	c.DiagRetries = retriesOrDefault(c.DiagRetries, d.DiagRetries)
	c.ReinitRetries = retriesOrDefault(c.ReinitRetries, d.ReinitRetries)
	if c.StatusProbeLimit == 0 {
		c.StatusProbeLimit = d.StatusProbeLimit
	}
	if c.StatusProbeInterval == 0 {
		c.StatusProbeInterval = d.StatusProbeInterval
	}
	if c.DiagLimit == 0 {
		c.DiagLimit = d.DiagLimit
	}
	if c.PrmCfgTimeout == 0 {
		c.PrmCfgTimeout = d.PrmCfgTimeout
	}
	if c.FinalDiagLimit == 0 {
		c.FinalDiagLimit = d.FinalDiagLimit
	}
	return c
}

func retriesOrDefault(n, def int) int {
	switch {
	case n == 0:
		return def
	case n < 0:
		return 0
	}
	return n
}

package profibus

import (
	"fmt"

	"avaneesh/profibus-go/pkg/internal/logger"
	"avaneesh/profibus-go/pkg/phy"
)

// OpenSerialPhy opens a communication processor attached to a serial
// device
func OpenSerialPhy(serialConfig phy.SerialConfig, config phy.CpPhyConfig) (*phy.CpPhy, error) {
	port, err := phy.OpenSerialPort(serialConfig)
	if err != nil {
		return nil, err
	}
	return openCpPhy(port, config)
}

// DialTCPPhy opens a communication processor behind a serial server
func DialTCPPhy(tcpConfig phy.TCPPortConfig, config phy.CpPhyConfig) (*phy.CpPhy, error) {
	port, err := phy.DialTCPPort(tcpConfig)
	if err != nil {
		return nil, err
	}
	return openCpPhy(port, config)
}

// DialQUICPhy opens a communication processor attached to a remote QUIC
// gateway
func DialQUICPhy(quicConfig phy.QUICPortConfig, config phy.CpPhyConfig) (*phy.CpPhy, error) {
	if quicConfig.IsServer {
		return nil, fmt.Errorf("QUIC PHY must dial the gateway")
	}
	port, err := phy.NewQUICPort(quicConfig)
	if err != nil {
		return nil, err
	}
	return openCpPhy(port, config)
}

func openCpPhy(port phy.Port, config phy.CpPhyConfig) (*phy.CpPhy, error) {
	// NewCpPhy closes the port when the handshake fails
	p, err := phy.NewCpPhy(port, config, logger.GetDefault())
	if err != nil {
		return nil, fmt.Errorf("failed to open CP-PHY: %w", err)
	}
	return p, nil
}

package lockin

import (
	"net"
	"strconv"
	"time"

	"github.com/gotmc/prologix"
	"github.com/nasa-jpl/cryosweep/scpi"
	"github.com/pkg/errors"
	"go.bug.st/serial"
)

const (
	prologixBaud     = 115200
	prologixEthPort  = "1234"
	prologixDialTime = 3 * time.Second
	readTimeout      = 2 * time.Second

	// the SR830 buffers about 20 commands; GPIB bridges without flow control
	// overrun it above this rate
	bridgeRate = 20

	rs232Baud = 9600
)

// OpenGPIB opens a Prologix GPIB-USB controller on the virtual COM port
// portName and addresses the lock-in at GPIB address addr
func OpenGPIB(portName string, addr int) (*SR830, error) {
	port, err := serial.Open(portName, &serial.Mode{BaudRate: prologixBaud})
	if err != nil {
		return nil, errors.Wrapf(err, "opening %s", portName)
	}
	if err = port.SetReadTimeout(readTimeout); err != nil {
		port.Close()
		return nil, err
	}
	ctl, err := prologix.NewController(port, addr, true)
	if err != nil {
		port.Close()
		return nil, errors.Wrapf(err, "configuring prologix on %s", portName)
	}
	return NewSR830(ctl, port), nil
}

// OpenPrologixEthernet connects to a Prologix GPIB-Ethernet controller at host
// and addresses the lock-in at GPIB address addr
func OpenPrologixEthernet(host string, addr int) (*SR830, error) {
	conn, err := net.DialTimeout("tcp", net.JoinHostPort(host, prologixEthPort), prologixDialTime)
	if err != nil {
		return nil, errors.Wrapf(err, "dialing prologix at %s", host)
	}
	ctl, err := prologix.NewController(conn, addr, true)
	if err != nil {
		conn.Close()
		return nil, errors.Wrapf(err, "configuring prologix at %s", host)
	}
	return NewSR830(ctl, conn), nil
}

// OpenTCP addresses a lock-in behind a transparent GPIB-Ethernet bridge at
// addr (host:port).  Connections are pooled and opened lazily.
func OpenTCP(addr string) *SR830 {
	return NewSR830(scpi.New(addr, bridgeRate), nil)
}

// OpenSerial addresses a lock-in on its own RS232 port.  Responses are
// directed to the serial interface (OUTX 0) before it is returned.
func OpenSerial(portName string) (*SR830, error) {
	s := NewSR830(scpi.NewSerial(portName, rs232Baud, '\r', bridgeRate), nil)
	if err := s.command("OUTX 0"); err != nil {
		return nil, errors.Wrapf(err, "opening %s", portName)
	}
	return s, nil
}

// Open dispatches on kind, one of "gpib", "prologix-eth", "tcp", "serial"
// or "mock"
func Open(kind, addr string, gpibAddr int) (Instrument, error) {
	switch kind {
	case "serial":
		return OpenSerial(addr)
	case "gpib":
		return OpenGPIB(addr, gpibAddr)
	case "prologix-eth":
		return OpenPrologixEthernet(addr, gpibAddr)
	case "tcp":
		return OpenTCP(addr), nil
	case "mock", "":
		return NewMock(), nil
	default:
		return nil, errors.Errorf("unknown lock-in kind %s", strconv.Quote(kind))
	}
}

// Package scpi provides primitives for working with devices that
// have SCPI-like (IEEE 488.2) ASCII interfaces over TCP or RS232, such as
// lock-ins behind a GPIB-Ethernet bridge
package scpi

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/nasa-jpl/cryosweep/comm"
	"github.com/pkg/errors"
	"github.com/tarm/serial"
	"golang.org/x/time/rate"
)

const (
	timeout = 5 * time.Second

	tcpFrameSize = 1500

	// standard event status bits for query, execution and command errors
	esrErrorMask = 1<<2 | 1<<4 | 1<<5
)

// SCPI is a type for encapsulating SCPI communication
type SCPI struct {
	Pool *comm.Pool

	// Handshaking indicates if the communication shall use handshaking,
	// where the standard event status register is queried after every write
	// to ensure the device accepted the input
	Handshaking bool

	// Limiter paces transactions; GPIB bridges drop commands that arrive
	// back to back.  nil means unlimited
	Limiter *rate.Limiter

	// RxTerm ends every response, '\n' if zero
	RxTerm byte
}

// New returns an SCPI communicator holding one backing-off TCP connection
// to addr, paced to at most perSecond transactions per second
func New(addr string, perSecond float64) *SCPI {
	maker := comm.BackingOffTCPConnMaker(addr, timeout)
	s := &SCPI{Pool: comm.NewPool(1, 30*time.Second, maker)}
	if perSecond > 0 {
		s.Limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
	}
	return s
}

// NewSerial returns an SCPI communicator on the serial port name at baud,
// 8N1, with responses ending in rx
func NewSerial(name string, baud int, rx byte, perSecond float64) *SCPI {
	maker := comm.SerialConnMaker(&serial.Config{Name: name, Baud: baud, ReadTimeout: timeout})
	s := &SCPI{Pool: comm.NewPool(1, 30*time.Second, maker), RxTerm: rx}
	if perSecond > 0 {
		s.Limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
	}
	return s
}

func (s *SCPI) pace() error {
	if s.Limiter == nil {
		return nil
	}
	return s.Limiter.Wait(context.Background())
}

func (s *SCPI) exchange(query bool, cmds ...string) (resp []byte, err error) {
	if err = s.pace(); err != nil {
		return nil, err
	}
	conn, err := s.Pool.Get()
	if err != nil {
		return nil, err
	}
	defer func() { s.Pool.ReturnWithError(conn, err) }()
	var wrap io.ReadWriter
	rx := s.RxTerm
	if rx == 0 {
		rx = '\n'
	}
	wrap = comm.NewTerminator(conn, '\n', rx)
	wrap, err = comm.NewTimeout(wrap, timeout)
	if err != nil {
		return nil, err
	}
	str := strings.Join(cmds, " ")
	_, err = io.WriteString(wrap, str)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, tcpFrameSize)
	if query {
		var n int
		n, err = wrap.Read(buf)
		if err != nil {
			return nil, err
		}
		resp = append([]byte{}, buf[:n]...)
	}
	if s.Handshaking {
		_, err = io.WriteString(wrap, "*ESR?")
		if err != nil {
			return resp, err
		}
		var n int
		n, err = wrap.Read(buf)
		if err != nil {
			return resp, err
		}
		esr, perr := strconv.Atoi(strings.TrimSpace(string(buf[:n])))
		if perr != nil {
			// garbage on the line; drop the connection
			err = errors.Wrapf(perr, "handshake response %q", buf[:n])
			return resp, err
		}
		if esr&esrErrorMask != 0 {
			return resp, fmt.Errorf("device rejected %q, event status %d", str, esr)
		}
	}
	return resp, nil
}

// Write sends a command to the device.  if s.Handshaking == true,
// it also requests the event status and checks that it is OK
// it is assumed this is used for set operations and not get.
func (s *SCPI) Write(cmds ...string) error {
	_, err := s.exchange(false, cmds...)
	return err
}

// WriteRead is write, but with a read call after.  It is assumed that "get"
// calls use this underlying mechanism
func (s *SCPI) WriteRead(cmds ...string) ([]byte, error) {
	return s.exchange(true, cmds...)
}

// ReadString sends a command to the device, the reads the response
// and returns it as a decoded ASCII or UTF-8 string
func (s *SCPI) ReadString(cmds ...string) (string, error) {
	resp, err := s.WriteRead(cmds...)
	if err != nil {
		return "", err
	}
	return strings.TrimRight(string(resp), "\r\n"), nil
}

// ReadFloat sends a command to the device, then reads the
// response and parses it as a floating point value
func (s *SCPI) ReadFloat(cmds ...string) (float64, error) {
	resp, err := s.ReadString(cmds...)
	if err != nil {
		return 0, err
	}
	return strconv.ParseFloat(resp, 64)
}

// ReadFloats sends a command to the device, then reads the response and
// parses it as a comma separated list of floats
func (s *SCPI) ReadFloats(cmds ...string) ([]float64, error) {
	resp, err := s.ReadString(cmds...)
	if err != nil {
		return nil, err
	}
	pieces := strings.Split(resp, ",")
	out := make([]float64, len(pieces))
	for i, p := range pieces {
		out[i], err = strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, errors.Wrapf(err, "parsing %q", resp)
		}
	}
	return out, nil
}

// ReadBool sends a command to the device, then reads the
// response and parses it as a boolean
func (s *SCPI) ReadBool(cmds ...string) (bool, error) {
	resp, err := s.ReadString(cmds...)
	if err != nil {
		return false, err
	}
	return strconv.ParseBool(resp)
}

// ReadInt sends a command to the device, then reads the
// response and parses it as an integer
func (s *SCPI) ReadInt(cmds ...string) (int, error) {
	resp, err := s.ReadString(cmds...)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(resp)
}

// Command formats a command and writes it
func (s *SCPI) Command(format string, a ...interface{}) error {
	return s.Write(fmt.Sprintf(format, a...))
}

// Query writes cmd and returns the response without its terminator
func (s *SCPI) Query(cmd string) (string, error) {
	return s.ReadString(cmd)
}

package cryostat

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/nasa-jpl/cryosweep/comm"
	"github.com/pkg/errors"
	"github.com/tarm/serial"
)

// ErrRemote is returned when the bridge answers a command with ERR
var ErrRemote = errors.New("bridge error")

// Client talks to a MultiVu bridge.  It is safe for concurrent use.
type Client struct {
	rd *comm.RemoteDevice

	// Poll is the status poll period used by WaitFor
	Poll time.Duration
}

// NewClient returns a Client for the bridge at addr, a host:port or, when
// serial is true, a serial port path at 9600 baud.  The connection is opened
// on first use.
func NewClient(addr string, serialPort bool) *Client {
	var cfg *serial.Config
	if serialPort {
		cfg = &serial.Config{Name: addr, Baud: 9600, ReadTimeout: 3 * time.Second}
	}
	term := &comm.Terminators{Rx: '\n', Tx: '\n'}
	return &Client{rd: comm.NewRemoteDevice(addr, serialPort, term, cfg), Poll: DefaultPoll}
}

func (c *Client) exchange(cmd string) (string, error) {
	c.rd.Lock()
	defer c.rd.Unlock()
	err := c.rd.Open()
	if err != nil {
		return "", errors.Wrapf(err, "opening cryostat bridge at %s", c.rd.Addr)
	}
	resp, err := c.rd.SendRecv([]byte(cmd))
	if err != nil {
		// the stream may be out of step; start over on the next exchange
		c.rd.Close()
		return "", errors.Wrapf(err, "cryostat %s", cmd)
	}
	c.rd.CloseEventually()
	str := strings.TrimSpace(string(resp))
	if strings.HasPrefix(str, "ERR") {
		return "", errors.Wrapf(ErrRemote, "%s: %s", cmd, strings.TrimSpace(strings.TrimPrefix(str, "ERR")))
	}
	return str, nil
}

func (c *Client) command(format string, a ...interface{}) error {
	cmd := fmt.Sprintf(format, a...)
	resp, err := c.exchange(cmd)
	if err != nil {
		return err
	}
	if resp != "OK" {
		return errors.Errorf("cryostat %s: unexpected response %q", cmd, resp)
	}
	return nil
}

// queryValueStatus parses a "<value>,<code>" response
func (c *Client) queryValueStatus(cmd string) (float64, int, error) {
	resp, err := c.exchange(cmd)
	if err != nil {
		return 0, 0, err
	}
	return parseValueStatus(cmd, resp)
}

func parseValueStatus(cmd, resp string) (float64, int, error) {
	pieces := strings.Split(resp, ",")
	if len(pieces) != 2 {
		return 0, 0, errors.Errorf("cryostat %s: malformed response %q", cmd, resp)
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(pieces[0]), 64)
	if err != nil {
		return 0, 0, errors.Wrapf(err, "cryostat %s: value in %q", cmd, resp)
	}
	code, err := strconv.Atoi(strings.TrimSpace(pieces[1]))
	if err != nil {
		return 0, 0, errors.Wrapf(err, "cryostat %s: status in %q", cmd, resp)
	}
	return v, code, nil
}

// Temperature returns the sample temperature in K
func (c *Client) Temperature() (float64, TemperatureStatus, error) {
	v, code, err := c.queryValueStatus("TEMP?")
	return v, TemperatureStatus(code), err
}

// Field returns the magnetic field in Oe
func (c *Client) Field() (float64, FieldStatus, error) {
	v, code, err := c.queryValueStatus("FIELD?")
	return v, FieldStatus(code), err
}

// Position returns the rotator position in degrees
func (c *Client) Position() (float64, PositionStatus, error) {
	v, code, err := c.queryValueStatus("POS?")
	return v, PositionStatus(code), err
}

// Chamber returns the chamber status
func (c *Client) Chamber() (ChamberStatus, error) {
	resp, err := c.exchange("CHAMBER?")
	if err != nil {
		return 0, err
	}
	code, err := strconv.Atoi(resp)
	if err != nil {
		return 0, errors.Wrapf(err, "cryostat CHAMBER?: malformed response %q", resp)
	}
	return ChamberStatus(code), nil
}

// SetTemperature ramps to t (K) at rate (K/min)
func (c *Client) SetTemperature(t, rate float64, approach TemperatureApproach) error {
	if err := CheckTemperature(t, rate); err != nil {
		return err
	}
	return c.command("TEMP %g,%g,%d", t, rate, approach)
}

// SetField ramps to h (Oe) at rate (Oe/s)
func (c *Client) SetField(h, rate float64, approach FieldApproach, mode FieldMode) error {
	if err := CheckField(h, rate); err != nil {
		return err
	}
	return c.command("FIELD %g,%g,%d,%d", h, rate, approach, mode)
}

// SetPosition moves the rotator to deg at speed (deg/s)
func (c *Client) SetPosition(deg, speed float64) error {
	if err := CheckPosition(deg, speed); err != nil {
		return err
	}
	return c.command("POS %g,%g", deg, speed)
}

// WaitFor polls status every c.Poll until which is stable, then sleeps delay
func (c *Client) WaitFor(ctx context.Context, which Subsystem, delay, timeout time.Duration) error {
	return waitStable(ctx, c, realClock, which, delay, timeout, c.Poll)
}

// Close the connection to the bridge
func (c *Client) Close() error {
	c.rd.Lock()
	defer c.rd.Unlock()
	return c.rd.Close()
}

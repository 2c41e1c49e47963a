/*Package comm provides interfaces and embeddable types for communication with lab hardware.

Most usages of this package will boil down to:
	1.  embed or hold a *RemoteDevice in a type that represents your hardware.
	2.  pass the right Terminators to NewRemoteDevice.  You can pass nil if the
		values are both carriage returns (this is the default provided by Package comm)
	3.  Write any methods you see fit based on this low-level communication implementation,
		locking the device around each exchange if it is shared between goroutines

A minimal example is provided below for a cryostat bridge that responds to
"TEMP?" with the current temperature, using newline terminators

	import "strconv"

	type MyBridge struct {
		*comm.RemoteDevice
	}

	func (b *MyBridge) ReadTemp() (float64, error) {
		b.Lock()
		defer b.Unlock()
		err := b.Open()
		if err != nil {
			return 0, err
		}
		defer b.CloseEventually()
		resp, err := b.SendRecv([]byte("TEMP?"))
		if err != nil {
			return 0, err
		}
		return strconv.ParseFloat(string(resp), 64)
	}
*/
package comm

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/tarm/serial"
)

var (
	terminator = byte('\r')

	// ErrNoSerialConf is generated when IsSerial is true but no serial.Config was given
	ErrNoSerialConf = errors.New("device has IsSerial=true but no serial configuration")

	// ErrNotConnected is generated when .Conn is nil and Send or Recv is called.
	ErrNotConnected = errors.New("conn is nil, not connected to remote")

	// ErrTerminatorNotFound is generated when the termination byte is not found in a response
	ErrTerminatorNotFound = errors.New("termination byte not found")
)

// Terminators holds the transmission and receipt termination bytes
type Terminators struct {
	Rx byte
	Tx byte
}

/*RemoteDevice has an address and can Open, Send, Recv and Close.

RemoteDevice embeds a mutex.  It does not lock itself; the type built on top
of it decides how large a critical section is (usually one command/response).
*/
type RemoteDevice struct {
	sync.Mutex

	// Addr is a host:port for TCP devices or a path like /dev/ttyUSB0 for serial ones
	Addr string

	// IsSerial selects between serial.OpenPort and a TCP dial
	IsSerial bool

	// Conn is the live connection, nil when closed
	Conn io.ReadWriteCloser

	// Timeout is used for the TCP dial and read/write deadlines
	Timeout time.Duration

	term   Terminators
	serCfg *serial.Config
	reader *bufio.Reader
}

// NewRemoteDevice creates a new RemoteDevice instance.  term may be nil to use
// carriage returns in both directions.  serCfg is only used if serial is true.
func NewRemoteDevice(addr string, serial bool, term *Terminators, serCfg *serial.Config) *RemoteDevice {
	if term == nil {
		term = &Terminators{Rx: terminator, Tx: terminator}
	}
	return &RemoteDevice{
		Addr:     addr,
		IsSerial: serial,
		Timeout:  3 * time.Second,
		term:     *term,
		serCfg:   serCfg}
}

// Open the connection, setting the Conn variable.  Open is a no-op if the
// device is already connected.
func (rd *RemoteDevice) Open() error {
	if rd.Conn != nil {
		return nil
	}
	// exponential backoff, bridges running on small PCs do not like being
	// connection thrashed
	wasTimeout := false
	op := func() error {
		err := rd.open()
		if err != nil {
			errS := strings.ToLower(err.Error())
			if strings.Contains(errS, "refused") {
				return backoff.Permanent(err)
			}
			wasTimeout = true
			return err
		}
		wasTimeout = false
		return nil
	}

	err := backoff.Retry(op, &backoff.ExponentialBackOff{
		InitialInterval:     25 * time.Millisecond,
		RandomizationFactor: 0.,
		Multiplier:          2.,
		MaxInterval:         1 * time.Second,
		MaxElapsedTime:      3 * time.Second,
		Clock:               backoff.SystemClock})
	if err == nil {
		return nil
	}
	if wasTimeout {
		return fmt.Errorf("connection timeout to %s: %w", rd.Addr, err)
	}
	return err
}

func (rd *RemoteDevice) open() error {
	var (
		err  error
		conn io.ReadWriteCloser
	)
	if rd.IsSerial {
		if rd.serCfg == nil {
			return ErrNoSerialConf
		}
		conn, err = serial.OpenPort(rd.serCfg)
	} else {
		conn, err = net.DialTimeout("tcp", rd.Addr, rd.Timeout)
	}
	if err != nil {
		return err
	}
	rd.Conn = conn
	rd.reader = bufio.NewReader(conn)
	return nil
}

// Close the connection, nil-ing the Conn variable
func (rd *RemoteDevice) Close() error {
	if rd.Conn == nil {
		return nil
	}
	err := rd.Conn.Close()
	rd.Conn = nil
	rd.reader = nil
	return err
}

// CloseEventually closes the connection if the last exchange left it in a bad
// state.  Healthy connections are kept open for the next exchange.
func (rd *RemoteDevice) CloseEventually() {
	if rd.reader != nil && rd.reader.Buffered() > 0 {
		rd.Close()
	}
}

// TxTerminator returns the transmission termination byte
func (rd *RemoteDevice) TxTerminator() byte {
	return rd.term.Tx
}

// RxTerminator returns the receipt termination byte
func (rd *RemoteDevice) RxTerminator() byte {
	return rd.term.Rx
}

func (rd *RemoteDevice) deadline() {
	if c, ok := rd.Conn.(net.Conn); ok && rd.Timeout > 0 {
		c.SetDeadline(time.Now().Add(rd.Timeout))
	}
}

// Send writes data to the remote after appending the Tx terminator
func (rd *RemoteDevice) Send(b []byte) error {
	if rd.Conn == nil {
		return ErrNotConnected
	}
	rd.deadline()
	msg := make([]byte, 0, len(b)+1)
	msg = append(msg, b...)
	msg = append(msg, rd.TxTerminator())
	_, err := rd.Conn.Write(msg)
	return err
}

// Recv recieves data from the remote and strips the Rx terminator
func (rd *RemoteDevice) Recv() ([]byte, error) {
	if rd.Conn == nil {
		return nil, ErrNotConnected
	}
	rd.deadline()
	term := rd.RxTerminator()
	buf, err := rd.reader.ReadBytes(term)
	if err != nil {
		return []byte{}, err
	}
	if bytes.HasSuffix(buf, []byte{term}) {
		return bytes.TrimRight(buf[:len(buf)-1], "\r\n"), nil
	}
	return buf, ErrTerminatorNotFound
}

// SendRecv sends a buffer after appending the Tx terminator,
// then returns the response with the Rx terminator stripped
func (rd *RemoteDevice) SendRecv(b []byte) ([]byte, error) {
	err := rd.Send(b)
	if err != nil {
		return []byte{}, err
	}
	return rd.Recv()
}


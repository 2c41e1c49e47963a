package scpi_test

import (
	"bufio"
	"fmt"
	"net"
	"strings"
	"testing"

	"github.com/nasa-jpl/cryosweep/scpi"
)

// fakeLockin answers a handful of SR830 queries and tracks the event status
func fakeLockin(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal("could not listen, test aborted:", err)
	}
	t.Cleanup(func() { ln.Close() })
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				defer c.Close()
				esr := 0
				r := bufio.NewReader(c)
				for {
					line, err := r.ReadString('\n')
					if err != nil {
						return
					}
					line = strings.TrimSpace(line)
					switch {
					case line == "*ESR?":
						fmt.Fprintf(c, "%d\n", esr)
						esr = 0
					case line == "SNAP?1,2":
						fmt.Fprint(c, "5.0e-05,1.0e-06\n")
					case line == "FREQ?":
						fmt.Fprint(c, "777.7\n")
					case line == "SYNC?":
						fmt.Fprint(c, "1\n")
					case line == "OFSL?":
						fmt.Fprint(c, "3\n")
					case strings.HasPrefix(line, "BOGUS"):
						esr |= 1 << 5
					}
				}
			}(conn)
		}
	}()
	return ln.Addr().String()
}

func TestReadFloat(t *testing.T) {
	s := scpi.New(fakeLockin(t), 0)
	f, err := s.ReadFloat("FREQ?")
	if err != nil {
		t.Fatal(err)
	}
	if f != 777.7 {
		t.Errorf("expected 777.7, got %f", f)
	}
}

func TestReadFloats(t *testing.T) {
	s := scpi.New(fakeLockin(t), 0)
	fs, err := s.ReadFloats("SNAP?1,2")
	if err != nil {
		t.Fatal(err)
	}
	if len(fs) != 2 || fs[0] != 5e-5 || fs[1] != 1e-6 {
		t.Errorf("expected [5e-5 1e-6], got %v", fs)
	}
}

func TestReadIntAndBool(t *testing.T) {
	s := scpi.New(fakeLockin(t), 100)
	i, err := s.ReadInt("OFSL?")
	if err != nil {
		t.Fatal(err)
	}
	if i != 3 {
		t.Errorf("expected 3, got %d", i)
	}
	b, err := s.ReadBool("SYNC?")
	if err != nil {
		t.Fatal(err)
	}
	if !b {
		t.Error("expected true")
	}
}

func TestHandshakingRejectsBadCommand(t *testing.T) {
	s := scpi.New(fakeLockin(t), 0)
	s.Handshaking = true
	if err := s.Write("SLVL 0.1"); err != nil {
		t.Errorf("expected accepted command, got %v", err)
	}
	if err := s.Write("BOGUS 1"); err == nil {
		t.Error("expected rejected command to error")
	}
}

func TestCommandAndQuery(t *testing.T) {
	s := scpi.New(fakeLockin(t), 0)
	if err := s.Command("SLVL %.3f", 0.1); err != nil {
		t.Fatal(err)
	}
	resp, err := s.Query("FREQ?")
	if err != nil {
		t.Fatal(err)
	}
	if resp != "777.7" {
		t.Errorf("expected 777.7, got %q", resp)
	}
}

func TestCarriageReturnResponses(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal("could not listen, test aborted:", err)
	}
	defer ln.Close()
	go func() {
		c, err := ln.Accept()
		if err != nil {
			return
		}
		defer c.Close()
		r := bufio.NewReader(c)
		for {
			if _, err := r.ReadString('\n'); err != nil {
				return
			}
			fmt.Fprint(c, "777.7\r")
		}
	}()
	s := scpi.New(ln.Addr().String(), 0)
	s.RxTerm = '\r'
	f, err := s.ReadFloat("FREQ?")
	if err != nil {
		t.Fatal(err)
	}
	if f != 777.7 {
		t.Errorf("expected 777.7, got %v", f)
	}
}

func TestSerialMissingPort(t *testing.T) {
	s := scpi.NewSerial("/dev/does-not-exist-cryosweep", 9600, '\r', 0)
	if _, err := s.ReadString("*IDN?"); err == nil {
		t.Error("expected opening a missing serial port to fail")
	}
}

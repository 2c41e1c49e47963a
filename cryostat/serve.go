package cryostat

import (
	"bufio"
	"fmt"
	"log"
	"net"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

var errClosed = errors.New("cryostat connection closed")

// Serve accepts connections on ln and answers the bridge line protocol from c.
// It returns when ln is closed.
func Serve(ln net.Listener, c Controller) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return err
		}
		go serveConn(conn, c)
	}
}

func serveConn(conn net.Conn, c Controller) {
	defer conn.Close()
	scan := bufio.NewScanner(conn)
	for scan.Scan() {
		line := strings.TrimSpace(scan.Text())
		if line == "" {
			continue
		}
		resp := handle(c, line)
		if _, err := fmt.Fprintf(conn, "%s\n", resp); err != nil {
			log.Printf("cryostat bridge: write to %s failed: %v", conn.RemoteAddr(), err)
			return
		}
	}
}

func handle(c Controller, line string) string {
	verb, args := line, ""
	if i := strings.IndexByte(line, ' '); i >= 0 {
		verb, args = line[:i], strings.TrimSpace(line[i+1:])
	}
	switch strings.ToUpper(verb) {
	case "TEMP?":
		v, s, err := c.Temperature()
		return valueStatus(v, int(s), err)
	case "FIELD?":
		v, s, err := c.Field()
		return valueStatus(v, int(s), err)
	case "POS?":
		v, s, err := c.Position()
		return valueStatus(v, int(s), err)
	case "CHAMBER?":
		s, err := c.Chamber()
		if err != nil {
			return "ERR " + err.Error()
		}
		return strconv.Itoa(int(s))
	case "TEMP":
		f, err := parseArgs(args, 3)
		if err != nil {
			return "ERR " + err.Error()
		}
		return ok(c.SetTemperature(f[0], f[1], TemperatureApproach(f[2])))
	case "FIELD":
		f, err := parseArgs(args, 4)
		if err != nil {
			return "ERR " + err.Error()
		}
		return ok(c.SetField(f[0], f[1], FieldApproach(f[2]), FieldMode(f[3])))
	case "POS":
		f, err := parseArgs(args, 2)
		if err != nil {
			return "ERR " + err.Error()
		}
		return ok(c.SetPosition(f[0], f[1]))
	}
	return "ERR unknown command " + strconv.Quote(verb)
}

func valueStatus(v float64, code int, err error) string {
	if err != nil {
		return "ERR " + err.Error()
	}
	return strconv.FormatFloat(v, 'g', -1, 64) + "," + strconv.Itoa(code)
}

func ok(err error) string {
	if err != nil {
		return "ERR " + err.Error()
	}
	return "OK"
}

func parseArgs(args string, n int) ([]float64, error) {
	pieces := strings.Split(args, ",")
	if len(pieces) != n {
		return nil, errors.Errorf("expected %d arguments, got %d", n, len(pieces))
	}
	out := make([]float64, n)
	for i, p := range pieces {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, errors.Errorf("argument %d: %q is not a number", i+1, p)
		}
		out[i] = f
	}
	return out, nil
}

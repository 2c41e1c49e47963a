package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/nasa-jpl/cryosweep/config"
	"github.com/nasa-jpl/cryosweep/cryostat"
	"github.com/nasa-jpl/cryosweep/datafile"
	"github.com/nasa-jpl/cryosweep/plot"
	"github.com/nasa-jpl/cryosweep/rig"
	"github.com/nasa-jpl/cryosweep/rigsrv"
	"github.com/theckman/yacspin"
)

var (
	// Version is the version number.  Typically injected via ldflags with git build
	Version = "1"

	// ConfigFileName is what it sounds like
	ConfigFileName = config.FileName
)

func root() {
	str := `cryosweep sweeps temperature, field, rotator position or drive current on a
cryostat while logging lock-in amplifier signals to MultiVu style data files.

Usage:
	cryosweep <command> [arguments]

Commands:
	run [plan.yml]
	status
	idn
	serve [plan.yml]
	bridge [addr]
	plot <file> <x column> <y column> <out.png>
	help
	mkconf
	conf
	version`
	fmt.Println(str)
}

func help() {
	str := `cryosweep is configured by cryosweep.yml in the working directory, and any
field may be overridden by an environment variable prefixed with CRYOSWEEP_,
with nested keys joined by a double underscore, e.g.
	CRYOSWEEP_CRYOSTAT__ADDR=192.168.1.20:5000
For a primer on YAML, see https://yaml.org/start.html

mkconf writes the defaults (merged with any existing file) to cryosweep.yml.

A plan is a YAML file with a list of steps run in order:
	steps:
	  - kind: temperature   # K, rate in K/min
	    end: 10
	    rate: 3
	    labels: ["Deg=:0.0"]
	  - kind: field         # Oe, rate in Oe/s
	    initial: -90000
	    end: 90000
	    rate: 80
	  - kind: position      # deg, rate in deg/s
	    end: 90
	  - kind: current       # A, rate in A/s
	    end: 1e-6
	    rate: 1e-7
	  - kind: time          # seconds, 0 runs until interrupted
	    duration: 600
	  - kind: points
	    n: 10

Without a plan file, run and serve take one point per channel.

Cryostat kinds:
	> sim     a simulated cryostat which ramps at the commanded rates
	> bridge  a MultiVu bridge server at addr (or serial port)
Lock-in kinds:
	> mock          a simulated lock-in
	> gpib          SR830 behind a Prologix GPIB-USB controller, addr is its serial port
	> prologix-eth  SR830 behind a Prologix GPIB-Ethernet controller at addr
	> tcp           an SR830 class lock-in speaking SCPI over TCP at addr
	> serial        SR830 on its own RS232 port at addr, 9600 baud

bridge serves a simulated cryostat over the bridge protocol, for testing a
bridge configuration without the hardware.`
	fmt.Println(str)
}

func loadconfig() config.Config {
	c, err := config.Load(ConfigFileName)
	if err != nil {
		log.Fatalf("error loading config: %v", err)
	}
	return c
}

func mkconf() {
	c := loadconfig()
	f, err := os.Create(ConfigFileName)
	if err != nil {
		log.Fatal(err)
	}
	defer f.Close()
	err = config.Write(f, c)
	if err != nil {
		log.Fatal(err)
	}
}

func printconf() {
	c := loadconfig()
	err := config.Write(os.Stdout, c)
	if err != nil {
		log.Fatal(err)
	}
}

func pversion() {
	fmt.Printf("cryosweep version %v\n", Version)
}

// spinner shows stabilization waits on the terminal
type spinner struct {
	s *yacspin.Spinner
}

func newSpinner() (*spinner, error) {
	s, err := yacspin.New(yacspin.Config{
		Frequency:       100 * time.Millisecond,
		CharSet:         yacspin.CharSets[14],
		Suffix:          " ",
		SuffixAutoColon: true,
		StopCharacter:   "✓",
		StopColors:      []string{"fgGreen"},
	})
	if err != nil {
		return nil, err
	}
	return &spinner{s: s}, nil
}

func (sp *spinner) Start(msg string) {
	sp.s.Message(msg)
	if err := sp.s.Start(); err != nil {
		log.Println(msg)
	}
}

func (sp *spinner) Stop(msg string) {
	sp.s.StopMessage(msg)
	if err := sp.s.Stop(); err != nil {
		log.Println(msg)
	}
}

func buildrig() *rig.Rig {
	c := loadconfig()
	r, err := rig.Build(c)
	if err != nil {
		log.Fatal(err)
	}
	if sp, err := newSpinner(); err == nil {
		r.Sweeper.Progress = sp
	}
	return r
}

func loadplan(args []string) config.Plan {
	if len(args) == 0 {
		return config.Plan{Steps: []config.Step{{Kind: config.StepPoints, N: 1}}}
	}
	p, err := config.LoadPlan(args[0])
	if err != nil {
		log.Fatal(err)
	}
	return p
}

func runplan(ctx context.Context, r *rig.Rig, p config.Plan) error {
	err := r.RunPlan(ctx, p)
	if errors.Is(err, context.Canceled) {
		log.Println("interrupted")
		return nil
	}
	return err
}

func run(ctx context.Context, args []string) {
	p := loadplan(args)
	r := buildrig()
	err := runplan(ctx, r, p)
	if cerr := r.Close(); cerr != nil {
		log.Println(cerr)
	}
	if err != nil {
		log.Fatal(err)
	}
}

func status() {
	c := loadconfig()
	cryo, err := rig.OpenCryostat(c.Cryostat)
	if err != nil {
		log.Fatal(err)
	}
	defer cryo.Close()
	fmt.Println(cryostat.Status(cryo))
}

func idn() {
	c := loadconfig()
	lockins, err := rig.OpenLockins(c.Lockins)
	if err != nil {
		log.Fatal(err)
	}
	r := &rig.Rig{Config: c, Lockins: lockins}
	for _, id := range r.Identify() {
		fmt.Println(id)
	}
	for _, l := range lockins {
		l.Close()
	}
}

func serve(ctx context.Context, args []string) {
	r := buildrig()
	defer r.Close()
	c := r.Config
	srv := rigsrv.Server{
		Cryostat:        r.Cryostat,
		Latest:          r.Recorder,
		History:         r.History,
		Lock:            r.Lock,
		DataDir:         c.Output.Dir,
		TemperatureRate: c.HTTP.TemperatureRate,
		FieldRate:       c.HTTP.FieldRate,
	}
	if r.Metrics != nil {
		srv.Gatherer = r.Metrics
	}
	hs := &http.Server{Addr: c.HTTP.Addr, Handler: srv.Handler()}
	go func() {
		log.Println("now listening for requests at ", c.HTTP.Addr)
		if err := hs.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal(err)
		}
	}()
	if len(args) > 0 {
		if err := runplan(ctx, r, loadplan(args)); err != nil {
			log.Println(err)
		}
	}
	<-ctx.Done()
	shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	hs.Shutdown(shutdown)
}

func bridge(ctx context.Context, args []string) {
	addr := ":5000"
	if len(args) > 0 {
		addr = args[0]
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		log.Fatal(err)
	}
	go func() {
		<-ctx.Done()
		ln.Close()
	}()
	log.Println("serving a simulated cryostat at ", ln.Addr())
	err = cryostat.Serve(ln, cryostat.NewSim())
	if ctx.Err() == nil {
		log.Fatal(err)
	}
}

func plotfile(args []string) {
	if len(args) != 4 {
		log.Fatal("usage: cryosweep plot <file> <x column> <y column> <out.png>")
	}
	if err := plot.File(args[0], args[1], args[2], args[3]); err != nil {
		log.Fatal(err)
	}
}

func main() {
	args := os.Args
	if len(args) == 1 {
		root()
		return
	}
	datafile.AppVersion = Version
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	cmd := strings.ToLower(args[1])
	rest := args[2:]
	switch cmd {
	case "run":
		run(ctx, rest)
	case "status":
		status()
	case "idn":
		idn()
	case "serve":
		serve(ctx, rest)
	case "bridge":
		bridge(ctx, rest)
	case "plot":
		plotfile(rest)
	case "help":
		help()
	case "mkconf":
		mkconf()
	case "conf":
		printconf()
	case "version":
		pversion()
	default:
		log.Fatal("unknown command")
	}
}

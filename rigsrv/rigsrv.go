// Package rigsrv exposes the rig over HTTP: the latest point, the recent
// history, cryostat setpoints, the rig lock, recorded data files with plots
// of them, and metrics.
package rigsrv

import (
	"bytes"
	"encoding/json"
	"net/http"
	"path/filepath"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/nasa-jpl/cryosweep/cryostat"
	"github.com/nasa-jpl/cryosweep/datafile"
	"github.com/nasa-jpl/cryosweep/envsrv"
	"github.com/nasa-jpl/cryosweep/generichttp"
	"github.com/nasa-jpl/cryosweep/generichttp/thermal"
	"github.com/nasa-jpl/cryosweep/plot"
	"github.com/nasa-jpl/cryosweep/recorder"
	"github.com/nasa-jpl/cryosweep/server"
	"github.com/nasa-jpl/cryosweep/server/middleware/locker"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Latest provides the most recent point
type Latest interface {
	Last() (recorder.Point, bool)
}

// Server holds what the routes need.  Nil parts leave their routes out.
type Server struct {
	Cryostat cryostat.Controller
	Latest   Latest
	History  *envsrv.Envmon
	Lock     *locker.Locker

	// DataDir is served under /files
	DataDir string

	// Gatherer is served under /metrics
	Gatherer prometheus.Gatherer

	// TemperatureRate (K/min) and FieldRate (Oe/s) are used for setpoints
	// sent over HTTP
	TemperatureRate float64
	FieldRate       float64
}

// tempControl adapts a cryostat to thermal.Controller
type tempControl struct {
	c    cryostat.Controller
	rate float64
}

func (t tempControl) Temperature() (float64, error) {
	v, _, err := t.c.Temperature()
	return v, err
}

func (t tempControl) SetTemperature(k float64) error {
	return t.c.SetTemperature(k, t.rate, cryostat.FastSettle)
}

// RouteTable returns every route but /metrics and /endpoints
func (s *Server) RouteTable() generichttp.RouteTable {
	rt := generichttp.RouteTable{}
	get := func(path string) generichttp.MethodPath {
		return generichttp.MethodPath{Method: http.MethodGet, Path: path}
	}
	post := func(path string) generichttp.MethodPath {
		return generichttp.MethodPath{Method: http.MethodPost, Path: path}
	}
	if s.Latest != nil {
		rt[get("/status")] = s.status
	}
	if s.History != nil {
		rt[get("/history")] = s.History.HTTPYield
	}
	if c := s.Cryostat; c != nil {
		thermal.HTTPController(tempControl{c: c, rate: s.TemperatureRate}, "/cryostat", rt)
		rt[get("/cryostat/field")] = generichttp.GetFloat(func() (float64, error) {
			h, _, err := c.Field()
			return h, err
		})
		rt[post("/cryostat/field")] = generichttp.SetFloat(func(h float64) error {
			return c.SetField(h, s.FieldRate, cryostat.Linear, cryostat.Driven)
		})
		rt[get("/cryostat/position")] = generichttp.GetFloat(func() (float64, error) {
			p, _, err := c.Position()
			return p, err
		})
		rt[get("/cryostat/chamber")] = generichttp.GetString(func() (string, error) {
			ch, err := c.Chamber()
			return ch.String(), err
		})
		rt[get("/cryostat/status")] = generichttp.GetString(func() (string, error) {
			return cryostat.Status(c), nil
		})
	}
	if s.Lock != nil {
		locker.Inject(rt, "", s.Lock)
	}
	if s.DataDir != "" {
		rt[get("/files/{name}")] = func(w http.ResponseWriter, r *http.Request) {
			server.ReplyWithFile(w, r, chi.URLParam(r, "name"), s.DataDir)
		}
		rt[get("/plot/{name}")] = s.plot
	}
	return rt
}

// plot renders columns x and y of a data file, given as query parameters
func (s *Server) plot(w http.ResponseWriter, r *http.Request) {
	name := filepath.Base(chi.URLParam(r, "name"))
	q := r.URL.Query()
	x, y := q.Get("x"), q.Get("y")
	if x == "" {
		x = recorder.TemperatureColumn
	}
	if y == "" {
		http.Error(w, "missing y column", http.StatusBadRequest)
		return
	}
	tbl, err := datafile.ReadFile(filepath.Join(s.DataDir, name))
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	var buf bytes.Buffer
	if err = plot.Render(&buf, tbl, x, y); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	buf.WriteTo(w)
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	p, ok := s.Latest.Last()
	if !ok {
		http.Error(w, "no point recorded yet", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	err := json.NewEncoder(w).Encode(p)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// Handler returns a chi router serving the routes.  Control routes answer
// 423 Locked while the lock is held.
func (s *Server) Handler() chi.Router {
	root := chi.NewRouter()
	root.Use(middleware.Logger)
	root.Use(middleware.Recoverer)
	if s.Lock != nil {
		root.Use(s.Lock.Check)
	}
	rt := s.RouteTable()
	rt.Bind(root)
	endpoints := rt.Endpoints()
	if s.Gatherer != nil {
		root.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.Gatherer, promhttp.HandlerOpts{}))
		endpoints = append(endpoints, "GET /metrics")
	}
	root.Get("/endpoints", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		err := json.NewEncoder(w).Encode(endpoints)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	})
	return root
}

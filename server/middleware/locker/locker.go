// Package locker provides an HTTP middleware which allows an HTTPHandler to be locked, returning 423 (locked)
package locker

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"

	"github.com/nasa-jpl/cryosweep/generichttp"
)

// Inject adds lock routes under stem to a route table
func Inject(table generichttp.RouteTable, stem string, l *Locker) {
	table[generichttp.MethodPath{Method: http.MethodGet, Path: stem + "/lock"}] = l.HTTPGet
	table[generichttp.MethodPath{Method: http.MethodPost, Path: stem + "/lock"}] = l.HTTPSet
}

// ErrBusy is returned when unlocking while a sweep holds the rig
var ErrBusy = errors.New("a sweep is running")

// Locker is a flag that behaves like a sync.Mutex without the blocking,
// and holds a list of routes to not protect.  It is safe for concurrent use.
//
// The operator's lock (Lock, Unlock, /lock) and the sweep hold (Busy) are
// separate; requests are refused while either is set.
type Locker struct {
	mu       sync.Mutex
	isLocked bool
	busy     int

	// DoNotProtect is a list of path fragments not to apply the lock to
	DoNotProtect []string
}

// New returns a new Locker with DoNotProtect prepopulated with "lock"
func New() *Locker {
	return &Locker{DoNotProtect: []string{"lock"}}
}

// Lock the locker
func (l *Locker) Lock() {
	l.mu.Lock()
	l.isLocked = true
	l.mu.Unlock()
}

// Unlock the locker.  The sweep hold is unaffected.
func (l *Locker) Unlock() {
	l.mu.Lock()
	l.isLocked = false
	l.mu.Unlock()
}

// Locked returns true if the locker is locked by the operator or a sweep
func (l *Locker) Locked() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.isLocked || l.busy > 0
}

// Sweeping returns true while a sweep holds the locker
func (l *Locker) Sweeping() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.busy > 0
}

// busyLock is the sync.Locker handed to sweeps
type busyLock struct{ l *Locker }

func (b busyLock) Lock() {
	b.l.mu.Lock()
	b.l.busy++
	b.l.mu.Unlock()
}

func (b busyLock) Unlock() {
	b.l.mu.Lock()
	if b.l.busy > 0 {
		b.l.busy--
	}
	b.l.mu.Unlock()
}

// Busy returns a sync.Locker held for the duration of a sweep.  Holding it
// locks the rig without touching the operator's lock.
func (l *Locker) Busy() sync.Locker {
	return busyLock{l}
}

// Check is an HTTP middleware that returns http.StatusLocked if Locked() is
// true for requests that change state, otherwise passes down the line
func (l *Locker) Check(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if l.Locked() && r.Method != http.MethodGet && r.Method != http.MethodHead {
			protected := true
			for _, str := range l.DoNotProtect {
				if strings.Contains(r.URL.Path, str) {
					protected = false
				}
			}
			if protected {
				http.Error(w, "rig is locked", http.StatusLocked)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// HTTPSet calls Lock or Unlock based on json:bool on the request body.
// Unlocking while a sweep runs is refused with 423.
func (l *Locker) HTTPSet(w http.ResponseWriter, r *http.Request) {
	b := generichttp.BoolT{}
	err := json.NewDecoder(r.Body).Decode(&b)
	defer r.Body.Close()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if b.Bool {
		l.Lock()
	} else {
		if l.Sweeping() {
			http.Error(w, ErrBusy.Error(), http.StatusLocked)
			return
		}
		l.Unlock()
	}
	w.WriteHeader(http.StatusOK)
}

// HTTPGet returns Locked() over HTTP as JSON
func (l *Locker) HTTPGet(w http.ResponseWriter, r *http.Request) {
	generichttp.GetBool(func() (bool, error) { return l.Locked(), nil })(w, r)
}

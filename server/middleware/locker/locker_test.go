package locker

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestCheck(t *testing.T) {
	l := New()
	h := l.Check(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	cases := []struct {
		method, path string
		locked       bool
		want         int
	}{
		{http.MethodPost, "/cryostat/field", false, http.StatusOK},
		{http.MethodPost, "/cryostat/field", true, http.StatusLocked},
		{http.MethodGet, "/cryostat/field", true, http.StatusOK},
		{http.MethodPost, "/lock", true, http.StatusOK},
	}
	for _, c := range cases {
		if c.locked {
			l.Lock()
		} else {
			l.Unlock()
		}
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(c.method, c.path, nil))
		if w.Code != c.want {
			t.Errorf("%s %s locked=%v: expected %d, got %d", c.method, c.path, c.locked, c.want, w.Code)
		}
	}
}

func TestBusyIsSeparateFromLock(t *testing.T) {
	l := New()
	h := l.Check(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	busy := l.Busy()
	busy.Lock()
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/cryostat/field", nil))
	if w.Code != http.StatusLocked {
		t.Errorf("expected 423 while a sweep holds the rig, got %d", w.Code)
	}
	w = httptest.NewRecorder()
	l.HTTPSet(w, httptest.NewRequest(http.MethodPost, "/lock", strings.NewReader(`{"bool": false}`)))
	if w.Code != http.StatusLocked || !l.Locked() {
		t.Errorf("expected unlocking during a sweep to be refused, got %d", w.Code)
	}
	l.Lock()
	busy.Unlock()
	if !l.Locked() || l.Sweeping() {
		t.Error("expected the operator lock to outlast the sweep hold")
	}
	l.Unlock()
	if l.Locked() {
		t.Error("expected the locker to be free")
	}
}

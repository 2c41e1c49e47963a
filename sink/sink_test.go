package sink

import (
	"encoding/json"
	"errors"
	"math"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/nasa-jpl/cryosweep/channel"
	"github.com/nasa-jpl/cryosweep/recorder"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

var t0 = time.Date(2024, 3, 5, 9, 0, 0, 0, time.UTC)

func point(temp float64) recorder.Point {
	return recorder.Point{
		Conditions: recorder.Conditions{Time: t0, Temperature: temp, Field: 100, Position: math.NaN()},
		Current:    1e-6,
		Channels: []recorder.ChannelReading{
			{Name: "xx23", Reading: channel.Reading{X: 5e-5, Y: 1e-6, R: 50}},
			{Name: "xy26", Reading: channel.Reading{X: 2e-6, Y: 0, R: 2}},
		},
	}
}

type fakeToken struct {
	err     error
	timeout bool
}

func (f *fakeToken) Wait() bool                     { return true }
func (f *fakeToken) WaitTimeout(time.Duration) bool { return !f.timeout }
func (f *fakeToken) Done() <-chan struct{} {
	c := make(chan struct{})
	close(c)
	return c
}
func (f *fakeToken) Error() error { return f.err }

type fakePublisher struct {
	topic   string
	payload []byte
	token   *fakeToken
}

func (f *fakePublisher) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	f.topic = topic
	f.payload = payload.([]byte)
	return f.token
}

func TestMQTTPublishesJSON(t *testing.T) {
	pub := &fakePublisher{token: &fakeToken{}}
	m := NewMQTT(pub, "lab/cryo", 0)
	if err := m.Write(point(300)); err != nil {
		t.Fatal(err)
	}
	if pub.topic != "lab/cryo" {
		t.Errorf("published to %q", pub.topic)
	}
	var decoded struct {
		Temperature float64  `json:"temperature"`
		Position    *float64 `json:"position"`
		Channels    []struct {
			Name string `json:"name"`
		} `json:"channels"`
	}
	if err := json.Unmarshal(pub.payload, &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded.Temperature != 300 || decoded.Position != nil || len(decoded.Channels) != 2 {
		t.Errorf("unexpected payload %s", pub.payload)
	}
	if err := m.Close(); err != nil {
		t.Error(err)
	}
}

func TestMQTTErrors(t *testing.T) {
	pub := &fakePublisher{token: &fakeToken{err: errors.New("broker gone")}}
	if err := NewMQTT(pub, "t", 1).Write(point(1)); err == nil {
		t.Error("expected token error to surface")
	}
	pub.token = &fakeToken{timeout: true}
	if err := NewMQTT(pub, "t", 1).Write(point(1)); err == nil {
		t.Error("expected timeout error")
	}
}

func TestSQLBatchInsert(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	s, err := NewSQL(db, "readings", 2)
	if err != nil {
		t.Fatal(err)
	}
	if err = s.Write(point(300)); err != nil {
		t.Fatal(err)
	}
	// nothing is expected yet, the first point only queues
	if err = mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}

	query := "INSERT INTO readings (ts, channel, temperature, field, position, current, x, y, resistance) VALUES " +
		"($1,$2,$3,$4,$5,$6,$7,$8,$9),($10,$11,$12,$13,$14,$15,$16,$17,$18)," +
		"($19,$20,$21,$22,$23,$24,$25,$26,$27),($28,$29,$30,$31,$32,$33,$34,$35,$36)"
	mock.ExpectExec(regexp.QuoteMeta(query)).
		WithArgs(
			sqlmock.AnyArg(), "xx23", 300.0, 100.0, nil, 1e-6, 5e-5, 1e-6, 50.0,
			sqlmock.AnyArg(), "xy26", 300.0, 100.0, nil, 1e-6, 2e-6, 0.0, 2.0,
			sqlmock.AnyArg(), "xx23", 299.0, 100.0, nil, 1e-6, 5e-5, 1e-6, 50.0,
			sqlmock.AnyArg(), "xy26", 299.0, 100.0, nil, 1e-6, 2e-6, 0.0, 2.0,
		).
		WillReturnResult(sqlmock.NewResult(0, 4))
	if err = s.Write(point(299)); err != nil {
		t.Fatal(err)
	}
	if err = mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %s", err)
	}
}

func TestSQLFlushOnClose(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	s, _ := NewSQL(db, "readings", 100)
	s.Write(point(4))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO readings")).WillReturnError(errors.New("disk full"))
	mock.ExpectClose()
	if err = s.Close(); err == nil {
		t.Error("expected the insert error from Close")
	}
	if err = mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %s", err)
	}
}

func TestSQLFailedInsertDropsBatch(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	s, _ := NewSQL(db, "readings", 1)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO readings")).WillReturnError(errors.New("connection reset"))
	if err = s.Write(point(4)); err == nil {
		t.Fatal("expected the insert error from Write")
	}
	// an unexpected Exec would fail here
	if err = s.Flush(); err != nil {
		t.Errorf("expected nothing left to insert, got %v", err)
	}
	if err = mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %s", err)
	}
}

func TestSQLRejectsTableName(t *testing.T) {
	db, _, _ := sqlmock.New()
	defer db.Close()
	if _, err := NewSQL(db, "readings; DROP TABLE x", 1); err == nil {
		t.Error("expected invalid table name to be rejected")
	}
}

func TestPrometheusGauges(t *testing.T) {
	reg := prometheus.NewRegistry()
	p, err := NewPrometheus(reg)
	if err != nil {
		t.Fatal(err)
	}
	p.Write(point(300))
	p.Write(point(299))
	if v := testutil.ToFloat64(p.temperature); v != 299 {
		t.Errorf("temperature gauge = %v", v)
	}
	if v := testutil.ToFloat64(p.r.WithLabelValues("xy26")); v != 2 {
		t.Errorf("resistance gauge = %v", v)
	}
	if v := testutil.ToFloat64(p.points); v != 2 {
		t.Errorf("points counter = %v", v)
	}
	if _, err = NewPrometheus(reg); err == nil {
		t.Error("expected duplicate registration to fail")
	}
}

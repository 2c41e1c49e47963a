package sink

import (
	"database/sql"
	"fmt"
	"math"
	"regexp"
	"strings"
	"sync"

	// postgres driver for OpenSQL
	_ "github.com/lib/pq"
	"github.com/nasa-jpl/cryosweep/recorder"
	"github.com/pkg/errors"
)

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_.]*$`)

// rowArgs is the number of placeholders per row
const rowArgs = 9

// SQL inserts points into a table, one row per channel per point, in batches.
// The table is
//
//	(ts timestamptz, channel text, temperature float8, field float8,
//	 position float8, current float8, x float8, y float8, resistance float8)
//
// Delivery is best effort.  The queue is cleared before each insert, so a
// failed insert drops its batch; the data files remain the record of truth.
type SQL struct {
	db    *sql.DB
	table string
	batch int

	mu      sync.Mutex
	pending []recorder.Point
}

// NewSQL returns a sink writing to table in db, flushing every batch points
func NewSQL(db *sql.DB, table string, batch int) (*SQL, error) {
	if !tableName.MatchString(table) {
		return nil, errors.Errorf("invalid table name %q", table)
	}
	if batch < 1 {
		batch = 1
	}
	return &SQL{db: db, table: table, batch: batch}, nil
}

// OpenSQL connects to a postgres (or TimescaleDB) database with dsn
func OpenSQL(dsn, table string, batch int) (*SQL, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "opening database")
	}
	if err = db.Ping(); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "connecting to database")
	}
	return NewSQL(db, table, batch)
}

// Name returns "sql"
func (s *SQL) Name() string { return "sql" }

// Write queues p, inserting the queue when it is full
func (s *SQL) Write(p recorder.Point) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = append(s.pending, p)
	if len(s.pending) < s.batch {
		return nil
	}
	return s.flush()
}

// Flush inserts any queued points
func (s *SQL) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flush()
}

func nullable(f float64) sql.NullFloat64 {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: f, Valid: true}
}

func (s *SQL) flush() error {
	if len(s.pending) == 0 {
		return nil
	}
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(s.table)
	b.WriteString(" (ts, channel, temperature, field, position, current, x, y, resistance) VALUES ")

	args := make([]interface{}, 0, len(s.pending)*rowArgs)
	rows := 0
	for _, p := range s.pending {
		for _, c := range p.Channels {
			if rows > 0 {
				b.WriteString(",")
			}
			b.WriteString("(")
			for i := 0; i < rowArgs; i++ {
				if i > 0 {
					b.WriteString(",")
				}
				fmt.Fprintf(&b, "$%d", len(args)+i+1)
			}
			b.WriteString(")")
			args = append(args,
				p.Time,
				c.Name,
				nullable(p.Temperature),
				nullable(p.Field),
				nullable(p.Position),
				nullable(p.Current),
				nullable(c.X),
				nullable(c.Y),
				nullable(c.R),
			)
			rows++
		}
	}
	// dropped on failure; retrying would resend rows that may have landed
	s.pending = s.pending[:0]
	if rows == 0 {
		return nil
	}
	_, err := s.db.Exec(b.String(), args...)
	return errors.Wrapf(err, "inserting %d rows into %s", rows, s.table)
}

// Close inserts any queued points and closes the database
func (s *SQL) Close() error {
	err := s.Flush()
	if cerr := s.db.Close(); err == nil {
		err = cerr
	}
	return err
}

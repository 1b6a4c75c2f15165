package result

import (
	"sort"
	"time"

	"github.com/fxamacker/cbor/v2"
	"go.etcd.io/bbolt"
	"golang.org/x/xerrors"
)

var runsBucket = []byte("runs")

// ErrRunNotFound is returned by LoadRun for an unknown run id.
var ErrRunNotFound = xerrors.New("result: run not found")

// DB keeps every verification run, keyed by run id.
type DB struct {
	db *bbolt.DB
}

// OpenDB opens or creates the run database at path.
func OpenDB(path string) (*DB, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, xerrors.Errorf("result: opening run database %s: %w", path, err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(runsBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, xerrors.Errorf("result: creating bucket: %w", err)
	}
	return &DB{db: db}, nil
}

// Close releases the database file.
func (d *DB) Close() error {
	return d.db.Close()
}

// SaveRun stores the run, replacing any run with the same id.
func (d *DB) SaveRun(r *Run) error {
	buf, err := cbor.Marshal(r)
	if err != nil {
		return xerrors.Errorf("result: encoding run %s: %w", r.ID, err)
	}
	return d.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(runsBucket).Put([]byte(r.ID), buf)
	})
}

// LoadRun reads back the run with the given id.
func (d *DB) LoadRun(id string) (*Run, error) {
	var r Run
	err := d.db.View(func(tx *bbolt.Tx) error {
		buf := tx.Bucket(runsBucket).Get([]byte(id))
		if buf == nil {
			return xerrors.Errorf("%s: %w", id, ErrRunNotFound)
		}
		return cbor.Unmarshal(buf, &r)
	})
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// Runs returns every stored run, oldest first.
func (d *DB) Runs() ([]*Run, error) {
	var runs []*Run
	err := d.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(runsBucket).ForEach(func(k, v []byte) error {
			var r Run
			if err := cbor.Unmarshal(v, &r); err != nil {
				return xerrors.Errorf("result: decoding run %s: %w", k, err)
			}
			runs = append(runs, &r)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(runs, func(i, j int) bool { return runs[i].StartedAt < runs[j].StartedAt })
	return runs, nil
}

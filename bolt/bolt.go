// Package bolt stores databases in a single bbolt file. Each database is a
// top-level bucket holding document metadata, revision bodies and counters.
// Revision bodies are msgpack encoded.
package bolt

import (
	"errors"
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"
	"go.etcd.io/bbolt"

	"github.com/airheartdev/docsync"
)

var (
	bucketDocs = []byte("docs")
	bucketRevs = []byte("revs")

	keyUpdateSeq    = []byte("update_seq")
	keyCommittedSeq = []byte("committed_seq")
	keyDataSize     = []byte("data_size")
)

const dbPrefix = "db/"

type (
	// Store is an open bbolt file holding any number of databases.
	Store struct {
		bdb  *bbolt.DB
		path string
	}

	Options struct {
		Timeout time.Duration

		// NoSync skips fsync on commit. EnsureFullCommit still syncs.
		NoSync bool
	}

	// Database is one database inside a Store.
	Database struct {
		store *Store
		name  string
	}

	docMeta struct {
		Winner  string   `msgpack:"winner"`
		Revs    []string `msgpack:"revs"`
		Deleted bool     `msgpack:"deleted"`
		Seq     int64    `msgpack:"seq"`
	}
)

var (
	_ docsync.Backend = (*Database)(nil)
	_ docsync.Catalog = (*Store)(nil)
)

// Open opens or creates the bbolt file at path.
func Open(path string, opt Options) (*Store, error) {
	bopt := *bbolt.DefaultOptions
	bopt.Timeout = opt.Timeout
	if bopt.Timeout == 0 {
		bopt.Timeout = 10 * time.Second
	}
	bopt.NoSync = opt.NoSync

	bdb, err := bbolt.Open(path, 0666, &bopt)
	if err != nil {
		return nil, fmt.Errorf("bolt: open %s: %w", path, err)
	}
	return &Store{bdb: bdb, path: path}, nil
}

// Endpoint returns an endpoint over the database named name in s.
func Endpoint[T docsync.Document](s *Store, name string, decode docsync.DecodeFunc[T], options ...docsync.Option) *docsync.Local[T] {
	return docsync.NewLocal[T](s.db(name), decode, options...)
}

func (s *Store) Close() error {
	return s.bdb.Close()
}

func (s *Store) Path() string { return s.path }

func (s *Store) Database(name string) docsync.Backend {
	return s.db(name)
}

func (s *Store) db(name string) *Database {
	return &Database{store: s, name: name}
}

func (s *Store) Names() ([]string, error) {
	names := make([]string, 0)
	err := s.bdb.View(func(tx *bbolt.Tx) error {
		return tx.ForEach(func(name []byte, _ *bbolt.Bucket) error {
			if len(name) > len(dbPrefix) && string(name[:len(dbPrefix)]) == dbPrefix {
				names = append(names, string(name[len(dbPrefix):]))
			}
			return nil
		})
	})
	return names, err
}

func (d *Database) Name() string { return d.name }

func (d *Database) key() []byte { return []byte(dbPrefix + d.name) }

func (d *Database) bucket(tx *bbolt.Tx) (*bbolt.Bucket, error) {
	b := tx.Bucket(d.key())
	if b == nil {
		return nil, docsync.ErrNotFound
	}
	return b, nil
}

func (d *Database) Exists() (bool, error) {
	var ok bool
	err := d.store.bdb.View(func(tx *bbolt.Tx) error {
		ok = tx.Bucket(d.key()) != nil
		return nil
	})
	return ok, err
}

func (d *Database) Create() error {
	return d.store.bdb.Update(func(tx *bbolt.Tx) error {
		if tx.Bucket(d.key()) != nil {
			return docsync.ErrDatabaseExists
		}
		b, err := tx.CreateBucket(d.key())
		if err != nil {
			return err
		}
		if _, err := b.CreateBucket(bucketDocs); err != nil {
			return err
		}
		_, err = b.CreateBucket(bucketRevs)
		return err
	})
}

func (d *Database) Info() (docsync.DatabaseInfo, error) {
	info := docsync.DatabaseInfo{Name: d.name}
	err := d.store.bdb.View(func(tx *bbolt.Tx) error {
		b, err := d.bucket(tx)
		if err != nil {
			return err
		}
		info.DiskSize = tx.Size()
		info.DataSize = getCounter(b, keyDataSize)
		info.UpdateSeq = getCounter(b, keyUpdateSeq)
		info.CommittedUpdateSeq = getCounter(b, keyCommittedSeq)
		return b.Bucket(bucketDocs).ForEach(func(_, v []byte) error {
			var meta docMeta
			if err := msgpack.Unmarshal(v, &meta); err != nil {
				return err
			}
			if meta.Deleted {
				info.DeletedDocCount++
			} else {
				info.DocCount++
			}
			return nil
		})
	})
	if err != nil {
		return docsync.DatabaseInfo{}, err
	}
	return info, nil
}

// Sync forces the file to disk and records every write as committed.
func (d *Database) Sync() error {
	err := d.store.bdb.Update(func(tx *bbolt.Tx) error {
		b, err := d.bucket(tx)
		if err != nil {
			return err
		}
		return putCounter(b, keyCommittedSeq, getCounter(b, keyUpdateSeq))
	})
	if err != nil {
		return err
	}
	return d.store.bdb.Sync()
}

func (d *Database) Revision(id, rev string) (docsync.Raw, error) {
	var doc docsync.Raw
	err := d.store.bdb.View(func(tx *bbolt.Tx) error {
		b, err := d.bucket(tx)
		if err != nil {
			return err
		}
		if rev == "" {
			meta, err := readMeta(b, id)
			if err != nil {
				return err
			}
			rev = meta.Winner
		}
		doc, err = readRevision(b, id, rev)
		return err
	})
	return doc, err
}

func (d *Database) Update(id string, fn func(revs []string) (string, docsync.Raw, error)) error {
	return d.store.bdb.Update(func(tx *bbolt.Tx) error {
		b, err := d.bucket(tx)
		if err != nil {
			return err
		}

		meta, err := readMeta(b, id)
		if err != nil && !errors.Is(err, docsync.ErrNotFound) {
			return err
		}

		rev, body, err := fn(meta.Revs)
		if err != nil {
			return err
		}
		for _, known := range meta.Revs {
			if known == rev {
				return nil
			}
		}

		stored := body.Fields()
		stored[docsync.FieldID] = id
		stored[docsync.FieldRev] = rev
		data, err := msgpack.Marshal(map[string]any(stored))
		if err != nil {
			return fmt.Errorf("bolt: encode %s@%s: %w", id, rev, err)
		}
		if err := b.Bucket(bucketRevs).Put(revKey(id, rev), data); err != nil {
			return err
		}

		seq := getCounter(b, keyUpdateSeq) + 1
		meta.Revs = append(meta.Revs, rev)
		meta.Winner = docsync.WinningRevision(meta.Revs)
		meta.Seq = seq
		if meta.Winner == rev {
			meta.Deleted, _ = stored[docsync.FieldDeleted].(bool)
		}
		if err := writeMeta(b, id, meta); err != nil {
			return err
		}
		if err := putCounter(b, keyDataSize, getCounter(b, keyDataSize)+int64(len(data))); err != nil {
			return err
		}
		return putCounter(b, keyUpdateSeq, seq)
	})
}

func (d *Database) Scan(from, to string, fn func(doc docsync.Raw) bool) error {
	return d.store.bdb.View(func(tx *bbolt.Tx) error {
		b, err := d.bucket(tx)
		if err != nil {
			return err
		}

		c := b.Bucket(bucketDocs).Cursor()
		var k, v []byte
		if from == "" {
			k, v = c.First()
		} else {
			k, v = c.Seek([]byte(from))
		}
		for ; k != nil; k, v = c.Next() {
			if to != "" && string(k) > to {
				break
			}
			var meta docMeta
			if err := msgpack.Unmarshal(v, &meta); err != nil {
				return err
			}
			doc, err := readRevision(b, string(k), meta.Winner)
			if err != nil {
				return err
			}
			if !fn(doc) {
				break
			}
		}
		return nil
	})
}

func readMeta(b *bbolt.Bucket, id string) (docMeta, error) {
	var meta docMeta
	v := b.Bucket(bucketDocs).Get([]byte(id))
	if v == nil {
		return meta, docsync.ErrNotFound
	}
	if err := msgpack.Unmarshal(v, &meta); err != nil {
		return meta, fmt.Errorf("bolt: decode metadata of %s: %w", id, err)
	}
	return meta, nil
}

func writeMeta(b *bbolt.Bucket, id string, meta docMeta) error {
	data, err := msgpack.Marshal(&meta)
	if err != nil {
		return err
	}
	return b.Bucket(bucketDocs).Put([]byte(id), data)
}

func readRevision(b *bbolt.Bucket, id, rev string) (docsync.Raw, error) {
	v := b.Bucket(bucketRevs).Get(revKey(id, rev))
	if v == nil {
		return nil, docsync.ErrNotFound
	}
	var body map[string]any
	if err := msgpack.Unmarshal(v, &body); err != nil {
		return nil, fmt.Errorf("bolt: decode %s@%s: %w", id, rev, err)
	}
	return docsync.Raw(body), nil
}

func revKey(id, rev string) []byte {
	key := make([]byte, 0, len(id)+1+len(rev))
	key = append(key, id...)
	key = append(key, 0)
	return append(key, rev...)
}

func getCounter(b *bbolt.Bucket, key []byte) int64 {
	v := b.Get(key)
	if v == nil {
		return 0
	}
	var n int64
	if err := msgpack.Unmarshal(v, &n); err != nil {
		return 0
	}
	return n
}

func putCounter(b *bbolt.Bucket, key []byte, n int64) error {
	data, err := msgpack.Marshal(n)
	if err != nil {
		return err
	}
	return b.Put(key, data)
}

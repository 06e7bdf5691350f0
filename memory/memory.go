package memory

import (
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/zyedidia/generic"
	"github.com/zyedidia/generic/btree"

	"github.com/airheartdev/docsync"
)

type (
	// Database keeps documents in a btree ordered by id. It is safe for
	// concurrent use.
	Database struct {
		name string

		mu           sync.RWMutex
		exists       bool
		entries      *btree.Tree[string, *Entry]
		updateSeq    int64
		committedSeq int64
		dataSize     int64
	}

	// Entry holds every known revision of one document.
	Entry struct {
		ID             string
		Revisions      map[string]docsync.Raw
		Winner         string
		Seq            int64
		LastModifiedAt time.Time
	}

	// Catalog is a set of named databases.
	Catalog struct {
		mu        sync.Mutex
		databases *btree.Tree[string, *Database]
	}
)

var (
	_ docsync.Backend = (*Database)(nil)
	_ docsync.Catalog = (*Catalog)(nil)
)

// New returns a database that does not exist until Create is called.
func New(name string) *Database {
	return &Database{
		name:    name,
		entries: btree.New[string, *Entry](generic.Less[string]),
	}
}

// Open returns an endpoint over a new database named name.
func Open[T docsync.Document](name string, decode docsync.DecodeFunc[T], options ...docsync.Option) *docsync.Local[T] {
	return docsync.NewLocal[T](New(name), decode, options...)
}

func NewCatalog() *Catalog {
	return &Catalog{databases: btree.New[string, *Database](generic.Less[string])}
}

// Database returns the database named name, which may not exist yet.
func (c *Catalog) Database(name string) docsync.Backend {
	c.mu.Lock()
	defer c.mu.Unlock()

	if db, ok := c.databases.Get(name); ok {
		return db
	}
	db := New(name)
	c.databases.Put(name, db)
	return db
}

func (c *Catalog) Names() ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	names := make([]string, 0)
	c.databases.Each(func(name string, db *Database) {
		if ok, _ := db.Exists(); ok {
			names = append(names, name)
		}
	})
	return names, nil
}

func (d *Database) Name() string { return d.name }

func (d *Database) Exists() (bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.exists, nil
}

func (d *Database) Create() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.exists {
		return docsync.ErrDatabaseExists
	}
	d.exists = true
	return nil
}

func (d *Database) Info() (docsync.DatabaseInfo, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if !d.exists {
		return docsync.DatabaseInfo{}, docsync.ErrNotFound
	}

	info := docsync.DatabaseInfo{
		Name:               d.name,
		DiskSize:           d.dataSize,
		DataSize:           d.dataSize,
		UpdateSeq:          d.updateSeq,
		CommittedUpdateSeq: d.committedSeq,
	}
	d.entries.Each(func(id string, entry *Entry) {
		if deleted, _ := entry.Revisions[entry.Winner][docsync.FieldDeleted].(bool); deleted {
			info.DeletedDocCount++
			return
		}
		info.DocCount++
	})
	return info, nil
}

// Sync marks every write as committed. Memory has nothing to flush.
func (d *Database) Sync() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.exists {
		return docsync.ErrNotFound
	}
	d.committedSeq = d.updateSeq
	return nil
}

func (d *Database) Revision(id, rev string) (docsync.Raw, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if !d.exists {
		return nil, docsync.ErrNotFound
	}

	entry, ok := d.entries.Get(id)
	if !ok {
		return nil, docsync.ErrNotFound
	}
	if rev == "" {
		rev = entry.Winner
	}
	body, ok := entry.Revisions[rev]
	if !ok {
		return nil, docsync.ErrNotFound
	}
	return body.Fields(), nil
}

func (d *Database) Update(id string, fn func(revs []string) (string, docsync.Raw, error)) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.exists {
		return docsync.ErrNotFound
	}

	entry, exists := d.entries.Get(id)
	if !exists {
		entry = &Entry{ID: id, Revisions: make(map[string]docsync.Raw)}
	}

	rev, body, err := fn(entry.revs())
	if err != nil {
		return err
	}
	if _, known := entry.Revisions[rev]; known {
		return nil
	}

	stored := body.Fields()
	stored[docsync.FieldID] = id
	stored[docsync.FieldRev] = rev
	if data, err := json.Marshal(stored); err == nil {
		d.dataSize += int64(len(data))
	}

	d.updateSeq++
	entry.Revisions[rev] = stored
	entry.Winner = docsync.WinningRevision(entry.revs())
	entry.Seq = d.updateSeq
	entry.LastModifiedAt = time.Now()
	// Entries are updated in place; Put on a present key counts it again.
	if !exists {
		d.entries.Put(id, entry)
	}
	return nil
}

func (d *Database) Scan(from, to string, fn func(doc docsync.Raw) bool) error {
	d.mu.RLock()
	if !d.exists {
		d.mu.RUnlock()
		return docsync.ErrNotFound
	}
	docs := make([]docsync.Raw, 0)
	d.entries.Each(func(id string, entry *Entry) {
		if (from != "" && id < from) || (to != "" && id > to) {
			return
		}
		docs = append(docs, entry.Revisions[entry.Winner].Fields())
	})
	d.mu.RUnlock()

	for _, doc := range docs {
		if !fn(doc) {
			break
		}
	}
	return nil
}

// Size returns the number of documents, deleted ones included.
func (d *Database) Size() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.entries.Size()
}

func (e *Entry) revs() []string {
	revs := make([]string, 0, len(e.Revisions))
	for rev := range e.Revisions {
		revs = append(revs, rev)
	}
	sort.Strings(revs)
	return revs
}

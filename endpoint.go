package docsync

import (
	"errors"
	"net/url"
	"strconv"
	"strings"
)

// Query modifiers understood by the stores in this module. Any other key is
// passed through to the transport untouched.
const (
	ParamRev         = "rev"
	ParamAttachments = "attachments"
	ParamNewEdits    = "new_edits"
	ParamLimit       = "limit"
	ParamSkip        = "skip"
	ParamStartKey    = "startkey"
	ParamEndKey      = "endkey"
	ParamIncludeDocs = "include_docs"

	// ParamIncludeDeleted makes allDocs list documents whose winning
	// revision is a deletion. Replication needs them to propagate deletes.
	ParamIncludeDeleted = "include_deleted"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrDatabaseExists = errors.New("database already exists")
)

type (
	// Params carries query modifiers of an endpoint operation, from name to
	// one or more values.
	Params map[string][]string

	// Endpoint is one document store taking part in replication. Every
	// operation returns a deferred Result and never blocks the caller.
	Endpoint[T Document] interface {
		// ID is the locator of the store.
		ID() string

		Exists() *Result[bool]
		Create() *Result[bool]
		Info() *Result[DatabaseInfo]
		EnsureFullCommit() *Result[bool]

		// Get succeeds with nil when the document is absent.
		Get(id string, params Params) *Result[*T]
		Put(doc T, params Params) *Result[bool]
		AllDocs(params Params) *Result[[]T]

		// BulkDocs reports one entry per input document, in input order.
		BulkDocs(docs []T, params Params) *Result[[]bool]

		// RevsDiff returns the claimed revisions the store does not have.
		RevsDiff(revs []RevisionInfo, params Params) *Result[[]RevisionInfo]
	}

	// BulkSupporter is implemented by endpoints that can tell whether their
	// transport accepts bulk writes. Endpoints that don't implement it are
	// assumed to.
	BulkSupporter interface {
		SupportsBulk() bool
	}

	// Backend is the synchronous storage under a local endpoint.
	Backend interface {
		Name() string
		Exists() (bool, error)

		// Create returns ErrDatabaseExists if the database is already there.
		Create() error
		Info() (DatabaseInfo, error)
		Sync() error

		// Revision returns one revision of a document, the winner when rev is
		// empty, or ErrNotFound.
		Revision(id, rev string) (Raw, error)

		// Update runs fn with the revisions known for id and stores the
		// revision it returns, atomically with respect to other updates of
		// the same database. fn returning an error aborts the update.
		Update(id string, fn func(revs []string) (rev string, body Raw, err error)) error

		// Scan calls fn with the winning revision of every document whose id
		// is within [from, to], in id order, until fn returns false. Empty
		// bounds are open.
		Scan(from, to string, fn func(doc Raw) bool) error
	}

	// Catalog opens databases by name. Servers use it to route requests.
	Catalog interface {
		Database(name string) Backend
		Names() ([]string, error)
	}
)

// Get returns the first value of key.
func (p Params) Get(key string) string {
	if vs := p[key]; len(vs) > 0 {
		return vs[0]
	}
	return ""
}

// With returns a copy of p with key set to values.
func (p Params) With(key string, values ...string) Params {
	out := make(Params, len(p)+1)
	for k, v := range p {
		out[k] = v
	}
	out[key] = values
	return out
}

// Bool reads a "true"/"false" value, def when absent or malformed.
func (p Params) Bool(key string, def bool) bool {
	b, err := strconv.ParseBool(p.Get(key))
	if err != nil {
		return def
	}
	return b
}

// Int reads a decimal value, def when absent or malformed.
func (p Params) Int(key string, def int) int {
	n, err := strconv.Atoi(p.Get(key))
	if err != nil {
		return def
	}
	return n
}

// Key reads a document key, which the wire protocol sends JSON quoted.
func (p Params) Key(key string) string {
	v := p.Get(key)
	if len(v) >= 2 && strings.HasPrefix(v, `"`) && strings.HasSuffix(v, `"`) {
		if s, err := strconv.Unquote(v); err == nil {
			return s
		}
	}
	return v
}

// Values returns p as URL query values, verbatim.
func (p Params) Values() url.Values {
	out := make(url.Values, len(p))
	for k, v := range p {
		out[k] = append([]string(nil), v...)
	}
	return out
}

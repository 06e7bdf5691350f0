package docsync

import (
	"errors"
	"net/http"
)

// Local is an Endpoint over a Backend in the same process. Backend calls run
// on the executor; results settle there.
type Local[T Document] struct {
	backend Backend
	decode  DecodeFunc[T]
	options *Options
}

var _ Endpoint[Raw] = (*Local[Raw])(nil)

// NewLocal returns an endpoint storing documents in backend.
func NewLocal[T Document](backend Backend, decode DecodeFunc[T], options ...Option) *Local[T] {
	return &Local[T]{
		backend: backend,
		decode:  decode,
		options: newOptions(options),
	}
}

func (l *Local[T]) ID() string { return l.backend.Name() }

// Backend returns the storage under the endpoint.
func (l *Local[T]) Backend() Backend { return l.backend }

func (l *Local[T]) Exists() *Result[bool] {
	return dispatch(l, func(r *Result[bool]) {
		ok, err := l.backend.Exists()
		if err != nil {
			r.Fail(l.storageError(err))
			return
		}
		r.Fulfill(ok)
	})
}

// Create fails with code 412 when the database already exists.
func (l *Local[T]) Create() *Result[bool] {
	return dispatch(l, func(r *Result[bool]) {
		if err := l.backend.Create(); err != nil {
			r.Fail(l.storageError(err))
			return
		}
		l.options.logger.Info("database created", "db", l.backend.Name())
		r.Fulfill(true)
	})
}

func (l *Local[T]) Info() *Result[DatabaseInfo] {
	return dispatch(l, func(r *Result[DatabaseInfo]) {
		info, err := l.backend.Info()
		if err != nil {
			r.Fail(l.storageError(err))
			return
		}
		r.Fulfill(info)
	})
}

func (l *Local[T]) EnsureFullCommit() *Result[bool] {
	return dispatch(l, func(r *Result[bool]) {
		if err := l.backend.Sync(); err != nil {
			r.Fail(l.storageError(err))
			return
		}
		r.Fulfill(true)
	})
}

func (l *Local[T]) Get(id string, params Params) *Result[*T] {
	return dispatch(l, func(r *Result[*T]) {
		rev := params.Get(ParamRev)
		raw, err := l.backend.Revision(id, rev)
		if errors.Is(err, ErrNotFound) {
			r.Fulfill(nil)
			return
		}
		if err != nil {
			r.Fail(l.storageError(err))
			return
		}
		if rev == "" && isDeleted(raw) {
			r.Fulfill(nil)
			return
		}
		doc, err := l.decode(map[string]any(raw))
		if err != nil {
			r.Fail(AsError(err))
			return
		}
		r.Fulfill(&doc)
	})
}

func (l *Local[T]) Put(doc T, params Params) *Result[bool] {
	newEdits := params.Bool(ParamNewEdits, true)
	return dispatch(l, func(r *Result[bool]) {
		if err := l.write(doc, newEdits); err != nil {
			r.Fail(err)
			return
		}
		r.Fulfill(true)
	})
}

func (l *Local[T]) AllDocs(params Params) *Result[[]T] {
	return dispatch(l, func(r *Result[[]T]) {
		skip := params.Int(ParamSkip, 0)
		limit := params.Int(ParamLimit, -1)
		withDeleted := params.Bool(ParamIncludeDeleted, false)

		var (
			docs      []T
			decodeErr error
		)
		err := l.backend.Scan(params.Key(ParamStartKey), params.Key(ParamEndKey), func(raw Raw) bool {
			if !withDeleted && isDeleted(raw) {
				return true
			}
			if skip > 0 {
				skip--
				return true
			}
			if limit >= 0 && len(docs) >= limit {
				return false
			}
			doc, err := l.decode(map[string]any(raw))
			if err != nil {
				decodeErr = err
				return false
			}
			docs = append(docs, doc)
			return true
		})
		if err != nil {
			r.Fail(l.storageError(err))
			return
		}
		if decodeErr != nil {
			r.Fail(AsError(decodeErr))
			return
		}
		if docs == nil {
			docs = []T{}
		}
		r.Fulfill(docs)
	})
}

// BulkDocs writes every document on its own. One rejected document does not
// affect the others.
func (l *Local[T]) BulkDocs(docs []T, params Params) *Result[[]bool] {
	newEdits := params.Bool(ParamNewEdits, true)
	return dispatch(l, func(r *Result[[]bool]) {
		if ok, err := l.backend.Exists(); err != nil || !ok {
			if err == nil {
				err = ErrNotFound
			}
			r.Fail(l.storageError(err))
			return
		}

		out := make([]bool, len(docs))
		for i, doc := range docs {
			if err := l.write(doc, newEdits); err != nil {
				l.options.logger.Debug("bulk item rejected",
					"db", l.backend.Name(),
					"id", doc.DocID(),
					"error", err,
				)
				continue
			}
			out[i] = true
		}
		r.Fulfill(out)
	})
}

func (l *Local[T]) RevsDiff(revs []RevisionInfo, params Params) *Result[[]RevisionInfo] {
	return dispatch(l, func(r *Result[[]RevisionInfo]) {
		if ok, err := l.backend.Exists(); err != nil || !ok {
			if err == nil {
				err = ErrNotFound
			}
			r.Fail(l.storageError(err))
			return
		}

		var lookupErr error
		missing := DiffRevisions(revs, func(id, rev string) bool {
			_, err := l.backend.Revision(id, rev)
			if err != nil && !errors.Is(err, ErrNotFound) && lookupErr == nil {
				lookupErr = err
			}
			return err == nil
		})
		if lookupErr != nil {
			r.Fail(l.storageError(lookupErr))
			return
		}
		if missing == nil {
			missing = []RevisionInfo{}
		}
		r.Fulfill(missing)
	})
}

// write stores doc. With newEdits the document must carry the current winning
// revision (none for a new document) and gets a new one; without, the
// document's own revision is stored as is.
func (l *Local[T]) write(doc T, newEdits bool) *Error {
	id := doc.DocID()
	if id == "" {
		return ProtocolError(http.StatusBadRequest, "document id missing")
	}
	body := Raw(doc.Fields())

	err := l.backend.Update(id, func(revs []string) (string, Raw, error) {
		if !newEdits {
			rev := body.DocRev()
			if _, _, err := ParseRevision(rev); err != nil {
				return "", nil, ProtocolError(http.StatusBadRequest, err.Error())
			}
			return rev, body, nil
		}

		current := WinningRevision(revs)
		if body.DocRev() != current {
			return "", nil, ConflictError(id)
		}
		gen := 1
		if current != "" {
			g, _, err := ParseRevision(current)
			if err != nil {
				return "", nil, ProtocolError(http.StatusInternalServerError, err.Error())
			}
			gen = g + 1
		}
		rev, err := NewRevisionID(gen, body)
		if err != nil {
			return "", nil, ProtocolError(http.StatusBadRequest, err.Error())
		}
		body[FieldRev] = rev
		return rev, body, nil
	})
	if err != nil {
		return l.storageError(err)
	}
	return nil
}

func (l *Local[T]) storageError(err error) *Error {
	var e *Error
	switch {
	case errors.As(err, &e):
		return e
	case errors.Is(err, ErrNotFound):
		return NotFoundError(l.backend.Name())
	case errors.Is(err, ErrDatabaseExists):
		return ProtocolError(CodeAlreadyExists, "database already exists")
	}
	l.options.logger.Error("storage failure", "db", l.backend.Name(), "error", err)
	return ProtocolError(CodeInternalServer, err.Error())
}

func dispatch[T Document, V any](l *Local[T], work func(r *Result[V])) *Result[V] {
	return Defer(l.options.executor, l.options.logger, work)
}

func isDeleted(doc Raw) bool {
	deleted, _ := doc[FieldDeleted].(bool)
	return deleted
}

// Package couch is an endpoint for a remote store speaking the CouchDB
// replication wire protocol over HTTP.
package couch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/airheartdev/docsync"
)

const (
	RequestIDHeader     = "X-Request-ID"
	authorizationHeader = "Authorization"
	applicationJSON     = "application/json"
)

type (
	// Doer sends HTTP requests. *http.Client implements it; tests substitute
	// a fake.
	Doer interface {
		Do(req *http.Request) (*http.Response, error)
	}

	// Client is the endpoint of one remote database.
	Client[T docsync.Document] struct {
		db      *url.URL
		decode  docsync.DecodeFunc[T]
		options *options
	}

	options struct {
		doer     Doer
		token    string
		bulk     bool
		timeout  time.Duration
		executor docsync.Executor
		logger   *slog.Logger
	}

	Option func(o *options)

	response struct {
		status int
		body   []byte
	}
)

var _ docsync.Endpoint[docsync.Raw] = (*Client[docsync.Raw])(nil)

func WithHTTPClient(doer Doer) Option {
	return func(o *options) {
		o.doer = doer
	}
}

// WithToken sends token as a bearer credential.
func WithToken(token string) Option {
	return func(o *options) {
		o.token = token
	}
}

// WithoutBulk reports that the remote does not accept _bulk_docs.
func WithoutBulk() Option {
	return func(o *options) {
		o.bulk = false
	}
}

// WithTimeout bounds each request.
func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		o.timeout = d
	}
}

func WithExecutor(exec docsync.Executor) Option {
	return func(o *options) {
		o.executor = exec
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// New returns the endpoint of the database at locator, an http(s) URL whose
// path names the database.
func New[T docsync.Document](locator string, decode docsync.DecodeFunc[T], opts ...Option) (*Client[T], error) {
	u, err := url.Parse(locator)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", docsync.ErrMalformedLocator, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" || strings.Trim(u.Path, "/") == "" {
		return nil, fmt.Errorf("%w: %q", docsync.ErrMalformedLocator, locator)
	}
	u.Path = "/" + strings.Trim(u.Path, "/")
	u.RawQuery = ""

	o := &options{
		doer:     http.DefaultClient,
		bulk:     true,
		executor: docsync.GoExecutor{},
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return &Client[T]{db: u, decode: decode, options: o}, nil
}

func (c *Client[T]) ID() string { return c.db.String() }

func (c *Client[T]) SupportsBulk() bool { return c.options.bulk }

func (c *Client[T]) Exists() *docsync.Result[bool] {
	return run(c, func(r *docsync.Result[bool]) {
		resp, err := c.do(http.MethodHead, "", nil, nil)
		if err != nil {
			r.Fail(err)
			return
		}
		switch resp.status {
		case http.StatusOK:
			r.Fulfill(true)
		case http.StatusNotFound:
			r.Fulfill(false)
		default:
			r.Fail(resp.protocolError())
		}
	})
}

// Create fails with the remote status when the database was not created,
// including 412 when it already exists.
func (c *Client[T]) Create() *docsync.Result[bool] {
	return run(c, func(r *docsync.Result[bool]) {
		resp, err := c.do(http.MethodPut, "", nil, nil)
		if err != nil {
			r.Fail(err)
			return
		}
		if resp.status != http.StatusCreated {
			c.options.logger.Warn("create failed",
				"db", c.ID(),
				"status", resp.status,
				"body", string(resp.body),
			)
			r.Fail(resp.protocolError())
			return
		}
		r.Fulfill(true)
	})
}

func (c *Client[T]) Info() *docsync.Result[docsync.DatabaseInfo] {
	return run(c, func(r *docsync.Result[docsync.DatabaseInfo]) {
		resp, err := c.do(http.MethodGet, "", nil, nil)
		if err != nil {
			r.Fail(err)
			return
		}
		if resp.status != http.StatusOK {
			r.Fail(resp.protocolError())
			return
		}
		tree, derr := resp.tree()
		if derr != nil {
			r.Fail(derr)
			return
		}
		info, ierr := docsync.DecodeDatabaseInfo(tree)
		if ierr != nil {
			c.options.logger.Warn("undecodable database info", "db", c.ID(), "error", ierr)
			r.Fail(docsync.AsError(ierr))
			return
		}
		r.Fulfill(info)
	})
}

func (c *Client[T]) EnsureFullCommit() *docsync.Result[bool] {
	return run(c, func(r *docsync.Result[bool]) {
		resp, err := c.do(http.MethodPost, "/_ensure_full_commit", nil, map[string]any{})
		if err != nil {
			r.Fail(err)
			return
		}
		if resp.status < 200 || resp.status > 299 {
			r.Fail(resp.protocolError())
			return
		}
		r.Fulfill(true)
	})
}

func (c *Client[T]) Get(id string, params docsync.Params) *docsync.Result[*T] {
	return run(c, func(r *docsync.Result[*T]) {
		resp, err := c.do(http.MethodGet, docPath(id), params, nil)
		if err != nil {
			r.Fail(err)
			return
		}
		switch resp.status {
		case http.StatusOK:
		case http.StatusNotFound:
			r.Fulfill(nil)
			return
		default:
			r.Fail(resp.protocolError())
			return
		}
		tree, derr := resp.tree()
		if derr != nil {
			r.Fail(derr)
			return
		}
		doc, decodeErr := c.decode(tree)
		if decodeErr != nil {
			r.Fail(docsync.AsError(decodeErr))
			return
		}
		r.Fulfill(&doc)
	})
}

// Put fails with a conflict error on 409 and a protocol error otherwise.
func (c *Client[T]) Put(doc T, params docsync.Params) *docsync.Result[bool] {
	return run(c, func(r *docsync.Result[bool]) {
		resp, err := c.do(http.MethodPut, docPath(doc.DocID()), params, doc.Fields())
		if err != nil {
			r.Fail(err)
			return
		}
		switch resp.status {
		case http.StatusOK, http.StatusCreated, http.StatusAccepted:
			r.Fulfill(true)
		case http.StatusConflict:
			r.Fail(docsync.ConflictError(doc.DocID()))
		default:
			r.Fail(resp.protocolError())
		}
	})
}

func (c *Client[T]) AllDocs(params docsync.Params) *docsync.Result[[]T] {
	return run(c, func(r *docsync.Result[[]T]) {
		resp, err := c.do(http.MethodGet, "/_all_docs", params.With(docsync.ParamIncludeDocs, "true"), nil)
		if err != nil {
			r.Fail(err)
			return
		}
		if resp.status != http.StatusOK {
			r.Fail(resp.protocolError())
			return
		}
		tree, derr := resp.tree()
		if derr != nil {
			r.Fail(derr)
			return
		}
		docs, derr := decodeRows(tree, c.decode)
		if derr != nil {
			r.Fail(derr)
			return
		}
		r.Fulfill(docs)
	})
}

// BulkDocs reports per document whether the remote accepted it.
func (c *Client[T]) BulkDocs(docs []T, params docsync.Params) *docsync.Result[[]bool] {
	return run(c, func(r *docsync.Result[[]bool]) {
		req := BulkDocsRequest{Docs: make([]map[string]any, len(docs))}
		for i, doc := range docs {
			req.Docs[i] = doc.Fields()
		}
		query := docsync.Params{}
		for k, v := range params {
			if k == docsync.ParamNewEdits {
				newEdits := params.Bool(docsync.ParamNewEdits, true)
				req.NewEdits = &newEdits
				continue
			}
			query[k] = v
		}

		resp, err := c.do(http.MethodPost, "/_bulk_docs", query, req)
		if err != nil {
			r.Fail(err)
			return
		}
		if resp.status != http.StatusCreated {
			r.Fail(resp.protocolError())
			return
		}
		var results []BulkDocsResult
		if err := json.Unmarshal(resp.body, &results); err != nil {
			r.Fail(decodeFailure(err))
			return
		}
		if len(results) != len(docs) {
			r.Fail(docsync.ProtocolError(http.StatusBadGateway,
				fmt.Sprintf("bulk write returned %d results for %d documents", len(results), len(docs))))
			return
		}
		oks := make([]bool, len(results))
		for i, res := range results {
			oks[i] = res.Error == ""
		}
		r.Fulfill(oks)
	})
}

// RevsDiff keeps the order of the claims and never reports a revision that
// was not claimed.
func (c *Client[T]) RevsDiff(revs []docsync.RevisionInfo, params docsync.Params) *docsync.Result[[]docsync.RevisionInfo] {
	return run(c, func(r *docsync.Result[[]docsync.RevisionInfo]) {
		req := make(RevsDiffRequest, len(revs))
		for _, info := range revs {
			req[info.DocID] = append(req[info.DocID], info.Revs...)
		}

		resp, err := c.do(http.MethodPost, "/_revs_diff", params, req)
		if err != nil {
			r.Fail(err)
			return
		}
		if resp.status != http.StatusOK {
			r.Fail(resp.protocolError())
			return
		}
		var diff RevsDiffResponse
		if err := json.Unmarshal(resp.body, &diff); err != nil {
			r.Fail(decodeFailure(err))
			return
		}

		missing := make(map[docsync.RevisionMarker]bool)
		for id, entry := range diff {
			for _, rev := range entry.Missing {
				missing[docsync.RevisionMarker{DocID: id, RevID: rev}] = true
			}
		}
		out := docsync.DiffRevisions(revs, func(id, rev string) bool {
			return !missing[docsync.RevisionMarker{DocID: id, RevID: rev}]
		})
		if out == nil {
			out = []docsync.RevisionInfo{}
		}
		r.Fulfill(out)
	})
}

// do sends one request. A non-nil *Error means no response was received.
func (c *Client[T]) do(method, path string, params docsync.Params, body any) (*response, *docsync.Error) {
	u := *c.db
	raw := c.db.EscapedPath() + path
	unescaped, perr := url.PathUnescape(raw)
	if perr != nil {
		return nil, docsync.ProtocolError(http.StatusBadRequest, perr.Error())
	}
	u.Path, u.RawPath = unescaped, raw
	if len(params) > 0 {
		u.RawQuery = params.Values().Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, docsync.ProtocolError(http.StatusBadRequest, err.Error())
		}
		reader = bytes.NewReader(data)
	}

	ctx := context.Background()
	if c.options.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.options.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return nil, docsync.TransportError(err)
	}
	req.Header.Set("Accept", applicationJSON)
	if body != nil {
		req.Header.Set("Content-Type", applicationJSON)
	}
	req.Header.Set(RequestIDHeader, uuid.Must(uuid.NewV7()).String())
	if c.options.token != "" {
		req.Header.Set(authorizationHeader, "Bearer "+c.options.token)
	}

	resp, err := c.options.doer.Do(req)
	if err != nil {
		c.options.logger.Debug("request failed", "method", method, "url", u.String(), "error", err)
		return nil, docsync.TransportError(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, docsync.TransportError(err)
	}
	c.options.logger.Debug("request done", "method", method, "url", u.String(), "status", resp.StatusCode)
	return &response{status: resp.StatusCode, body: data}, nil
}

func (r *response) protocolError() *docsync.Error {
	var eb ErrorResponse
	if len(r.body) > 0 && json.Unmarshal(r.body, &eb) == nil && eb.Reason != "" {
		return docsync.ProtocolError(r.status, eb.Reason)
	}
	return docsync.ProtocolError(r.status, http.StatusText(r.status))
}

func (r *response) tree() (any, *docsync.Error) {
	var tree any
	if err := json.Unmarshal(r.body, &tree); err != nil {
		return nil, decodeFailure(err)
	}
	return tree, nil
}

func decodeRows[T docsync.Document](tree any, decode docsync.DecodeFunc[T]) ([]T, *docsync.Error) {
	obj, ok := tree.(map[string]any)
	if !ok {
		return nil, docsync.DecodeError("", "object")
	}
	rows, ok := obj["rows"].([]any)
	if !ok {
		return nil, docsync.DecodeError("rows", "array")
	}
	docs := make([]T, 0, len(rows))
	for _, row := range rows {
		f := docsync.ReadFields(row)
		body := f.Object("doc")
		if err := f.Err(); err != nil {
			return nil, docsync.AsError(err)
		}
		doc, err := decode(body)
		if err != nil {
			return nil, docsync.AsError(err)
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

func decodeFailure(err error) *docsync.Error {
	return &docsync.Error{
		Kind:    docsync.KindDecode,
		Code:    docsync.CodeTransport,
		Message: fmt.Sprintf("error loading remote response: %s", err),
	}
}

// docPath escapes id into one path segment, so ids holding "/" stay whole.
func docPath(id string) string {
	return "/" + url.PathEscape(id)
}

func run[T docsync.Document, V any](c *Client[T], work func(r *docsync.Result[V])) *docsync.Result[V] {
	return docsync.Defer(c.options.executor, c.options.logger, work)
}

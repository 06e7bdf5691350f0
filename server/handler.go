package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"sort"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/airheartdev/docsync"
	"github.com/airheartdev/docsync/couch"
)

func (s *Server) handleAllDbs(w http.ResponseWriter, r *http.Request) {
	names, err := s.catalog.Names()
	if err != nil {
		writeError(w, docsync.ProtocolError(http.StatusInternalServerError, err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, names)
}

func (s *Server) handleExists(w http.ResponseWriter, r *http.Request) {
	ok, err := s.endpoint(r).Exists().Wait(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	info, err := s.endpoint(r).Info().Wait(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	if _, err := s.endpoint(r).Create().Wait(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	s.options.notify(chi.URLParam(r, "db"))
	writeJSON(w, http.StatusCreated, couch.DocResponse{OK: true})
}

func (s *Server) handleEnsureFullCommit(w http.ResponseWriter, r *http.Request) {
	if _, err := s.endpoint(r).EnsureFullCommit().Wait(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, couch.DocResponse{OK: true})
}

func (s *Server) handleAllDocs(w http.ResponseWriter, r *http.Request) {
	params := docsync.Params(r.URL.Query())
	ep := s.endpoint(r)

	info, err := ep.Info().Wait(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	docs, err := ep.AllDocs(params).Wait(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	includeDocs := params.Bool(docsync.ParamIncludeDocs, false)
	resp := couch.AllDocsResponse{
		TotalRows: int(info.DocCount),
		Offset:    params.Int(docsync.ParamSkip, 0),
		Rows:      make([]couch.AllDocsRow, 0, len(docs)),
	}
	for _, doc := range docs {
		row := couch.AllDocsRow{
			ID:    doc.DocID(),
			Key:   doc.DocID(),
			Value: couch.RowValue{Rev: doc.DocRev()},
		}
		if includeDocs {
			row.Doc = doc
		}
		resp.Rows = append(resp.Rows, row)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleBulkDocs(w http.ResponseWriter, r *http.Request) {
	var req couch.BulkDocsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, docsync.ProtocolError(http.StatusBadRequest, err.Error()))
		return
	}

	params := docsync.Params(r.URL.Query())
	if req.NewEdits != nil && !*req.NewEdits {
		params = params.With(docsync.ParamNewEdits, "false")
	}
	docs := make([]docsync.Raw, len(req.Docs))
	for i, body := range req.Docs {
		docs[i] = docsync.Raw(body)
	}

	ep := s.endpoint(r)
	oks, err := ep.BulkDocs(docs, params).Wait(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	results := make([]couch.BulkDocsResult, len(docs))
	written := false
	for i, doc := range docs {
		results[i] = couch.BulkDocsResult{ID: doc.DocID()}
		if !oks[i] {
			results[i].Error = "rejected"
			results[i].Reason = "document was not written"
			continue
		}
		written = true
		results[i].OK = true
		results[i].Rev = s.currentRev(ep, doc, params)
	}
	if written {
		s.options.notify(chi.URLParam(r, "db"))
	}
	writeJSON(w, http.StatusCreated, results)
}

func (s *Server) handleRevsDiff(w http.ResponseWriter, r *http.Request) {
	var req couch.RevsDiffRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, docsync.ProtocolError(http.StatusBadRequest, err.Error()))
		return
	}

	ids := make([]string, 0, len(req))
	for id := range req {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	claims := make([]docsync.RevisionInfo, 0, len(ids))
	for _, id := range ids {
		claims = append(claims, docsync.RevisionInfo{DocID: id, Revs: req[id]})
	}

	missing, err := s.endpoint(r).RevsDiff(claims, docsync.Params(r.URL.Query())).Wait(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	resp := make(couch.RevsDiffResponse, len(missing))
	for _, info := range missing {
		resp[info.DocID] = couch.RevsDiffEntry{Missing: info.Revs}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := docID(w, r)
	if !ok {
		return
	}
	doc, err := s.endpoint(r).Get(id, docsync.Params(r.URL.Query())).Wait(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if doc == nil {
		writeJSON(w, http.StatusNotFound, couch.ErrorResponse{Error: "not_found", Reason: "missing"})
		return
	}
	writeJSON(w, http.StatusOK, *doc)
}

func (s *Server) handlePut(w http.ResponseWriter, r *http.Request) {
	var body map[string]any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, docsync.ProtocolError(http.StatusBadRequest, err.Error()))
		return
	}
	id, ok := docID(w, r)
	if !ok {
		return
	}
	doc := docsync.Raw(body)
	doc[docsync.FieldID] = id
	s.write(w, r, doc)
}

// handlePost stores a document under its own "_id", or a generated one.
func (s *Server) handlePost(w http.ResponseWriter, r *http.Request) {
	var body map[string]any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, docsync.ProtocolError(http.StatusBadRequest, err.Error()))
		return
	}
	doc := docsync.Raw(body)
	if doc.DocID() == "" {
		doc[docsync.FieldID] = uuid.Must(uuid.NewV7()).String()
	}
	s.write(w, r, doc)
}

func (s *Server) write(w http.ResponseWriter, r *http.Request, doc docsync.Raw) {
	ep := s.endpoint(r)
	params := docsync.Params(r.URL.Query())
	if _, err := ep.Put(doc, params).Wait(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	s.options.notify(chi.URLParam(r, "db"))
	writeJSON(w, http.StatusCreated, couch.DocResponse{OK: true, ID: doc.DocID(), Rev: s.currentRev(ep, doc, params)})
}

// currentRev reports the revision to answer a write with: the one the
// document carried when it was replicated, otherwise the current winner.
func (s *Server) currentRev(ep *docsync.Local[docsync.Raw], doc docsync.Raw, params docsync.Params) string {
	if !params.Bool(docsync.ParamNewEdits, true) {
		return doc.DocRev()
	}
	winner, err := ep.Backend().Revision(doc.DocID(), "")
	if err != nil {
		return doc.DocRev()
	}
	return winner.DocRev()
}

// docID reads the document id from the path. Routing runs on the escaped
// path, so ids holding "/" arrive escaped.
func docID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id, err := url.PathUnescape(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, docsync.ProtocolError(http.StatusBadRequest, err.Error()))
		return "", false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", applicationJSON)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	var e *docsync.Error
	if !errors.As(err, &e) {
		e = docsync.ProtocolError(http.StatusInternalServerError, err.Error())
	}

	status := http.StatusInternalServerError
	name := "internal_error"
	switch e.Kind {
	case docsync.KindConflict:
		status, name = http.StatusConflict, "conflict"
	case docsync.KindDecode:
		status, name = http.StatusBadRequest, "bad_request"
	case docsync.KindProtocol:
		if e.Code >= 400 && e.Code <= 599 {
			status = e.Code
		}
		switch status {
		case http.StatusNotFound:
			name = "not_found"
		case http.StatusPreconditionFailed:
			name = "file_exists"
		case http.StatusBadRequest:
			name = "bad_request"
		case http.StatusUnauthorized:
			name = "unauthorized"
		}
	}
	writeJSON(w, status, couch.ErrorResponse{Error: name, Reason: e.Message})
}

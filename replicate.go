package docsync

import (
	"fmt"
	"time"

	multierror "github.com/hashicorp/go-multierror"
)

// Report describes one replication pass.
type Report struct {
	Source      string        `json:"source"`
	Target      string        `json:"target"`
	Created     bool          `json:"created"`
	DocsRead    int           `json:"docs_read"`
	MissingRevs int           `json:"missing_revs"`
	DocsWritten int           `json:"docs_written"`
	Bulk        bool          `json:"bulk"`
	StartedAt   time.Time     `json:"started_at"`
	Duration    time.Duration `json:"duration_ns"`
}

type pass[T Document] struct {
	source  Endpoint[T]
	target  Endpoint[T]
	options *Options
	report  Report
}

var (
	// replicaParams makes the target keep the source's revision ids.
	replicaParams = Params{ParamNewEdits: {"false"}}

	// frontierParams lists every document, deleted winners included.
	frontierParams = Params{ParamIncludeDeleted: {"true"}}
)

// Replicate pushes every revision the target lacks from source to target,
// then makes the target durable. The pass fails with the first error met;
// documents written before it stay written, and running the pass again only
// transfers what is still missing.
func Replicate[T Document](source, target Endpoint[T], options ...Option) *Result[Report] {
	p := &pass[T]{
		source:  source,
		target:  target,
		options: newOptions(options),
		report: Report{
			Source: source.ID(),
			Target: target.ID(),
		},
	}
	p.report.Bulk = p.options.bulk
	if bs, ok := target.(BulkSupporter); ok && !bs.SupportsBulk() {
		p.report.Bulk = false
	}

	ready := Then(target.Exists(), p.ensureTarget)
	docs := Then(ready, func(bool) *Result[[]T] {
		return source.AllDocs(frontierParams)
	})
	missing := Then(docs, p.diff)
	fetched := Then(missing, p.fetch)
	written := Then(fetched, p.write)
	committed := Then(written, func(int) *Result[bool] {
		return target.EnsureFullCommit()
	})
	return Then(committed, p.finish)
}

func (p *pass[T]) ensureTarget(exists bool) *Result[bool] {
	p.report.StartedAt = time.Now()
	if exists {
		return Succeeded(true)
	}
	p.options.logger.Info("creating replication target", "target", p.target.ID())
	return Then(p.target.Create(), func(created bool) *Result[bool] {
		if !created {
			return Failed[bool](ProtocolError(CodeInternalServer, "target was not created"))
		}
		p.report.Created = true
		return Succeeded(true)
	})
}

func (p *pass[T]) diff(docs []T) *Result[[]RevisionInfo] {
	p.report.DocsRead = len(docs)
	if len(docs) == 0 {
		return Succeeded([]RevisionInfo{})
	}

	claims := make([]RevisionInfo, 0, len(docs))
	for _, doc := range docs {
		claims = append(claims, RevisionInfo{DocID: doc.DocID(), Revs: []string{doc.DocRev()}})
	}
	return p.target.RevsDiff(claims, nil)
}

func (p *pass[T]) fetch(missing []RevisionInfo) *Result[[]*T] {
	var gets []*Result[*T]
	for _, info := range missing {
		for _, rev := range info.Revs {
			p.report.MissingRevs++
			gets = append(gets, p.source.Get(info.DocID, Params{ParamRev: {rev}}))
		}
	}
	p.options.logger.Debug("revisions missing at target",
		"target", p.target.ID(),
		"docs", len(missing),
		"revs", p.report.MissingRevs,
	)
	return All(gets)
}

func (p *pass[T]) write(fetched []*T) *Result[int] {
	docs := make([]T, 0, len(fetched))
	for _, doc := range fetched {
		if doc == nil {
			// Gone from the source since it was listed; the next pass settles it.
			continue
		}
		docs = append(docs, *doc)
	}
	if len(docs) == 0 {
		return Succeeded(0)
	}
	if p.report.Bulk {
		return p.writeBulk(docs)
	}
	return p.writeEach(docs)
}

func (p *pass[T]) writeBulk(docs []T) *Result[int] {
	written := Succeeded(0)
	for start := 0; start < len(docs); start += p.options.batchSize {
		end := start + p.options.batchSize
		if end > len(docs) {
			end = len(docs)
		}
		batch := docs[start:end]
		written = Then(written, func(n int) *Result[int] {
			return Then(p.target.BulkDocs(batch, replicaParams), func(oks []bool) *Result[int] {
				return p.checkBatch(n, batch, oks)
			})
		})
	}
	return written
}

func (p *pass[T]) checkBatch(n int, batch []T, oks []bool) *Result[int] {
	if len(oks) != len(batch) {
		return Failed[int](ProtocolError(CodeInternalServer,
			fmt.Sprintf("bulk write returned %d results for %d documents", len(oks), len(batch))))
	}

	var errs *multierror.Error
	for i, ok := range oks {
		if ok {
			n++
			p.report.DocsWritten++
			continue
		}
		errs = multierror.Append(errs, fmt.Errorf("%s@%s rejected", batch[i].DocID(), batch[i].DocRev()))
	}
	if err := errs.ErrorOrNil(); err != nil {
		return Failed[int](&Error{Kind: KindProtocol, Code: CodeBulkPartial, Message: err.Error()})
	}
	return Succeeded(n)
}

func (p *pass[T]) writeEach(docs []T) *Result[int] {
	written := Succeeded(0)
	for _, doc := range docs {
		doc := doc
		written = Then(written, func(n int) *Result[int] {
			return Map(p.target.Put(doc, replicaParams), func(bool) int {
				p.report.DocsWritten++
				return n + 1
			})
		})
	}
	return written
}

func (p *pass[T]) finish(bool) *Result[Report] {
	p.report.Duration = time.Since(p.report.StartedAt)
	p.options.logger.Info("replication pass complete",
		"source", p.report.Source,
		"target", p.report.Target,
		"read", p.report.DocsRead,
		"missing", p.report.MissingRevs,
		"written", p.report.DocsWritten,
		"duration", p.report.Duration,
	)
	return Succeeded(p.report)
}

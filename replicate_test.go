package docsync_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/suite"

	"github.com/airheartdev/docsync"
	"github.com/airheartdev/docsync/couch"
	"github.com/airheartdev/docsync/memory"
	"github.com/airheartdev/docsync/server"
)

type ReplicateSuite struct {
	suite.Suite
	ctx    context.Context
	logger *slog.Logger
	source *docsync.Local[docsync.Raw]
}

func TestReplicateSuite(t *testing.T) {
	suite.Run(t, new(ReplicateSuite))
}

func (s *ReplicateSuite) SetupTest() {
	s.ctx = context.Background()
	s.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	s.source = memory.Open("source", docsync.DecodeRaw, docsync.WithLogger(s.logger))
	_, err := s.source.Create().Wait(s.ctx)
	s.Require().NoError(err)
}

func (s *ReplicateSuite) seed(docs ...docsync.Raw) {
	oks, err := s.source.BulkDocs(docs, docsync.Params{docsync.ParamNewEdits: {"false"}}).Wait(s.ctx)
	s.Require().NoError(err)
	for _, ok := range oks {
		s.Require().True(ok)
	}
}

func (s *ReplicateSuite) replicate(target docsync.Endpoint[docsync.Raw], opts ...docsync.Option) (docsync.Report, error) {
	opts = append([]docsync.Option{docsync.WithLogger(s.logger)}, opts...)
	return docsync.Replicate[docsync.Raw](s.source, target, opts...).Wait(s.ctx)
}

func (s *ReplicateSuite) TestPushIntoMissingTarget() {
	s.seed(docsync.Raw{docsync.FieldID: "x", docsync.FieldRev: "1-abc", "title": "Blue"})
	target := memory.Open("target", docsync.DecodeRaw, docsync.WithLogger(s.logger))

	report, err := s.replicate(target)
	s.Require().NoError(err)
	s.True(report.Created)
	s.Equal(1, report.DocsRead)
	s.Equal(1, report.MissingRevs)
	s.Equal(1, report.DocsWritten)
	s.True(report.Bulk)
	s.Equal("source", report.Source)
	s.Equal("target", report.Target)

	ok, err := target.Exists().Wait(s.ctx)
	s.Require().NoError(err)
	s.True(ok)

	doc, err := target.Get("x", nil).Wait(s.ctx)
	s.Require().NoError(err)
	s.Require().NotNil(doc)
	s.Equal("1-abc", doc.DocRev())
	s.Equal("Blue", (*doc)["title"])

	info, err := target.Info().Wait(s.ctx)
	s.Require().NoError(err)
	s.Equal(info.UpdateSeq, info.CommittedUpdateSeq)

	report, err = s.replicate(target)
	s.Require().NoError(err)
	s.False(report.Created)
	s.Equal(1, report.DocsRead)
	s.Equal(0, report.MissingRevs)
	s.Equal(0, report.DocsWritten)
}

func (s *ReplicateSuite) TestPushWithoutBulk() {
	s.seed(
		docsync.Raw{docsync.FieldID: "a", docsync.FieldRev: "1-a"},
		docsync.Raw{docsync.FieldID: "b", docsync.FieldRev: "2-b"},
	)
	target := memory.Open("target", docsync.DecodeRaw, docsync.WithLogger(s.logger))

	report, err := s.replicate(target, docsync.WithoutBulk())
	s.Require().NoError(err)
	s.False(report.Bulk)
	s.Equal(2, report.DocsWritten)

	docs, err := target.AllDocs(nil).Wait(s.ctx)
	s.Require().NoError(err)
	s.Len(docs, 2)
	s.Equal("2-b", docs[1].DocRev())
}

func (s *ReplicateSuite) TestEmptySource() {
	target := memory.Open("target", docsync.DecodeRaw, docsync.WithLogger(s.logger))
	report, err := s.replicate(target)
	s.Require().NoError(err)
	s.True(report.Created)
	s.Equal(0, report.DocsRead)
	s.Equal(0, report.DocsWritten)
}

func (s *ReplicateSuite) TestOnlyNewerRevisionsTravel() {
	s.seed(
		docsync.Raw{docsync.FieldID: "a", docsync.FieldRev: "1-a"},
		docsync.Raw{docsync.FieldID: "b", docsync.FieldRev: "1-b"},
	)
	target := memory.Open("target", docsync.DecodeRaw, docsync.WithLogger(s.logger))
	_, err := s.replicate(target)
	s.Require().NoError(err)

	s.seed(docsync.Raw{docsync.FieldID: "b", docsync.FieldRev: "2-b", "v": "new"})
	report, err := s.replicate(target)
	s.Require().NoError(err)
	s.Equal(2, report.DocsRead)
	s.Equal(1, report.MissingRevs)
	s.Equal(1, report.DocsWritten)

	doc, err := target.Get("b", nil).Wait(s.ctx)
	s.Require().NoError(err)
	s.Equal("2-b", doc.DocRev())
}

func (s *ReplicateSuite) TestBatches() {
	for i := 0; i < 5; i++ {
		s.seed(docsync.Raw{docsync.FieldID: fmt.Sprintf("d%d", i), docsync.FieldRev: "1-a"})
	}
	target := &recordingTarget{Endpoint: memory.Open("target", docsync.DecodeRaw, docsync.WithLogger(s.logger))}

	report, err := s.replicate(target, docsync.WithBatchSize(2), docsync.WithExecutor(docsync.NewPool(2)))
	s.Require().NoError(err)
	s.Equal(5, report.DocsWritten)
	s.Equal([]int{2, 2, 1}, target.batches)
}

func (s *ReplicateSuite) TestBulkPartialFailure() {
	s.seed(
		docsync.Raw{docsync.FieldID: "a", docsync.FieldRev: "1-a"},
		docsync.Raw{docsync.FieldID: "b", docsync.FieldRev: "1-b"},
	)
	target := &recordingTarget{
		Endpoint: memory.Open("target", docsync.DecodeRaw, docsync.WithLogger(s.logger)),
		reject:   "b",
	}

	_, err := s.replicate(target)
	s.Require().Error(err)
	e := docsync.AsError(err)
	s.Equal(docsync.CodeBulkPartial, e.Code)
	s.Contains(e.Message, "b@1-b")
}

func (s *ReplicateSuite) TestTargetWithoutBulkSupport() {
	s.seed(docsync.Raw{docsync.FieldID: "a", docsync.FieldRev: "1-a"})
	target := &recordingTarget{
		Endpoint: memory.Open("target", docsync.DecodeRaw, docsync.WithLogger(s.logger)),
		noBulk:   true,
	}

	report, err := s.replicate(target)
	s.Require().NoError(err)
	s.False(report.Bulk)
	s.Empty(target.batches)
	s.Equal(1, report.DocsWritten)
}

func (s *ReplicateSuite) TestMissingSourceFails() {
	source := memory.Open("gone", docsync.DecodeRaw, docsync.WithLogger(s.logger))
	target := memory.Open("target", docsync.DecodeRaw, docsync.WithLogger(s.logger))

	_, err := docsync.Replicate[docsync.Raw](source, target, docsync.WithLogger(s.logger)).Wait(s.ctx)
	s.Require().Error(err)
	s.True(docsync.IsNotFound(err))
}

func (s *ReplicateSuite) TestPushOverHTTP() {
	s.seed(
		docsync.Raw{docsync.FieldID: "a", docsync.FieldRev: "1-a", "n": "one"},
		docsync.Raw{docsync.FieldID: "b", docsync.FieldRev: "3-b", "n": "three"},
	)
	catalog := memory.NewCatalog()
	srv := httptest.NewServer(server.New(catalog, server.WithLogger(s.logger)))
	defer srv.Close()

	target, err := couch.New(srv.URL+"/remote", docsync.DecodeRaw, couch.WithLogger(s.logger))
	s.Require().NoError(err)

	report, err := s.replicate(target)
	s.Require().NoError(err)
	s.True(report.Created)
	s.Equal(2, report.DocsWritten)

	doc, err := catalog.Database("remote").Revision("b", "")
	s.Require().NoError(err)
	s.Equal("3-b", doc.DocRev())
	s.Equal("three", doc["n"])

	report, err = s.replicate(target)
	s.Require().NoError(err)
	s.Equal(0, report.DocsWritten)
}

func (s *ReplicateSuite) TestDeletionReachesTarget() {
	s.seed(docsync.Raw{docsync.FieldID: "x", docsync.FieldRev: "1-a", "t": "x"})
	target := memory.Open("target", docsync.DecodeRaw, docsync.WithLogger(s.logger))
	_, err := s.replicate(target)
	s.Require().NoError(err)

	s.seed(docsync.Raw{docsync.FieldID: "x", docsync.FieldRev: "2-b", docsync.FieldDeleted: true})
	report, err := s.replicate(target)
	s.Require().NoError(err)
	s.Equal(1, report.DocsRead)
	s.Equal(1, report.MissingRevs)
	s.Equal(1, report.DocsWritten)

	doc, err := target.Get("x", nil).Wait(s.ctx)
	s.Require().NoError(err)
	s.Nil(doc)

	info, err := target.Info().Wait(s.ctx)
	s.Require().NoError(err)
	s.Equal(int64(0), info.DocCount)
	s.Equal(int64(1), info.DeletedDocCount)
}

func (s *ReplicateSuite) TestPullFromHTTPSource() {
	catalog := memory.NewCatalog()
	remote := docsync.NewLocal(catalog.Database("remote"), docsync.DecodeRaw, docsync.WithLogger(s.logger))
	_, err := remote.Create().Wait(s.ctx)
	s.Require().NoError(err)
	_, err = remote.BulkDocs([]docsync.Raw{
		{docsync.FieldID: "albums/1", docsync.FieldRev: "1-a"},
		{docsync.FieldID: "gone", docsync.FieldRev: "1-g"},
		{docsync.FieldID: "gone", docsync.FieldRev: "2-g", docsync.FieldDeleted: true},
	}, docsync.Params{docsync.ParamNewEdits: {"false"}}).Wait(s.ctx)
	s.Require().NoError(err)

	srv := httptest.NewServer(server.New(catalog, server.WithLogger(s.logger)))
	defer srv.Close()
	source, err := couch.New(srv.URL+"/remote", docsync.DecodeRaw, couch.WithLogger(s.logger))
	s.Require().NoError(err)
	target := memory.Open("target", docsync.DecodeRaw, docsync.WithLogger(s.logger))

	report, err := docsync.Replicate[docsync.Raw](source, target, docsync.WithLogger(s.logger)).Wait(s.ctx)
	s.Require().NoError(err)
	s.Equal(2, report.DocsRead)
	s.Equal(2, report.DocsWritten)

	doc, err := target.Get("albums/1", nil).Wait(s.ctx)
	s.Require().NoError(err)
	s.Require().NotNil(doc)
	s.Equal("1-a", doc.DocRev())

	gone, err := target.Backend().Revision("gone", "")
	s.Require().NoError(err)
	s.Equal("2-g", gone.DocRev())

	report, err = docsync.Replicate[docsync.Raw](source, target, docsync.WithLogger(s.logger)).Wait(s.ctx)
	s.Require().NoError(err)
	s.Equal(0, report.MissingRevs)
	s.Equal(0, report.DocsWritten)
}

// recordingTarget records bulk batch sizes and can reject one document id.
type recordingTarget struct {
	docsync.Endpoint[docsync.Raw]
	reject string
	noBulk bool

	mu      sync.Mutex
	batches []int
}

func (t *recordingTarget) SupportsBulk() bool { return !t.noBulk }

func (t *recordingTarget) BulkDocs(docs []docsync.Raw, params docsync.Params) *docsync.Result[[]bool] {
	t.mu.Lock()
	t.batches = append(t.batches, len(docs))
	t.mu.Unlock()

	var kept []docsync.Raw
	var index []int
	for i, doc := range docs {
		if doc.DocID() == t.reject {
			continue
		}
		kept = append(kept, doc)
		index = append(index, i)
	}
	return docsync.Map(t.Endpoint.BulkDocs(kept, params), func(oks []bool) []bool {
		out := make([]bool, len(docs))
		for i, ok := range oks {
			out[index[i]] = ok
		}
		return out
	})
}

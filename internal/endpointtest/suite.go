// Package endpointtest holds the behaviour every docsync.Endpoint must show,
// as a testify suite each store runs against itself.
package endpointtest

import (
	"context"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/airheartdev/docsync"
)

// Suite runs the endpoint contract. New must return an endpoint over a store
// that does not exist yet.
type Suite struct {
	suite.Suite
	New func() docsync.Endpoint[docsync.Raw]

	ctx    context.Context
	cancel context.CancelFunc
	ep     docsync.Endpoint[docsync.Raw]
}

func (s *Suite) SetupTest() {
	s.ctx, s.cancel = context.WithTimeout(context.Background(), 10*time.Second)
	s.ep = s.New()
}

func (s *Suite) TearDownTest() {
	s.cancel()
}

func (s *Suite) create() {
	ok, err := s.ep.Create().Wait(s.ctx)
	s.Require().NoError(err)
	s.Require().True(ok)
}

func (s *Suite) put(doc docsync.Raw) {
	ok, err := s.ep.Put(doc, nil).Wait(s.ctx)
	s.Require().NoError(err)
	s.Require().True(ok)
}

func (s *Suite) get(id string, params docsync.Params) *docsync.Raw {
	doc, err := s.ep.Get(id, params).Wait(s.ctx)
	s.Require().NoError(err)
	return doc
}

func (s *Suite) TestExistsAfterCreate() {
	ok, err := s.ep.Exists().Wait(s.ctx)
	s.NoError(err)
	s.False(ok)

	s.create()

	ok, err = s.ep.Exists().Wait(s.ctx)
	s.NoError(err)
	s.True(ok)
}

func (s *Suite) TestCreateExistingFails() {
	s.create()

	_, err := s.ep.Create().Wait(s.ctx)
	s.Require().Error(err)
	s.Equal(docsync.CodeAlreadyExists, docsync.AsError(err).Code)
}

func (s *Suite) TestGetAbsentIsNil() {
	s.create()
	s.Nil(s.get("nope", nil))
}

func (s *Suite) TestPutAssignsRevision() {
	s.create()
	s.put(docsync.Raw{docsync.FieldID: "a", "title": "first"})

	doc := s.get("a", nil)
	s.Require().NotNil(doc)
	s.Equal("a", doc.DocID())
	s.Equal("first", (*doc)["title"])

	gen, _, err := docsync.ParseRevision(doc.DocRev())
	s.Require().NoError(err)
	s.Equal(1, gen)

	updated := doc.Fields()
	updated["title"] = "second"
	s.put(docsync.Raw(updated))

	doc = s.get("a", nil)
	s.Require().NotNil(doc)
	s.Equal("second", (*doc)["title"])
	gen, _, err = docsync.ParseRevision(doc.DocRev())
	s.Require().NoError(err)
	s.Equal(2, gen)
}

func (s *Suite) TestPutStaleRevisionConflicts() {
	s.create()
	s.put(docsync.Raw{docsync.FieldID: "a", "title": "first"})
	first := s.get("a", nil)
	s.Require().NotNil(first)

	next := first.Fields()
	next["title"] = "second"
	s.put(docsync.Raw(next))

	stale := first.Fields()
	stale["title"] = "lost"
	_, err := s.ep.Put(docsync.Raw(stale), nil).Wait(s.ctx)
	s.Require().Error(err)
	s.True(docsync.IsConflict(err))

	_, err = s.ep.Put(docsync.Raw{docsync.FieldID: "a", "title": "blind"}, nil).Wait(s.ctx)
	s.True(docsync.IsConflict(err))
}

func (s *Suite) TestReplicatedRevisionKeepsItsID() {
	s.create()
	replica := docsync.Params{docsync.ParamNewEdits: {"false"}}

	ok, err := s.ep.Put(docsync.Raw{docsync.FieldID: "a", docsync.FieldRev: "3-abc", "title": "x"}, replica).Wait(s.ctx)
	s.Require().NoError(err)
	s.True(ok)

	doc := s.get("a", docsync.Params{docsync.ParamRev: {"3-abc"}})
	s.Require().NotNil(doc)
	s.Equal("3-abc", doc.DocRev())

	// Writing the same revision again is accepted and changes nothing.
	ok, err = s.ep.Put(docsync.Raw{docsync.FieldID: "a", docsync.FieldRev: "3-abc", "title": "x"}, replica).Wait(s.ctx)
	s.Require().NoError(err)
	s.True(ok)
}

func (s *Suite) TestIDsWithReservedCharacters() {
	s.create()
	ids := []string{"albums/1", "a b", "100%", "q?x=1#frag"}
	for _, id := range ids {
		s.put(docsync.Raw{docsync.FieldID: id, "title": id})
	}

	for _, id := range ids {
		doc := s.get(id, nil)
		s.Require().NotNil(doc, id)
		s.Equal(id, doc.DocID())
		s.Equal(id, (*doc)["title"])

		next := doc.Fields()
		next["title"] = "updated"
		s.put(docsync.Raw(next))
	}

	replica := docsync.Params{docsync.ParamNewEdits: {"false"}}
	oks, err := s.ep.BulkDocs([]docsync.Raw{{docsync.FieldID: "albums/2", docsync.FieldRev: "1-a"}}, replica).Wait(s.ctx)
	s.Require().NoError(err)
	s.Equal([]bool{true}, oks)

	doc := s.get("albums/2", docsync.Params{docsync.ParamRev: {"1-a"}})
	s.Require().NotNil(doc)
	s.Equal("1-a", doc.DocRev())
}

func (s *Suite) TestDeletedWinners() {
	s.create()
	replica := docsync.Params{docsync.ParamNewEdits: {"false"}}
	_, err := s.ep.BulkDocs([]docsync.Raw{
		{docsync.FieldID: "a", docsync.FieldRev: "1-a"},
		{docsync.FieldID: "b", docsync.FieldRev: "1-b"},
		{docsync.FieldID: "b", docsync.FieldRev: "2-b", docsync.FieldDeleted: true},
	}, replica).Wait(s.ctx)
	s.Require().NoError(err)

	s.Nil(s.get("b", nil))
	old := s.get("b", docsync.Params{docsync.ParamRev: {"2-b"}})
	s.Require().NotNil(old)
	s.Equal(true, (*old)[docsync.FieldDeleted])

	docs, err := s.ep.AllDocs(nil).Wait(s.ctx)
	s.Require().NoError(err)
	s.Equal([]string{"a"}, ids(docs))

	docs, err = s.ep.AllDocs(docsync.Params{docsync.ParamIncludeDeleted: {"true"}}).Wait(s.ctx)
	s.Require().NoError(err)
	s.Equal([]string{"a", "b"}, ids(docs))
	s.Equal("2-b", docs[1].DocRev())

	info, err := s.ep.Info().Wait(s.ctx)
	s.Require().NoError(err)
	s.Equal(int64(1), info.DocCount)
	s.Equal(int64(1), info.DeletedDocCount)
}

func (s *Suite) TestBulkDocsReportsPerDocument() {
	s.create()
	s.put(docsync.Raw{docsync.FieldID: "b", "title": "taken"})

	oks, err := s.ep.BulkDocs([]docsync.Raw{
		{docsync.FieldID: "a", "title": "A"},
		{docsync.FieldID: "b", "title": "B"},
		{docsync.FieldID: "c", "title": "C"},
	}, nil).Wait(s.ctx)
	s.Require().NoError(err)
	s.Equal([]bool{true, false, true}, oks)

	s.NotNil(s.get("a", nil))
	s.NotNil(s.get("c", nil))
	b := s.get("b", nil)
	s.Require().NotNil(b)
	s.Equal("taken", (*b)["title"])
}

func (s *Suite) TestAllDocsInIDOrder() {
	s.create()
	for _, id := range []string{"c", "a", "d", "b"} {
		s.put(docsync.Raw{docsync.FieldID: id})
	}

	docs, err := s.ep.AllDocs(nil).Wait(s.ctx)
	s.Require().NoError(err)
	s.Equal([]string{"a", "b", "c", "d"}, ids(docs))

	docs, err = s.ep.AllDocs(docsync.Params{
		docsync.ParamSkip:  {"1"},
		docsync.ParamLimit: {"2"},
	}).Wait(s.ctx)
	s.Require().NoError(err)
	s.Equal([]string{"b", "c"}, ids(docs))

	docs, err = s.ep.AllDocs(docsync.Params{
		docsync.ParamStartKey: {`"b"`},
		docsync.ParamEndKey:   {`"c"`},
	}).Wait(s.ctx)
	s.Require().NoError(err)
	s.Equal([]string{"b", "c"}, ids(docs))
}

func (s *Suite) TestAllDocsOfEmptyStore() {
	s.create()
	docs, err := s.ep.AllDocs(nil).Wait(s.ctx)
	s.Require().NoError(err)
	s.Empty(docs)
}

func (s *Suite) TestRevsDiff() {
	s.create()
	s.put(docsync.Raw{docsync.FieldID: "a"})
	a := s.get("a", nil)
	s.Require().NotNil(a)

	missing, err := s.ep.RevsDiff([]docsync.RevisionInfo{
		{DocID: "a", Revs: []string{a.DocRev(), "2-zzz"}},
		{DocID: "b", Revs: []string{"1-abc"}},
	}, nil).Wait(s.ctx)
	s.Require().NoError(err)
	s.Equal([]docsync.RevisionInfo{
		{DocID: "a", Revs: []string{"2-zzz"}},
		{DocID: "b", Revs: []string{"1-abc"}},
	}, missing)

	missing, err = s.ep.RevsDiff([]docsync.RevisionInfo{
		{DocID: "a", Revs: []string{a.DocRev()}},
	}, nil).Wait(s.ctx)
	s.Require().NoError(err)
	s.Empty(missing)
}

func (s *Suite) TestInfoAndFullCommit() {
	s.create()
	s.put(docsync.Raw{docsync.FieldID: "a"})
	s.put(docsync.Raw{docsync.FieldID: "b"})

	info, err := s.ep.Info().Wait(s.ctx)
	s.Require().NoError(err)
	s.Equal(int64(2), info.DocCount)
	s.Equal(int64(2), info.UpdateSeq)
	s.False(info.CompactRunning)

	ok, err := s.ep.EnsureFullCommit().Wait(s.ctx)
	s.Require().NoError(err)
	s.True(ok)

	info, err = s.ep.Info().Wait(s.ctx)
	s.Require().NoError(err)
	s.Equal(info.UpdateSeq, info.CommittedUpdateSeq)
}

func (s *Suite) TestInfoOfMissingStoreFails() {
	_, err := s.ep.Info().Wait(s.ctx)
	s.Require().Error(err)
	s.True(docsync.IsNotFound(err))
}

func ids(docs []docsync.Raw) []string {
	out := make([]string, len(docs))
	for i, doc := range docs {
		out[i] = doc.DocID()
	}
	return out
}

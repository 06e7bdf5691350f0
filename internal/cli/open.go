package cli

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	multierror "github.com/hashicorp/go-multierror"

	"github.com/airheartdev/docsync"
	"github.com/airheartdev/docsync/bolt"
	"github.com/airheartdev/docsync/couch"
	"github.com/airheartdev/docsync/internal/config"
	"github.com/airheartdev/docsync/memory"
)

const (
	memPrefix     = "mem:"
	defaultBoltDB = "default"
)

// stores opens the endpoints of one command. A bolt file is opened once
// however many endpoints name it, since a second open waits on the file lock.
type stores struct {
	cfg    config.Config
	exec   docsync.Executor
	logger *slog.Logger
	bolts  map[string]*bolt.Store
}

func newStores(cfg config.Config, exec docsync.Executor, logger *slog.Logger) *stores {
	return &stores{cfg: cfg, exec: exec, logger: logger, bolts: make(map[string]*bolt.Store)}
}

// open picks the endpoint kind from the locator: an http(s) URL is a remote
// store, "mem:<name>" an in-process one and anything else a bolt file.
func (s *stores) open(ep config.Endpoint) (docsync.Endpoint[docsync.Raw], error) {
	loc := ep.URL

	switch {
	case loc == "":
		return nil, fmt.Errorf("%w: empty locator", docsync.ErrMalformedLocator)

	case strings.HasPrefix(loc, "http://"), strings.HasPrefix(loc, "https://"):
		opts := []couch.Option{
			couch.WithToken(ep.Token),
			couch.WithTimeout(s.cfg.Replication.Timeout),
			couch.WithExecutor(s.exec),
			couch.WithLogger(s.logger),
		}
		if !s.cfg.Replication.Bulk {
			opts = append(opts, couch.WithoutBulk())
		}
		client, err := couch.New(loc, docsync.DecodeRaw, opts...)
		if err != nil {
			return nil, err
		}
		return client, nil

	case strings.HasPrefix(loc, memPrefix):
		name := strings.TrimPrefix(loc, memPrefix)
		return memory.Open(name, docsync.DecodeRaw, docsync.WithExecutor(s.exec), docsync.WithLogger(s.logger)), nil
	}

	store, err := s.bolt(loc)
	if err != nil {
		return nil, err
	}
	name := ep.Name
	if name == "" {
		name = defaultBoltDB
	}
	return bolt.Endpoint(store, name, docsync.DecodeRaw, docsync.WithExecutor(s.exec), docsync.WithLogger(s.logger)), nil
}

func (s *stores) bolt(path string) (*bolt.Store, error) {
	key := filepath.Clean(path)
	if abs, err := filepath.Abs(path); err == nil {
		key = abs
	}
	if store, ok := s.bolts[key]; ok {
		return store, nil
	}
	store, err := bolt.Open(path, bolt.Options{Timeout: s.cfg.Replication.Timeout})
	if err != nil {
		return nil, err
	}
	s.bolts[key] = store
	return store, nil
}

// Close releases every bolt file opened through s.
func (s *stores) Close() error {
	var errs *multierror.Error
	for key, store := range s.bolts {
		if err := store.Close(); err != nil {
			errs = multierror.Append(errs, err)
		}
		delete(s.bolts, key)
	}
	return errs.ErrorOrNil()
}

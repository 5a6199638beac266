package cache

import (
	"github.com/go-kit/kit/log"
	"github.com/pkg/errors"
)

// Store is the cache the image engine works against. Entries are
// always materialised on Disk, because callers are handed file paths;
// Shared, when set, is a second tier that lets several service
// instances reuse each other's products.
//
// There is no locking. Two requests for the same missing key both
// produce it and both commit; the rename in Disk.SetKey makes the
// last one win, and the content is identical either way.
type Store struct {
	Disk   *Disk
	Shared Client
	Logger log.Logger
}

func NewStore(root string, shared Client, logger log.Logger) *Store {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Store{
		Disk:   &Disk{Root: root},
		Shared: shared,
		Logger: logger,
	}
}

// Path returns where the entry for k lives on disk.
func (s *Store) Path(k Keyer) string {
	return s.Disk.Path(k)
}

// Lookup returns the path of the entry for k and whether it exists. An
// entry found only in the shared tier is copied to disk first. Errors
// from the shared tier are logged and count as a miss.
func (s *Store) Lookup(k Keyer) (string, bool) {
	if s.Disk.Has(k) {
		return s.Disk.Path(k), true
	}
	if s.Shared == nil {
		return "", false
	}
	v, err := s.Shared.GetKey(k)
	switch {
	case err == ErrNotCached:
		return "", false
	case err != nil:
		s.Logger.Log("key", k.Key(), "err", errors.Wrap(err, "reading shared cache"))
		return "", false
	}
	if err := s.Disk.SetKey(k, v); err != nil {
		s.Logger.Log("key", k.Key(), "err", errors.Wrap(err, "copying shared entry to disk"))
		return "", false
	}
	return s.Disk.Path(k), true
}

// Commit stores v under k and returns its path. Failing to write the
// shared tier is logged, not returned.
func (s *Store) Commit(k Keyer, v []byte) (string, error) {
	if err := s.Disk.SetKey(k, v); err != nil {
		return "", err
	}
	s.share(k, v)
	return s.Disk.Path(k), nil
}

// Publish pushes an entry that was written directly to Path(k) to the
// shared tier.
func (s *Store) Publish(k Keyer) {
	if s.Shared == nil {
		return
	}
	v, err := s.Disk.GetKey(k)
	if err != nil {
		s.Logger.Log("key", k.Key(), "err", errors.Wrap(err, "reading entry to publish"))
		return
	}
	s.share(k, v)
}

func (s *Store) share(k Keyer, v []byte) {
	if s.Shared == nil {
		return
	}
	if err := s.Shared.SetKey(k, v); err != nil {
		s.Logger.Log("key", k.Key(), "err", errors.Wrap(err, "writing shared cache"))
	}
}

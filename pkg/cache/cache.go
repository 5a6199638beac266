package cache

import (
	"github.com/pkg/errors"

	siserr "github.com/small-bodies-node/sbnsis/pkg/errors"
)

// ErrNotCached is returned by every Reader on a miss.
var ErrNotCached = &siserr.Error{
	Type: siserr.Missing,
	Err:  errors.New("item not in cache"),
	Help: `The requested item is not in the cache. It will be produced and stored
the next time it is requested.`,
}

type Reader interface {
	// GetKey gets the value at a key, or ErrNotCached.
	GetKey(k Keyer) ([]byte, error)
}

type Writer interface {
	// SetKey stores the value at a key, replacing anything there.
	SetKey(k Keyer, v []byte) error
}

type Client interface {
	Reader
	Writer
}

// An interface to provide the key under which to store the data.
type Keyer interface {
	Key() string
}

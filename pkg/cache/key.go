package cache

import (
	_ "crypto/sha256"
	"io"

	"github.com/opencontainers/go-digest"
)

// Key is the content address of a derived product. It is a hex digest,
// so it is safe to use as a file name and as a memcached or object key.
type Key string

// NewKey digests the concatenation of args, in the order given. The
// same arguments in a different order give a different key, and any
// change to any argument gives a different key.
func NewKey(args ...string) Key {
	d := digest.Canonical.Digester()
	h := d.Hash()
	for _, a := range args {
		io.WriteString(h, a)
	}
	return Key(d.Digest().Encoded())
}

func (k Key) Key() string {
	return string(k)
}

func (k Key) String() string {
	return string(k)
}

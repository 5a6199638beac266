package catalog

import (
	"net/url"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// Opener constructs a catalog backend for a URL scheme. Backends that
// live in sub-packages register themselves here, to keep this package
// free of database drivers.
type Opener func(u *url.URL, raw string) (ReadWriter, error)

var openers = map[string]Opener{}

// Register makes a backend available to Open for the given schemes.
func Register(o Opener, schemes ...string) {
	for _, s := range schemes {
		openers[s] = o
	}
}

// Open returns the catalog at raw:
//  - "" is an empty in-memory catalog;
//  - a path ending in .yaml or .yml, or yaml://path, is a YAML file;
//  - other schemes go to registered backends.
func Open(raw string) (ReadWriter, error) {
	if raw == "" {
		return NewMemory(), nil
	}
	ext := strings.ToLower(filepath.Ext(raw))
	u, err := url.Parse(raw)
	if err != nil {
		return nil, errors.Wrap(err, "parsing catalog URL")
	}
	switch {
	case u.Scheme == "yaml":
		return OpenFile(u.Host + u.Path)
	case u.Scheme == "" && (ext == ".yaml" || ext == ".yml"):
		return OpenFile(raw)
	}
	if o, ok := openers[u.Scheme]; ok {
		return o(u, raw)
	}
	return nil, errors.Errorf("no catalog backend for %q", raw)
}

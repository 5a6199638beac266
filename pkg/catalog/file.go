package catalog

import (
	"context"
	"io/ioutil"
	"os"
	"sync"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"

	"github.com/small-bodies-node/sbnsis/pkg/cache"
)

// File is a catalog kept in a YAML document, for small deployments
// and test data. It is read once and rewritten on every Add.
type File struct {
	*Memory
	path string
	mu   sync.Mutex
}

type fileDocument struct {
	Observations []Observation `yaml:"observations"`
}

// OpenFile loads the catalog at path; a missing file is an empty
// catalog.
func OpenFile(path string) (*File, error) {
	f := &File{Memory: NewMemory(), path: path}
	bytes, err := ioutil.ReadFile(path)
	if os.IsNotExist(err) {
		return f, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "reading catalog file")
	}
	var doc fileDocument
	if err := yaml.Unmarshal(bytes, &doc); err != nil {
		return nil, errors.Wrapf(err, "parsing catalog file %s", path)
	}
	if err := f.Memory.Add(context.Background(), doc.Observations...); err != nil {
		return nil, errors.Wrapf(err, "loading catalog file %s", path)
	}
	return f, nil
}

func (f *File) Add(ctx context.Context, obs ...Observation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.Memory.Add(ctx, obs...); err != nil {
		return err
	}
	f.Memory.mu.RLock()
	doc := fileDocument{Observations: f.Memory.sorted()}
	f.Memory.mu.RUnlock()
	bytes, err := yaml.Marshal(doc)
	if err != nil {
		return errors.Wrap(err, "encoding catalog file")
	}
	return cache.WriteFile(f.path, bytes)
}

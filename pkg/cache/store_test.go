package cache

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/go-kit/kit/log"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mem struct {
	kv   map[string][]byte
	fail bool
	mx   sync.Mutex
}

func (c *mem) SetKey(k Keyer, v []byte) error {
	c.mx.Lock()
	defer c.mx.Unlock()
	if c.fail {
		return errors.New("backend unavailable")
	}
	if c.kv == nil {
		c.kv = make(map[string][]byte)
	}
	c.kv[k.Key()] = v
	return nil
}

func (c *mem) GetKey(k Keyer) ([]byte, error) {
	c.mx.Lock()
	defer c.mx.Unlock()
	if c.fail {
		return nil, errors.New("backend unavailable")
	}
	if v, ok := c.kv[k.Key()]; ok {
		return v, nil
	}
	return nil, ErrNotCached
}

func TestDiskSetKey(t *testing.T) {
	d := &Disk{Root: t.TempDir()}
	k := NewKey("a")

	_, err := d.GetKey(k)
	assert.Equal(t, ErrNotCached, err)
	assert.False(t, d.Has(k))

	require.NoError(t, d.SetKey(k, []byte("hello")))
	assert.True(t, d.Has(k))
	assert.Equal(t, filepath.Join(d.Root, k.Key()), d.Path(k))

	fi, err := os.Stat(d.Path(k))
	require.NoError(t, err)
	assert.Equal(t, FileMode, fi.Mode().Perm())

	v, err := d.GetKey(k)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(v))

	// no temporary files left behind
	entries, err := ioutil.ReadDir(d.Root)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestStoreLookupFromShared(t *testing.T) {
	shared := &mem{}
	k := NewKey("b")
	require.NoError(t, shared.SetKey(k, []byte("remote")))

	s := NewStore(t.TempDir(), shared, log.NewNopLogger())
	path, ok := s.Lookup(k)
	require.True(t, ok)
	v, err := ioutil.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "remote", string(v))
}

func TestStoreSharedFailuresAreMisses(t *testing.T) {
	shared := &mem{fail: true}
	s := NewStore(t.TempDir(), shared, log.NewNopLogger())
	k := NewKey("c")

	_, ok := s.Lookup(k)
	assert.False(t, ok)

	path, err := s.Commit(k, []byte("local"))
	require.NoError(t, err)
	assert.Equal(t, s.Path(k), path)

	got, ok := s.Lookup(k)
	assert.True(t, ok)
	assert.Equal(t, path, got)
}

func TestStoreCommitSharesAndPublish(t *testing.T) {
	shared := &mem{}
	s := NewStore(t.TempDir(), shared, log.NewNopLogger())

	k := NewKey("d")
	_, err := s.Commit(k, []byte("x"))
	require.NoError(t, err)
	assert.Equal(t, []byte("x"), shared.kv[k.Key()])

	k2 := NewKey("e")
	require.NoError(t, WriteFile(s.Path(k2), []byte("y")))
	s.Publish(k2)
	assert.Equal(t, []byte("y"), shared.kv[k2.Key()])
}

func TestConcurrentCommitsOfOneKey(t *testing.T) {
	s := NewStore(t.TempDir(), nil, nil)
	k := NewKey("f")
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Commit(k, []byte("same content"))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	v, err := s.Disk.GetKey(k)
	require.NoError(t, err)
	assert.Equal(t, "same content", string(v))
}

package cache

import (
	"io/ioutil"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// FileMode is given to every file the service writes: rw-rw-r--, so
// the group running the web server can read and replace entries.
const FileMode os.FileMode = 0664

// Disk is a cache laid out as one file per key directly under Root.
// The existence of the file is the cache entry.
type Disk struct {
	Root string
}

// Path returns where the entry for k lives, whether or not it exists.
func (d *Disk) Path(k Keyer) string {
	return filepath.Join(d.Root, k.Key())
}

// Has reports whether the entry for k exists.
func (d *Disk) Has(k Keyer) bool {
	fi, err := os.Stat(d.Path(k))
	return err == nil && fi.Mode().IsRegular()
}

func (d *Disk) GetKey(k Keyer) ([]byte, error) {
	bytes, err := ioutil.ReadFile(d.Path(k))
	if os.IsNotExist(err) {
		return nil, ErrNotCached
	}
	return bytes, err
}

func (d *Disk) SetKey(k Keyer, v []byte) error {
	return WriteFile(d.Path(k), v)
}

// WriteFile writes v to path so that readers see either the previous
// file or the complete new one, never a partial write. The temporary
// file is created next to path so the final rename stays on one
// filesystem.
func WriteFile(path string, v []byte) error {
	return WriteFileWith(path, func(f *os.File) error {
		_, err := f.Write(v)
		return err
	})
}

// WriteFileWith is WriteFile for producers that stream their output.
func WriteFileWith(path string, write func(f *os.File) error) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0775); err != nil {
		return errors.Wrap(err, "creating cache directory")
	}
	tmp, err := ioutil.TempFile(dir, "."+filepath.Base(path)+".tmp-")
	if err != nil {
		return errors.Wrap(err, "creating temporary file")
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()
	if err = write(tmp); err != nil {
		return errors.Wrap(err, "writing temporary file")
	}
	if err = tmp.Sync(); err != nil {
		return errors.Wrap(err, "syncing temporary file")
	}
	if err = tmp.Close(); err != nil {
		return errors.Wrap(err, "closing temporary file")
	}
	if err = os.Chmod(tmp.Name(), FileMode); err != nil {
		return errors.Wrap(err, "setting file mode")
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return errors.Wrap(err, "moving file into place")
	}
	return nil
}

// WritePathWith is WriteFileWith for external programs that want a
// file name rather than an open file. produce must create the file;
// the name is reserved in the cache directory but does not exist when
// produce is called.
func WritePathWith(path string, produce func(tmp string) error) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0775); err != nil {
		return errors.Wrap(err, "creating cache directory")
	}
	tmp, err := ioutil.TempFile(dir, "."+filepath.Base(path)+".tmp-")
	if err != nil {
		return errors.Wrap(err, "creating temporary file")
	}
	name := tmp.Name()
	tmp.Close()
	os.Remove(name)
	defer func() {
		if err != nil {
			os.Remove(name)
		}
	}()
	if err = produce(name); err != nil {
		return err
	}
	if fi, statErr := os.Stat(name); statErr != nil || fi.Size() == 0 {
		return errors.New("program produced no output")
	}
	if err = os.Chmod(name, FileMode); err != nil {
		return errors.Wrap(err, "setting file mode")
	}
	if err = os.Rename(name, path); err != nil {
		return errors.Wrap(err, "moving file into place")
	}
	return nil
}

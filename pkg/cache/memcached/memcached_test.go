// +build integration

package memcached

import (
	"flag"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/small-bodies-node/sbnsis/pkg/cache"
)

var (
	memcachedIPs = flag.String("memcached-ips", "127.0.0.1:11211", "space-separated host:port values for memcached to connect to")
)

func newTestClient() *MemcacheClient {
	return NewFixedServerMemcacheClient(MemcacheConfig{
		Timeout:        time.Second,
		UpdateInterval: 1 * time.Minute,
		Logger:         log.With(log.NewLogfmtLogger(os.Stderr), "component", "memcached"),
	}, strings.Fields(*memcachedIPs)...)
}

func TestMemcache_ReadWrite(t *testing.T) {
	mc := newTestClient()
	defer mc.Stop()

	key := cache.NewKey("memcached", time.Now().String())
	_, err := mc.GetKey(key)
	assert.Equal(t, cache.ErrNotCached, err)

	require.NoError(t, mc.SetKey(key, []byte("test bytes")))
	cached, err := mc.GetKey(key)
	require.NoError(t, err)
	assert.Equal(t, "test bytes", string(cached))
}

func TestMemcache_SkipsOversizedValues(t *testing.T) {
	mc := newTestClient()
	defer mc.Stop()

	key := cache.NewKey("memcached-big", time.Now().String())
	require.NoError(t, mc.SetKey(key, make([]byte, DefaultMaxItemSize+1)))
	_, err := mc.GetKey(key)
	assert.Equal(t, cache.ErrNotCached, err)
}

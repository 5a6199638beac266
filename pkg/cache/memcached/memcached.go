/* This package implements the shared tier of the product cache using
memcached.

Products are stored under their content-address key with a fixed
expiry. memcached evicts under memory pressure; a miss just means the
product is read from a service instance's disk or produced again.

memcached refuses values larger than its item size limit (1MB by
default). Oversized products are skipped, since the disk tier always
holds them.
*/
package memcached

import (
	"fmt"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/bradfitz/gomemcache/memcache"
	"github.com/go-kit/kit/log"
	"github.com/pkg/errors"

	"github.com/small-bodies-node/sbnsis/pkg/cache"
)

const (
	// The expiry given to every entry.
	DefaultExpiry = 24 * time.Hour
	// Values above this size are not sent to memcached.
	DefaultMaxItemSize = 1024 * 1024
)

// MemcacheClient is a memcache client that gets its server list from SRV
// records, and periodically updates that ServerList.
type MemcacheClient struct {
	client      *memcache.Client
	serverList  *memcache.ServerList
	hostname    string
	service     string
	expiry      time.Duration
	maxItemSize int
	logger      log.Logger

	quit chan struct{}
	wait sync.WaitGroup
}

// MemcacheConfig defines how a MemcacheClient should be constructed.
type MemcacheConfig struct {
	Host           string
	Service        string
	Timeout        time.Duration
	UpdateInterval time.Duration
	Expiry         time.Duration
	MaxItemSize    int
	Logger         log.Logger
	MaxIdleConns   int
}

func newClient(config MemcacheConfig, servers *memcache.ServerList) *MemcacheClient {
	client := memcache.NewFromSelector(servers)
	client.Timeout = config.Timeout
	client.MaxIdleConns = config.MaxIdleConns

	c := &MemcacheClient{
		client:      client,
		serverList:  servers,
		hostname:    config.Host,
		service:     config.Service,
		expiry:      config.Expiry,
		maxItemSize: config.MaxItemSize,
		logger:      config.Logger,
		quit:        make(chan struct{}),
	}
	if c.expiry <= 0 {
		c.expiry = DefaultExpiry
	}
	if c.maxItemSize <= 0 {
		c.maxItemSize = DefaultMaxItemSize
	}
	if c.logger == nil {
		c.logger = log.NewNopLogger()
	}
	return c
}

func NewMemcacheClient(config MemcacheConfig) *MemcacheClient {
	var servers memcache.ServerList
	newClient := newClient(config, &servers)

	err := newClient.updateFromSRVRecords()
	if err != nil {
		newClient.logger.Log("err", errors.Wrapf(err, "Error setting memcache servers to '%v'", config.Host))
	}

	newClient.wait.Add(1)
	go newClient.updateLoop(config.UpdateInterval, newClient.updateFromSRVRecords)
	return newClient
}

// Does not use DNS, accepts static list of servers.
func NewFixedServerMemcacheClient(config MemcacheConfig, addresses ...string) *MemcacheClient {
	var servers memcache.ServerList
	servers.SetServers(addresses...)
	newClient := newClient(config, &servers)

	newClient.wait.Add(1)
	go newClient.updateLoop(config.UpdateInterval, func() error {
		return servers.SetServers(addresses...)
	})
	return newClient
}

// GetKey gets a product from the cache.
func (c *MemcacheClient) GetKey(k cache.Keyer) ([]byte, error) {
	cacheItem, err := c.client.Get(k.Key())
	if err != nil {
		if err == memcache.ErrCacheMiss {
			// Don't log on cache miss
			return nil, cache.ErrNotCached
		}
		c.logger.Log("err", errors.Wrap(err, "fetching product from memcache"))
		return nil, err
	}
	return cacheItem.Value, nil
}

// SetKey stores a product at a key.
func (c *MemcacheClient) SetKey(k cache.Keyer, v []byte) error {
	if len(v) > c.maxItemSize {
		return nil
	}
	if err := c.client.Set(&memcache.Item{
		Key:        k.Key(),
		Value:      v,
		Expiration: int32(c.expiry.Seconds()),
	}); err != nil {
		c.logger.Log("err", errors.Wrap(err, "storing in memcache"))
		return err
	}
	return nil
}

// Stop the memcache client.
func (c *MemcacheClient) Stop() {
	close(c.quit)
	c.wait.Wait()
}

func (c *MemcacheClient) updateLoop(updateInterval time.Duration, update func() error) {
	defer c.wait.Done()
	if updateInterval <= 0 {
		updateInterval = time.Minute
	}
	ticker := time.NewTicker(updateInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := update(); err != nil {
				c.logger.Log("err", errors.Wrap(err, "error updating memcache servers"))
			}
		case <-c.quit:
			return
		}
	}
}

// updateFromSRVRecords sets a memcache server list from SRV records. SRV
// priority & weight are ignored.
func (c *MemcacheClient) updateFromSRVRecords() error {
	_, addrs, err := net.LookupSRV(c.service, "tcp", c.hostname)
	if err != nil {
		return err
	}
	var servers []string
	for _, srv := range addrs {
		servers = append(servers, fmt.Sprintf("%s:%d", srv.Target, srv.Port))
	}
	// ServerList deterministically maps keys to _index_ of the server list.
	// Since DNS returns records in different order each time, we sort to
	// guarantee best possible match between nodes.
	sort.Strings(servers)
	return c.serverList.SetServers(servers...)
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "capcache.yaml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestLoadFileOverDefaults(t *testing.T) {
	p := writeFile(t, `
backend: redis
guard: redis
maxEntries: 50
prefix: "tenant-a:"
reapInterval: 250ms
redis:
  addr: redis:6379
  db: 2
`)
	cfg, err := Load(p)
	require.NoError(t, err)
	assert.Equal(t, BackendRedis, cfg.Backend)
	assert.Equal(t, int64(50), cfg.MaxEntries)
	assert.Equal(t, "tenant-a:", cfg.Prefix)
	assert.Equal(t, 250*time.Millisecond, cfg.ReapInterval)
	assert.Equal(t, 2, cfg.Redis.DB)
	assert.Equal(t, 300*time.Second, cfg.DefaultTTL()) // untouched default
}

func TestUnknownFieldRejected(t *testing.T) {
	p := writeFile(t, "maxEntrys: 5\n")
	_, err := Load(p)
	require.Error(t, err)
}

func TestEmptyFileUsesDefaults(t *testing.T) {
	cfg, err := Load(writeFile(t, ""))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"CAPCACHE_MAX_ENTRIES":   "7",
		"CAPCACHE_BACKEND":       "bigcache",
		"CAPCACHE_REAP_INTERVAL": "2s",
	}
	cfg := Default()
	require.NoError(t, cfg.ApplyEnv(func(k string) (string, bool) { v, ok := env[k]; return v, ok }))
	assert.Equal(t, int64(7), cfg.MaxEntries)
	assert.Equal(t, BackendBigcache, cfg.Backend)
	assert.Equal(t, 2*time.Second, cfg.ReapInterval)

	bad := Default()
	err := bad.ApplyEnv(func(k string) (string, bool) {
		if k == "CAPCACHE_MAX_ENTRIES" {
			return "many", true
		}
		return "", false
	})
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{name: "defaults", mutate: func(*Config) {}, ok: true},
		{name: "unknown backend", mutate: func(c *Config) { c.Backend = "etcd" }},
		{name: "unknown guard", mutate: func(c *Config) { c.Guard = "zk" }},
		{name: "zero max", mutate: func(c *Config) { c.MaxEntries = 0 }},
		{name: "negative ttl", mutate: func(c *Config) { c.DefaultTTLSeconds = -1 }},
		{name: "redis backend local guard", mutate: func(c *Config) { c.Backend = BackendRedis }},
		{name: "redis without addr", mutate: func(c *Config) { c.Guard = GuardRedis; c.Redis.Addr = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestMaxTTLBoundedForBigcache(t *testing.T) {
	cfg := Default()
	cfg.Backend = BackendBigcache
	assert.Equal(t, 24*time.Hour, cfg.MaxTTL(), "unset max ttl falls back to the LifeWindow")

	cfg.MaxTTLSeconds = 600
	assert.Equal(t, 10*time.Minute, cfg.MaxTTL())

	mem := Default()
	assert.Equal(t, time.Duration(0), mem.MaxTTL(), "memory backend stays unbounded")
}

func TestCodecMaxDecodeBytes(t *testing.T) {
	cfg, err := Load(writeFile(t, "codecMaxDecodeBytes: 4096\n"))
	require.NoError(t, err)
	assert.Equal(t, 4096, cfg.CodecMaxDecodeBytes)

	cfg.CodecMaxDecodeBytes = -1
	assert.Error(t, cfg.Validate())
}

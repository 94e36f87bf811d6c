package main

import (
	"context"
	"flag"
	"path/filepath"
	"testing"
	"time"

	"github.com/opd-ai/sosmesh/limits"
	"github.com/opd-ai/sosmesh/store"
	"github.com/opd-ai/sosmesh/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func defaultConfig(t *testing.T) *CLIConfig {
	t.Helper()
	config, err := parseCLIFlags(flag.NewFlagSet("test", flag.ContinueOnError), nil)
	require.NoError(t, err)
	return config
}

func TestParseCLIFlagsDefaults(t *testing.T) {
	config := defaultConfig(t)

	assert.Equal(t, "anonymous", config.nickname)
	assert.Equal(t, limits.DefaultMaxFrameSize, config.maxFrameSize)
	assert.Equal(t, uint(limits.DefaultTTL), config.defaultTTL)
	assert.True(t, config.encrypt)
	assert.True(t, config.autoAck)
	assert.Equal(t, store.DefaultPersistInterval, config.persistInterval)
	assert.False(t, config.hasLocation())
	assert.NoError(t, validateCLIConfig(config))
}

func TestParseCLIFlags(t *testing.T) {
	config, err := parseCLIFlags(flag.NewFlagSet("test", flag.ContinueOnError), []string{
		"-nickname", "rescue-7",
		"-peer-id", "0102030405060708",
		"-lat", "52.52",
		"-lon", "13.405",
		"-ttl", "5",
		"-encrypt=false",
	})
	require.NoError(t, err)
	require.NoError(t, validateCLIConfig(config))

	opts, err := buildOptions(config)
	require.NoError(t, err)
	assert.Equal(t, "rescue-7", opts.Nickname)
	assert.Equal(t, transport.PeerID{1, 2, 3, 4, 5, 6, 7, 8}, opts.PeerID)
	assert.Equal(t, uint8(5), opts.DefaultTTL)
	assert.Nil(t, opts.Crypto)
	require.NotNil(t, opts.Location)

	loc, err := opts.Location.CurrentLocation(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 52.52, loc.Latitude, 1e-9)
}

func TestValidateCLIConfig(t *testing.T) {
	tests := []struct {
		name        string
		mutate      func(*CLIConfig)
		errContains string
	}{
		{"empty listen", func(c *CLIConfig) { c.listenAddr = "" }, "listen address"},
		{"empty group", func(c *CLIConfig) { c.groupAddr = "" }, "group address"},
		{"frame too small", func(c *CLIConfig) { c.maxFrameSize = 32 }, "max frame"},
		{"frame too large", func(c *CLIConfig) { c.maxFrameSize = 70000 }, "max frame"},
		{"ttl zero", func(c *CLIConfig) { c.defaultTTL = 0 }, "ttl"},
		{"ttl too large", func(c *CLIConfig) { c.defaultTTL = 300 }, "ttl"},
		{"bad peer id", func(c *CLIConfig) { c.peerID = "xyz" }, "invalid peer id"},
		{"latitude out of range", func(c *CLIConfig) { c.latitude = 91 }, "out of range"},
		{"persist interval", func(c *CLIConfig) { c.dbPath = "x.db"; c.persistInterval = 0 }, "persist interval"},
		{"negative announce", func(c *CLIConfig) { c.announceEvery = -time.Second }, "announce interval"},
		{"log level", func(c *CLIConfig) { c.logLevel = "loud" }, "not a valid logrus Level"},
		{"log format", func(c *CLIConfig) { c.logFormat = "xml" }, "log format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := defaultConfig(t)
			tt.mutate(config)
			err := validateCLIConfig(config)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errContains)
		})
	}
}

func TestBuildOptionsWithEncryption(t *testing.T) {
	opts, err := buildOptions(defaultConfig(t))
	require.NoError(t, err)
	assert.NotNil(t, opts.Crypto)
	assert.Nil(t, opts.Location)
	assert.True(t, opts.PeerID == transport.PeerID{})
}

func TestRunPersistsRegistries(t *testing.T) {
	config := defaultConfig(t)
	config.listenAddr = "127.0.0.1:0"
	config.groupAddr = "127.0.0.1:9"
	config.dbPath = filepath.Join(t.TempDir(), "registry.db")
	config.announceEvery = 0

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, run(ctx, config))

	// The final snapshot leaves a readable database behind.
	db, err := store.Open(config.dbPath)
	require.NoError(t, err)
	defer db.Close()
	snap, err := db.Load()
	require.NoError(t, err)
	assert.Empty(t, snap.SOS)
}

func TestLoadOrCreateIdentityIsStable(t *testing.T) {
	dir := t.TempDir()

	peer, first, err := loadOrCreateIdentity(dir, []byte("pw"), transport.PeerID{})
	require.NoError(t, err)
	assert.NotEqual(t, transport.PeerID{}, peer)

	again, second, err := loadOrCreateIdentity(dir, []byte("pw"), transport.PeerID{})
	require.NoError(t, err)
	assert.Equal(t, peer, again)
	assert.Equal(t, first.Bundle(), second.Bundle())

	override := transport.PeerID{7, 7, 7, 7, 7, 7, 7, 7}
	got, _, err := loadOrCreateIdentity(dir, []byte("pw"), override)
	require.NoError(t, err)
	assert.Equal(t, override, got)

	_, _, err = loadOrCreateIdentity(dir, nil, transport.PeerID{})
	assert.Error(t, err)
}

func TestBuildOptionsWithIdentityDir(t *testing.T) {
	t.Setenv(passphraseEnv, "secret")
	config := defaultConfig(t)
	config.identityDir = t.TempDir()

	first, err := buildOptions(config)
	require.NoError(t, err)
	second, err := buildOptions(config)
	require.NoError(t, err)
	assert.Equal(t, first.PeerID, second.PeerID)

	config.encrypt = false
	assert.Error(t, validateCLIConfig(config))
}

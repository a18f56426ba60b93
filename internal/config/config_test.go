package config

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nft-market-etl/internal/domain"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("MNEMONIC_API_KEY", "mn-key")
	t.Setenv("GALLOP_API_KEY", "gl-key")
	t.Setenv("CASSANDRA_HOSTS", "10.0.0.1, 10.0.0.2")
	t.Setenv("CASSANDRA_KEYSPACE", "nft")
}

func TestFromEnv_Defaults(t *testing.T) {
	setRequired(t)

	cfg := FromEnv()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 30, cfg.Mnemonic.RateLimit)
	assert.Equal(t, time.Second, cfg.Mnemonic.RateWindow)
	assert.Equal(t, 30, cfg.BatchSize)
	assert.Equal(t, []string{"10.0.0.1", "10.0.0.2"}, cfg.Cassandra.Hosts)
	assert.Equal(t, domain.DurationSevenDays, cfg.Refresh.ShallowWindow)
	assert.Equal(t, domain.DurationOneYear, cfg.Refresh.DeepWindow)
	assert.Equal(t, BrokerChannel, cfg.Broker)
	assert.Equal(t, 1, cfg.Cassandra.Replication)
}

func TestFromEnv_ShallowWindowOff(t *testing.T) {
	setRequired(t)
	t.Setenv("SHALLOW_WINDOW", "off")
	t.Setenv("CASSANDRA_REPLICATION", "3")

	cfg := FromEnv()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, domain.Duration(""), cfg.Refresh.ShallowWindow)
	assert.Equal(t, 3, cfg.Cassandra.Replication)
}

func TestValidate_MissingAPIKey(t *testing.T) {
	setRequired(t)
	t.Setenv("GALLOP_API_KEY", "")

	err := FromEnv().Validate()
	require.Error(t, err)

	var cfgErr *ConfigurationError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, "GALLOP_API_KEY", cfgErr.Key)
}

func TestValidate_CassandraRequiresHosts(t *testing.T) {
	setRequired(t)
	t.Setenv("CASSANDRA_HOSTS", "")

	err := FromEnv().Validate()
	var cfgErr *ConfigurationError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, "CASSANDRA_HOSTS", cfgErr.Key)
}

func TestValidate_MemoryBackendSkipsCassandra(t *testing.T) {
	setRequired(t)
	t.Setenv("CASSANDRA_HOSTS", "")
	t.Setenv("STORAGE_BACKEND", StorageMemory)

	assert.NoError(t, FromEnv().Validate())
}

func TestValidate_BatchSizeCeiling(t *testing.T) {
	setRequired(t)
	t.Setenv("BATCH_SIZE", "31")

	err := FromEnv().Validate()
	var cfgErr *ConfigurationError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, "BATCH_SIZE", cfgErr.Key)
}

func TestValidate_HistorySettings(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{"unknown shallow window", "SHALLOW_WINDOW", "TWO_DAYS"},
		{"shallow window longer than a week", "SHALLOW_WINDOW", "ONE_YEAR"},
		{"shallow window not served", "SHALLOW_WINDOW", "NINETY_DAYS"},
		{"deep window not served", "DEEP_WINDOW", "ALL_TIME"},
		{"deep window unknown", "DEEP_WINDOW", "FOREVER"},
		{"unknown group-by", "HISTORY_GROUP_BY", "2h"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setRequired(t)
			t.Setenv(tt.key, tt.val)

			err := FromEnv().Validate()
			var cfgErr *ConfigurationError
			require.True(t, errors.As(err, &cfgErr), "got %v", err)
			assert.Equal(t, tt.key, cfgErr.Key)
		})
	}
}

func TestValidate_AcceptedHistorySettings(t *testing.T) {
	setRequired(t)
	t.Setenv("SHALLOW_WINDOW", "ONE_DAY")
	t.Setenv("DEEP_WINDOW", "THIRTY_DAYS")
	t.Setenv("HISTORY_GROUP_BY", "15m")

	assert.NoError(t, FromEnv().Validate())
}

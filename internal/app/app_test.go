package app

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	tg "github.com/abjtutorial/tutorbot/core/telegram"
	"github.com/abjtutorial/tutorbot/internal/config"
	"github.com/abjtutorial/tutorbot/internal/store/memory"
)

func testConfig(t *testing.T) *config.AppConfig {
	t.Helper()
	cfg := &config.AppConfig{}
	cfg.Telegram.Token = "123:abc"
	cfg.Telegram.AdminIDs = []int64{1}
	cfg.Channels.MainID = -100
	require.NoError(t, config.Normalize(cfg))
	return cfg
}

func TestBuildWithMemoryStore(t *testing.T) {
	cfg := testConfig(t)

	a, err := build(context.Background(), cfg, tg.BotOptions{Offline: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	assert.IsType(t, &memory.Store{}, a.store)
	assert.Nil(t, a.ops)

	opts, err := a.TelegramRunOptions()
	require.NoError(t, err)
	assert.Same(t, a.bot, opts.Bot)
	assert.NotEmpty(t, opts.Routes)

	names := make([]string, 0, len(opts.Middlewares))
	for _, mw := range opts.Middlewares {
		names = append(names, mw.Name)
	}
	assert.Equal(t, "session", names[len(names)-1])
	assert.Contains(t, a.registry.ListCallbacks(), "approve")
}

func TestBuildWithOpsEndpoint(t *testing.T) {
	cfg := testConfig(t)
	cfg.Ops.Listen = "127.0.0.1:0"

	a, err := build(context.Background(), cfg, tg.BotOptions{Offline: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	require.NotNil(t, a.ops)
}

func TestOpenStoreRejectsPostgresWithoutDB(t *testing.T) {
	cfg := testConfig(t)
	cfg.Storage.Driver = config.DriverPostgres

	_, err := openStore(context.Background(), cfg, nil)
	assert.Error(t, err)
}

func TestEngineConfigCopiesChannels(t *testing.T) {
	cfg := testConfig(t)
	cfg.Channels.LogID = -200
	cfg.Contact.Username = "@help"

	ec := engineConfig(cfg)
	assert.Equal(t, int64(-100), ec.MainChannelID)
	assert.Equal(t, int64(-200), ec.LogChannelID)
	assert.Equal(t, "@help", ec.Contact.Username)
	assert.Equal(t, "ABJ", ec.PaymentIDPrefix)
}

func TestNewRejectsNilConfig(t *testing.T) {
	_, err := New(context.Background(), nil)
	assert.Error(t, err)
}

package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/prospect-outreach/internal/config"
	"github.com/sells-group/prospect-outreach/internal/model"
	"github.com/sells-group/prospect-outreach/internal/resilience"
	"github.com/sells-group/prospect-outreach/internal/signal"
)

func withConfig(t *testing.T, c *config.Config) {
	t.Helper()
	prev := cfg
	cfg = c
	t.Cleanup(func() { cfg = prev })
}

func TestInitSource(t *testing.T) {
	t.Run("xlsx", func(t *testing.T) {
		withConfig(t, &config.Config{Signal: config.SignalConfig{Driver: "xlsx", Path: "list.xlsx"}})
		src, closeSrc, err := initSource()
		require.NoError(t, err)
		defer closeSrc()
		_, ok := src.(*signal.XLSXSource)
		assert.True(t, ok)
	})

	t.Run("missing path", func(t *testing.T) {
		withConfig(t, &config.Config{Signal: config.SignalConfig{Driver: "xlsx"}})
		_, _, err := initSource()
		assert.Error(t, err)
	})

	t.Run("unknown driver", func(t *testing.T) {
		withConfig(t, &config.Config{Signal: config.SignalConfig{Driver: "csv", Path: "x.csv"}})
		_, _, err := initSource()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unsupported signal driver")
	})
}

func TestInitProvider_Unsupported(t *testing.T) {
	withConfig(t, &config.Config{Outreach: config.OutreachConfig{Provider: "smtp"}})
	_, _, err := initProvider(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported email provider")
}

func TestUnavailableProvider_FailsPermanently(t *testing.T) {
	h := unavailableProvider(errors.New("no credentials"))
	res, err := h.HandleJob(context.Background(), &model.QueueJob{ID: "j1", JobType: model.JobTypeSendEmail})
	assert.Nil(t, res)
	require.Error(t, err)
	assert.True(t, resilience.IsPermanent(err))
	assert.Contains(t, err.Error(), "no credentials")
}

func TestStaleTimeout(t *testing.T) {
	withConfig(t, &config.Config{Runner: config.RunnerConfig{StaleTimeoutMins: 15}})
	assert.Equal(t, 15*time.Minute, staleTimeout())
}

func TestOpenStore_ValidatesConfig(t *testing.T) {
	withConfig(t, &config.Config{})
	_, err := openStore(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.database_url is required")
}

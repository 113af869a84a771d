package main

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avatarctic/ratelimit-planes/configs"
)

func TestLogScalingTradeOff(t *testing.T) {
	logger, hook := test.NewNullLogger()

	logScalingTradeOff(logger, configs.LimitsConfig{DefaultLimit: 100, DefaultWindowSeconds: 60})

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, logrus.WarnLevel, entry.Level)
	assert.Contains(t, entry.Message, "N x limit")
	assert.Equal(t, "per-node", entry.Data["counting"])
	assert.Equal(t, 100, entry.Data["default_limit"])
	assert.Equal(t, 60, entry.Data["default_window"])
}

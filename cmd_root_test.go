package main

import (
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

// TestNewLogger tests level and style parsing.
func TestNewLogger(t *testing.T) {
	logger, err := newLogger("warn", LogStyleJSON)
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(zapcore.InfoLevel))
	assert.True(t, logger.Core().Enabled(zapcore.WarnLevel))
	assert.True(t, logger.Core().Enabled(zapcore.ErrorLevel))

	logger, err = newLogger("debug", LogStyleTerminal)
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(zapcore.DebugLevel))

	logger, err = newLogger("anything", LogStyleNoop)
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(zapcore.ErrorLevel))

	_, err = newLogger("loud", LogStyleJSON)
	assert.ErrorIs(t, err, ErrInvalidConfig)
	_, err = newLogger("info", "xml")
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

// TestSeedsIndependentStreams tests that each consumer gets its own
// reproducible stream.
func TestSeedsIndependentStreams(t *testing.T) {
	s := Seeds{Base: 42}
	assert.Equal(t, s.Init().Int63(), s.Init().Int63())
	assert.NotEqual(t, s.Init().Int63(), s.Split().Int63())
	assert.NotEqual(t, s.Shuffle().Int63(), s.Dropout().Int63())
	assert.NotEqual(t, s.Init().Int63(), Seeds{Base: 43}.Init().Int63())
}

// TestConfigDefaults tests that viper defaults reproduce the built-in
// configurations and that overrides flow through.
func TestConfigDefaults(t *testing.T) {
	viper.Reset()
	t.Cleanup(func() {
		viper.Reset()
		setConfigDefaults()
	})
	setConfigDefaults()

	assert.Equal(t, DefaultEncoderConfig(), encoderConfigFromViper())
	assert.Equal(t, DefaultTrainingConfig(), trainingConfigFromViper())

	viper.Set("encoder.num_layers", 3)
	viper.Set("training.optimizer", OptimizerSGD)
	assert.Equal(t, 3, encoderConfigFromViper().NumLayers)
	assert.Equal(t, OptimizerSGD, trainingConfigFromViper().Optimizer)
}

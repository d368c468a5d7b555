package main

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/hemant/resqueue"
)

func TestParseLogLevelVocabulary(t *testing.T) {
	assert.Equal(t, resqueue.FatalLevel, parseLogLevel("NONE"))
	assert.Equal(t, resqueue.FatalLevel, parseLogLevel("none"))
	assert.Equal(t, resqueue.InfoLevel, parseLogLevel("NORMAL"))
	assert.Equal(t, resqueue.InfoLevel, parseLogLevel("normal"))
	assert.Equal(t, resqueue.DebugLevel, parseLogLevel("VERBOSE"))
	assert.Equal(t, resqueue.DebugLevel, parseLogLevel("verbose"))
	assert.Equal(t, resqueue.InfoLevel, parseLogLevel(""))
	assert.Equal(t, resqueue.InfoLevel, parseLogLevel("garbage"))
}

func TestParseQueuesSplitsAndTrims(t *testing.T) {
	assert.Nil(t, parseQueues(""))
	assert.Equal(t, []string{"high", "low"}, parseQueues("high, low"))
	assert.Equal(t, []string{"*"}, parseQueues("*"))
}

func TestParseIntervalDefaultsNegativeWhenUnset(t *testing.T) {
	d, err := parseInterval("")
	assert.NoError(t, err)
	assert.True(t, d < 0)
}

func TestParseIntervalZeroIsSingleShot(t *testing.T) {
	d, err := parseInterval("0")
	assert.NoError(t, err)
	assert.Equal(t, 0, int(d))
}

func TestParseIntervalRejectsMalformed(t *testing.T) {
	_, err := parseInterval("not-a-number")
	assert.Error(t, err)
}

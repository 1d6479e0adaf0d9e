package util

import (
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTimeRFC3339(t *testing.T) {
	s := "2024-10-10T10:10:10Z"
	got, ok := ParseTime(s)
	require.True(t, ok)
	assert.Equal(t, s, got.UTC().Format(time.RFC3339))
}

func TestParseTimeUnix(t *testing.T) {
	ref := time.Date(2024, 10, 10, 10, 10, 10, 0, time.UTC)

	got, ok := ParseTime(strconv.FormatInt(ref.Unix(), 10))
	require.True(t, ok)
	assert.Equal(t, ref.Unix(), got.Unix())

	got, ok = ParseTime(strconv.FormatInt(ref.UnixMilli()+250, 10))
	require.True(t, ok)
	assert.Equal(t, ref.UnixMilli()+250, got.UnixMilli())
}

func TestParseTimeRejects(t *testing.T) {
	for _, s := range []string{"", "yesterday", "-5", "0"} {
		_, ok := ParseTime(s)
		assert.False(t, ok, s)
	}
}

func TestParseTimeDefault(t *testing.T) {
	def := time.Date(2024, 10, 10, 10, 10, 10, 0, time.UTC)
	assert.True(t, ParseTimeDefault("", def).Equal(def))
	assert.True(t, ParseTimeDefault("garbage", def).Equal(def))
}

func TestClamp(t *testing.T) {
	assert.Equal(t, 50*time.Millisecond, Clamp(time.Millisecond, 50*time.Millisecond, 0))
	assert.Equal(t, time.Second, Clamp(time.Minute, 0, time.Second))
	assert.Equal(t, 2*time.Second, Clamp(2*time.Second, time.Second, 3*time.Second))
}

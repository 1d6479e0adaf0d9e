package kafka

import (
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncode(t *testing.T) {
	b, err := encode([]byte("raw"))
	require.NoError(t, err)
	assert.Equal(t, "raw", string(b))

	b, err = encode("text")
	require.NoError(t, err)
	assert.Equal(t, "text", string(b))

	b, err = encode(map[string]int{"generation": 7})
	require.NoError(t, err)
	assert.JSONEq(t, `{"generation":7}`, string(b))

	_, err = encode(make(chan int))
	assert.ErrorContains(t, err, "marshal value")
}

func TestCompressionCodec(t *testing.T) {
	for name, want := range map[string]kafka.Compression{
		"lz4": kafka.Lz4, "snappy": kafka.Snappy, "zstd": kafka.Zstd, "gzip": kafka.Gzip, "none": 0,
	} {
		got, err := compressionCodec(name)
		require.NoError(t, err, name)
		assert.Equal(t, want, got, name)
	}
	_, err := compressionCodec("brotli")
	assert.Error(t, err)
}

func TestHeadersCarryTraceID(t *testing.T) {
	assert.Nil(t, headers(nil, ""))

	h := headers(map[string]string{"kind": "snapshot"}, "t-1")
	require.Len(t, h, 2)
	got := map[string]string{}
	for _, kv := range h {
		got[kv.Key] = string(kv.Value)
	}
	assert.Equal(t, map[string]string{"kind": "snapshot", "trace_id": "t-1"}, got)

	h = headers(map[string]string{"trace_id": "explicit"}, "t-1")
	require.Len(t, h, 1)
	assert.Equal(t, "explicit", string(h[0].Value))
}

func TestConstructorsRequireBrokers(t *testing.T) {
	_, err := NewProducer()
	assert.Error(t, err)
	_, err = NewConsumer(nil, WithConsumerGroupID("vaultpulse"))
	assert.Error(t, err)
	_, err = NewProducer(WithBrokers([]string{"localhost:9092"}), WithCompression("brotli"))
	assert.Error(t, err)

	p, err := NewProducer(WithBrokers([]string{"localhost:9092"}), WithCompression("lz4"), WithHashByKey(true))
	require.NoError(t, err)
	assert.Equal(t, "lz4", p.codec)
	require.NoError(t, p.Close())
}

func TestBackoffWithJitterStaysInRange(t *testing.T) {
	min, max := 50*time.Millisecond, time.Second
	for attempt := 1; attempt <= 40; attempt++ {
		d := backoffWithJitter(min, max, attempt)
		assert.Greater(t, d, time.Duration(0))
		assert.LessOrEqual(t, d, max)
	}
	assert.LessOrEqual(t, backoffWithJitter(min, max, 1), min)
}

func TestStartOffset(t *testing.T) {
	assert.Equal(t, kafka.LastOffset, startOffset("latest"))
	assert.Equal(t, kafka.FirstOffset, startOffset("earliest"))
	assert.Equal(t, kafka.FirstOffset, startOffset(""))
}

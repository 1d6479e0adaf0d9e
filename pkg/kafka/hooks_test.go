package kafka

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHookChainOrder(t *testing.T) {
	var calls []string
	mk := func(name string) ConsumerHook {
		return HookFuncs{
			Before: func(ctx context.Context, _ string, km kafka.Message, data []byte) (context.Context, kafka.Message, []byte, error) {
				calls = append(calls, "before:"+name)
				return ctx, km, append(data, name...), nil
			},
			After: func(context.Context, string, kafka.Message, []byte, error) {
				calls = append(calls, "after:"+name)
			},
		}
	}
	chain := NewHookChain(mk("a"), nil, mk("b"))

	ctx, km, data, err := chain.BeforeHandle(context.Background(), "t", kafka.Message{}, []byte(">"))
	require.NoError(t, err)
	assert.Equal(t, ">ab", string(data))
	chain.AfterHandle(ctx, "t", km, data, nil)
	assert.Equal(t, []string{"before:a", "before:b", "after:b", "after:a"}, calls)
}

func TestHookChainRecoversPanics(t *testing.T) {
	var notified error
	chain := NewHookChain(
		HookFuncs{Err: func(_ context.Context, _ string, _ kafka.Message, _ []byte, err error) { notified = err }},
		HookFuncs{Before: func(context.Context, string, kafka.Message, []byte) (context.Context, kafka.Message, []byte, error) {
			panic("boom")
		}},
		HookFuncs{After: func(context.Context, string, kafka.Message, []byte, error) { panic("after") }},
	)

	_, _, data, err := chain.BeforeHandle(context.Background(), "t", kafka.Message{}, []byte("x"))
	var herr *HookError
	require.ErrorAs(t, err, &herr)
	assert.Equal(t, "ERR_PANIC", herr.Code)
	assert.Equal(t, "x", string(data))
	assert.Equal(t, err, notified)

	assert.NotPanics(t, func() { chain.AfterHandle(context.Background(), "t", kafka.Message{}, nil, nil) })
}

func TestTraceHook(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	km := kafka.Message{Headers: []kafka.Header{{Key: "trace_id", Value: []byte("abc")}}}

	ctx, _, _, err := TraceHook(func() time.Time { return at }).BeforeHandle(context.Background(), "t", km, nil)
	require.NoError(t, err)
	assert.Equal(t, "abc", TraceIDFrom(ctx))
	start, ok := StartTimeFrom(ctx)
	require.True(t, ok)
	assert.Equal(t, at, start)

	ctx, _, _, _ = TraceHook(nil).BeforeHandle(context.Background(), "t", kafka.Message{}, nil)
	assert.Empty(t, TraceIDFrom(ctx))
}

func TestHookErrorUnwraps(t *testing.T) {
	base := errors.New("bad payload")
	err := &HookError{Code: "ERR_VALIDATION", Err: base}
	assert.ErrorIs(t, err, base)
	assert.Equal(t, "ERR_VALIDATION: bad payload", err.Error())
	assert.Equal(t, "ERR_VALIDATION", (&HookError{Code: "ERR_VALIDATION"}).Error())
}

func TestLoggingHookNilLogger(t *testing.T) {
	h := LoggingHook(nil)
	assert.NotPanics(t, func() {
		h.OnError(WithTraceID(context.Background(), "id"), "t", kafka.Message{Partition: 1, Offset: 9}, nil, errors.New("x"))
	})
}

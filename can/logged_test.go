package can

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

type recordedCall struct {
	level LogLevel
	msg   string
	kv    []any
}

type recordingLogger struct {
	calls []recordedCall
}

func (r *recordingLogger) Log(level LogLevel, msg string, kv ...any) {
	r.calls = append(r.calls, recordedCall{level: level, msg: msg, kv: kv})
}

func (r *recordingLogger) has(level LogLevel, msg string) bool {
	for _, c := range r.calls {
		if c.level == level && c.msg == msg {
			return true
		}
	}
	return false
}

func TestLoggedBus_WriteAndReadLogging(t *testing.T) {
	ctx := context.Background()
	lb := NewLoopbackBus()
	defer lb.Close()

	logger := &recordingLogger{}
	sender := NewLoggedBus(lb.Open(0), logger, LevelInfo, false, true)
	receiver := NewLoggedBus(lb.Open(1), logger, LevelInfo, true, false)
	defer sender.Close()
	defer receiver.Close()

	frame := Frame{ArbitrationID: 0x123, DLC: 3, Data: []byte{1, 2, 3}}
	require.NoError(t, sender.Send(ctx, frame))
	_, err := receiver.Receive(ctx)
	require.NoError(t, err)

	require.True(t, logger.has(LevelInfo, "can send"))
	require.True(t, logger.has(LevelInfo, "can receive"))
}

func TestLoggedBus_ErrorLogging(t *testing.T) {
	ctx := context.Background()
	lb := NewLoopbackBus()
	rx := lb.Open(0)
	_ = rx.Close()

	logger := &recordingLogger{}
	wrapped := NewLoggedBus(rx, logger, LevelInfo, true, false)
	_, _ = wrapped.Receive(ctx)

	require.True(t, logger.has(LevelError, "can receive error"))
}

func TestSlogLogger_DefaultsWhenNil(t *testing.T) {
	l := NewSlogLogger(nil)
	require.NotNil(t, l.Logger)
	l.Log(LevelInfo, "test message", "k", "v")
}

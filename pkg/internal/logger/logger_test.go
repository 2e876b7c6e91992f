package logger

import (
	"bytes"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBufferedLogger(level Level) (*DefaultLogger, *bytes.Buffer) {
	l := NewDefaultLogger(level)
	var buf bytes.Buffer
	l.entry.Logger.SetOutput(&buf)
	l.entry.Logger.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})
	return l, &buf
}

func TestDefaultLoggerLevels(t *testing.T) {
	l, buf := newBufferedLogger(LevelWarn)

	l.Debug("debug %d", 1)
	l.Info("info %d", 2)
	assert.Empty(t, buf.String())

	l.Warn("warn %d", 3)
	assert.Contains(t, buf.String(), "warn 3")

	l.SetLevel(LevelDebug)
	l.Debug("debug %d", 4)
	assert.Contains(t, buf.String(), "debug 4")
}

func TestDefaultLoggerComponent(t *testing.T) {
	l, buf := newBufferedLogger(LevelInfo)
	l.WithComponent("fdl").Info("hello")
	require.Contains(t, buf.String(), "component=fdl")
	require.Contains(t, buf.String(), "hello")
}

func TestLevelString(t *testing.T) {
	assert.Equal(t, "DEBUG", LevelDebug.String())
	assert.Equal(t, "ERROR", LevelError.String())
	assert.Equal(t, "UNKNOWN", Level(42).String())
}

func TestOrNoOp(t *testing.T) {
	assert.IsType(t, &NoOpLogger{}, OrNoOp(nil))
	l := NewDefaultLogger(LevelInfo)
	assert.Same(t, l, OrNoOp(l))
}

func TestFrameDebugToggle(t *testing.T) {
	defer SetFrameDebug(false)
	assert.False(t, FrameDebug())
	SetFrameDebug(true)
	assert.True(t, FrameDebug())
}

// Run with -race: the flag is toggled while transceivers read it
func TestFrameDebugConcurrentToggle(t *testing.T) {
	defer SetFrameDebug(false)
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(2)
		go func(on bool) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				SetFrameDebug(on)
			}
		}(i%2 == 0)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_ = FrameDebug()
			}
		}()
	}
	wg.Wait()

	SetFrameDebug(true)
	assert.True(t, FrameDebug())
}

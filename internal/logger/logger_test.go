package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// captureOutput redirects logger output to a buffer for testing, and
// returns a cleanup function restoring the original output.
func captureOutput() (*bytes.Buffer, func()) {
	buf := new(bytes.Buffer)

	mu.Lock()
	originalOutput := output
	originalColor := useColor
	output = buf
	useColor = false
	mu.Unlock()

	reconfigure()

	cleanup := func() {
		mu.Lock()
		output = originalOutput
		useColor = originalColor
		mu.Unlock()
		reconfigure()
	}

	return buf, cleanup
}

func TestLevelFiltering(t *testing.T) {
	t.Run("DebugShowsAll", func(t *testing.T) {
		buf, cleanup := captureOutput()
		defer cleanup()

		SetLevel("DEBUG")
		Debug("append reserved")
		Info("region allocated")
		Warn("ring overflow, retrying")
		Error("recovery found a torn write")

		out := buf.String()
		assert.Contains(t, out, "DEBUG")
		assert.Contains(t, out, "append reserved")
		assert.Contains(t, out, "region allocated")
		assert.Contains(t, out, "ring overflow, retrying")
		assert.Contains(t, out, "recovery found a torn write")
	})

	t.Run("InfoFiltersDebug", func(t *testing.T) {
		buf, cleanup := captureOutput()
		defer cleanup()

		SetLevel("INFO")
		Debug("append reserved")
		Info("region allocated")

		out := buf.String()
		assert.NotContains(t, out, "append reserved")
		assert.Contains(t, out, "region allocated")
	})

	t.Run("ErrorShowsOnlyErrors", func(t *testing.T) {
		buf, cleanup := captureOutput()
		defer cleanup()

		SetLevel("ERROR")
		Debug("append reserved")
		Info("region allocated")
		Warn("ring overflow, retrying")
		Error("recovery found a torn write")

		out := buf.String()
		assert.NotContains(t, out, "region allocated")
		assert.NotContains(t, out, "ring overflow")
		assert.Contains(t, out, "recovery found a torn write")
	})
}

func TestSetLevelIgnoresInvalid(t *testing.T) {
	SetLevel("DEBUG")
	SetLevel("NOT_A_LEVEL")
	assert.Equal(t, int32(LevelDebug), currentLevel.Load())
}

func TestJSONFormat(t *testing.T) {
	buf, cleanup := captureOutput()
	defer cleanup()

	SetFormat("json")
	SetLevel("DEBUG")
	Info("region allocated", KeyRegionOffset, uint64(4096), KeySize, uint64(65536))

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "region allocated", decoded["msg"])
	assert.EqualValues(t, 4096, decoded[KeyRegionOffset])
	assert.EqualValues(t, 65536, decoded[KeySize])

	SetFormat("text")
}

func TestFieldHelpers(t *testing.T) {
	buf, cleanup := captureOutput()
	defer cleanup()

	SetLevel("DEBUG")
	With(StreamID("s1"), RegionOffset(4096), Timestamp(7)).Info("appended")

	out := buf.String()
	assert.Contains(t, out, "stream_id=s1")
	assert.Contains(t, out, "region_offset=4096")
	assert.Contains(t, out, "timestamp=7")
}

func TestContextLogging(t *testing.T) {
	buf, cleanup := captureOutput()
	defer cleanup()

	SetLevel("DEBUG")
	lc := NewLogContext("s1").WithRegion(4096).WithProducer(2)
	ctx := WithContext(context.Background(), lc)

	InfoCtx(ctx, "entry published")

	out := buf.String()
	assert.Contains(t, out, "stream_id=s1")
	assert.Contains(t, out, "region_offset=4096")
	assert.Contains(t, out, "producer_id=2")
}

func TestLogContextClone(t *testing.T) {
	lc := NewLogContext("s1")
	clone := lc.WithRegion(8192)

	assert.Equal(t, uint64(0), lc.RegionOffset)
	assert.Equal(t, uint64(8192), clone.RegionOffset)
	assert.Nil(t, (*LogContext)(nil).Clone())
}

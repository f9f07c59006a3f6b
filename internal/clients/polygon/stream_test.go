package polygon

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/barkeep/internal/domain"
)

func newTestStream(t *testing.T) (*Stream, *[]domain.Bar, *[]string) {
	t.Helper()
	var bars []domain.Bar
	var symbols []string
	stream := NewStream(StreamConfig{APIKey: "test-key", Symbols: []string{"AAPL"}},
		func(symbol string, bar domain.Bar) {
			symbols = append(symbols, symbol)
			bars = append(bars, bar)
		}, zerolog.Nop())
	return stream, &bars, &symbols
}

func TestHandleMessageDeliversMinuteBars(t *testing.T) {
	stream, bars, symbols := newTestStream(t)

	msg := []byte(`[
		{"ev":"AM","sym":"AAPL","o":100,"h":101,"l":99,"c":100.5,"v":1500,"s":1699920000000,"e":1699920060000},
		{"ev":"AM","sym":"MSFT","o":300,"h":302,"l":299,"c":301,"v":800,"s":1699920000000,"e":1699920060000}
	]`)
	require.NoError(t, stream.handleMessage(msg))

	require.Len(t, *bars, 2)
	assert.Equal(t, []string{"AAPL", "MSFT"}, *symbols)
	assert.Equal(t, int64(1_699_920_000_000), (*bars)[0].Timestamp)
	assert.Equal(t, 100.5, (*bars)[0].Close)
	assert.Equal(t, 800.0, (*bars)[1].Volume)
}

func TestHandleMessageDropsCorruptBars(t *testing.T) {
	stream, bars, _ := newTestStream(t)

	// high below low
	msg := []byte(`[{"ev":"AM","sym":"AAPL","o":100,"h":98,"l":99,"c":100,"v":1,"s":1699920000000,"e":1699920060000}]`)
	require.NoError(t, stream.handleMessage(msg))
	assert.Empty(t, *bars)
}

func TestHandleMessageTruncatesUnalignedStart(t *testing.T) {
	stream, bars, _ := newTestStream(t)

	msg := []byte(`[{"ev":"AM","sym":"AAPL","o":100,"h":101,"l":99,"c":100,"v":1,"s":1699920000500,"e":1699920060000}]`)
	require.NoError(t, stream.handleMessage(msg))
	require.Len(t, *bars, 1)
	assert.Equal(t, int64(1_699_920_000_000), (*bars)[0].Timestamp)
}

func TestHandleMessageIgnoresStatusAndUnknownEvents(t *testing.T) {
	stream, bars, _ := newTestStream(t)

	msg := []byte(`[{"ev":"status","status":"connected","message":"Connected Successfully"},{"ev":"T","sym":"AAPL"}]`)
	require.NoError(t, stream.handleMessage(msg))
	assert.Empty(t, *bars)
}

func TestHandleMessageAuthFailure(t *testing.T) {
	stream, _, _ := newTestStream(t)

	msg := []byte(`[{"ev":"status","status":"auth_failed","message":"invalid key"}]`)
	err := stream.handleMessage(msg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid key")
}

func TestHandleMessageRejectsNonArray(t *testing.T) {
	stream, _, _ := newTestStream(t)
	assert.Error(t, stream.handleMessage([]byte(`{"ev":"AM"}`)))
}

func TestCalculateBackoff(t *testing.T) {
	assert.Equal(t, 5*time.Second, calculateBackoff(1))
	assert.Equal(t, 10*time.Second, calculateBackoff(2))
	assert.Equal(t, maxReconnectDelay, calculateBackoff(20))
}

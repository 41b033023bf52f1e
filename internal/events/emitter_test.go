package events

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStreamEmitterWritesLinesAndFlushes(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteStreamHeaders(rec)
	s := NewStreamEmitter(rec)

	require.NoError(t, s.Emit(CommandStart("a")))
	assert.True(t, rec.Flushed, "each event must be flushed as it is written")
	require.NoError(t, s.Emit(Stdout("a", "line")))
	require.NoError(t, s.Emit(CommandEnd("a")))
	require.NoError(t, s.Emit(Error("failed")))

	assert.Equal(t, ContentType, rec.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))

	lines := strings.Split(strings.TrimSuffix(rec.Body.String(), "\n"), "\n")
	require.Len(t, lines, 4)
	assert.JSONEq(t, `{"type":"error","error":"failed"}`, lines[3])
}

func TestStreamEmitterRejectsAfterTerminal(t *testing.T) {
	var buf bytes.Buffer
	s := NewStreamEmitter(&buf)

	require.NoError(t, s.Emit(Canceled("Run canceled.")))
	assert.True(t, s.Terminated())
	assert.ErrorIs(t, s.Emit(Error("late")), ErrTerminated)
	assert.Equal(t, 1, strings.Count(buf.String(), "\n"))
}

func TestAccumulator(t *testing.T) {
	a := NewAccumulator()

	_, ok := a.Terminal()
	assert.False(t, ok)

	require.NoError(t, a.Emit(CommandStart("a")))
	require.NoError(t, a.Emit(Done("train-x", resultFixture())))
	assert.ErrorIs(t, a.Emit(Error("late")), ErrTerminated)

	assert.Len(t, a.Events(), 2)
	term, ok := a.Terminal()
	require.True(t, ok)
	assert.Equal(t, TypeDone, term.Type)

	rec := httptest.NewRecorder()
	require.NoError(t, a.WriteJSON(rec, http.StatusOK))
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	// The single-object body decodes as one terminal event
	var got []Event
	require.NoError(t, Decode(rec.Body, func(e Event) error {
		got = append(got, e)
		return nil
	}))
	require.Len(t, got, 1)
	assert.Equal(t, "train-x", got[0].RunID)
}

func TestObserve(t *testing.T) {
	a := NewAccumulator()
	var seen []Type
	e := Observe(a, func(ev Event) { seen = append(seen, ev.Type) })

	require.NoError(t, e.Emit(Stdout("a", "b")))
	require.NoError(t, e.Emit(Error("x")))
	assert.Equal(t, []Type{TypeStdout, TypeError}, seen)
	assert.Len(t, a.Events(), 2)
}

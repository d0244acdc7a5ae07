package tracking

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecognizer_SingleFlight(t *testing.T) {
	t.Parallel()

	met, _ := testMetrics(t)
	matcher := newBlockingMatcher(NewObject(Label{Name: "a", Position: Point{X: 1, Y: 2}}))
	r := NewRecognizer(matcher, met)

	assert.False(t, r.IsRunning())

	results := make(chan RecognitionResult, 2)
	onDone := func(res RecognitionResult) { results <- res }

	cycle := uuid.New()
	require.True(t, r.Start(testFrame(1), cycle, onDone))
	<-matcher.entered
	assert.True(t, r.IsRunning())

	assert.False(t, r.Start(testFrame(2), uuid.New(), onDone))
	assert.True(t, r.IsRunning())

	close(matcher.gate)
	r.Join()
	assert.False(t, r.IsRunning())
	assert.Equal(t, int64(1), matcher.calls.Load())

	res := <-results
	assert.Equal(t, uint64(1), res.Frame.Seq)
	assert.Equal(t, cycle, res.Cycle)
	assert.Equal(t, []string{"a"}, res.Object.Names())
	assert.NoError(t, res.Err)
	assert.Empty(t, results)

	// idle again: a new request is accepted
	matcher.gate = nil
	require.True(t, r.Start(testFrame(3), uuid.New(), onDone))
	<-matcher.entered
	r.Join()
	assert.Equal(t, uint64(3), (<-results).Frame.Seq)
}

func TestRecognizer_RunningDuringCallback(t *testing.T) {
	t.Parallel()

	met, _ := testMetrics(t)
	r := NewRecognizer(&scriptedMatcher{}, met)

	observed := make(chan bool, 1)
	require.True(t, r.Start(testFrame(1), uuid.New(), func(RecognitionResult) {
		observed <- r.IsRunning()
	}))
	r.Join()

	assert.True(t, <-observed)
	assert.False(t, r.IsRunning())
}

func TestRecognizer_FailuresBecomeMisses(t *testing.T) {
	t.Parallel()

	found := NewObject(Label{Name: "a"})
	tests := []struct {
		name    string
		matcher Matcher
	}{
		{name: "error", matcher: &scriptedMatcher{object: found, err: errors.New("bad frame")}},
		{name: "panic", matcher: &scriptedMatcher{object: found, panics: true}},
		{name: "no matcher", matcher: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			met, _ := testMetrics(t)
			r := NewRecognizer(tt.matcher, met)

			done := make(chan RecognitionResult, 1)
			require.True(t, r.Start(testFrame(4), uuid.New(), func(res RecognitionResult) { done <- res }))

			select {
			case res := <-done:
				assert.True(t, res.Empty())
				assert.Error(t, res.Err)
			case <-time.After(5 * time.Second):
				t.Fatal("recognition did not complete")
			}
			r.Join()
			assert.False(t, r.IsRunning())
		})
	}
}

func TestRecognizer_SetMatcher(t *testing.T) {
	t.Parallel()

	met, _ := testMetrics(t)
	r := NewRecognizer(nil, met)
	r.SetMatcher(&scriptedMatcher{object: NewObject(Label{Name: "b"})})

	done := make(chan RecognitionResult, 1)
	require.True(t, r.Start(testFrame(1), uuid.New(), func(res RecognitionResult) { done <- res }))
	r.Join()

	assert.Equal(t, []string{"b"}, (<-done).Object.Names())
}

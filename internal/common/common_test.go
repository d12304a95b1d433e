package common

import (
	"errors"
	"fmt"
	"io/fs"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimer(t *testing.T) {
	timer := NewNamedTimer("propose")
	assert.Equal(t, "propose", timer.Name())

	time.Sleep(10 * time.Millisecond)

	duration := timer.Stop()
	assert.GreaterOrEqual(t, duration, 10*time.Millisecond)
	assert.Equal(t, duration, timer.Duration())
	assert.Contains(t, timer.String(), "propose")
}

func TestStageTimings(t *testing.T) {
	st := NewStageTimings()
	a := &Timer{name: "classify", duration: 5 * time.Millisecond}
	b := &Timer{name: "classify", duration: 7 * time.Millisecond}
	c := &Timer{name: "nms", duration: time.Millisecond}
	st.Record(a)
	st.Record(b)
	st.Record(c)

	snap := st.Snapshot()
	assert.Equal(t, 12*time.Millisecond, snap["classify"])
	assert.Equal(t, 13*time.Millisecond, st.Total())
	assert.Equal(t, "classify=12ms nms=1ms", st.String())
}

func TestErrorsUnwrap(t *testing.T) {
	inner := fs.ErrNotExist
	wrapped := fmt.Errorf("detect: %w", &InputError{Path: "shelf.jpg", Err: inner})

	var inErr *InputError
	require.ErrorAs(t, wrapped, &inErr)
	assert.Equal(t, "shelf.jpg", inErr.Path)
	assert.ErrorIs(t, wrapped, fs.ErrNotExist)
	assert.Contains(t, wrapped.Error(), "shelf.jpg")

	model := &ModelUnavailableError{Model: "classifier", Path: "m.onnx", Err: inner}
	assert.ErrorIs(t, model, fs.ErrNotExist)
	assert.Contains(t, model.Error(), "m.onnx")

	stage := &StageError{Stage: "classifying", Err: model}
	var mErr *ModelUnavailableError
	require.ErrorAs(t, stage, &mErr)

	per := &PerDetectionVerificationError{Index: 2, Code: "grozi_6", Err: errors.New("timeout")}
	assert.Contains(t, per.Error(), "grozi_6")

	unavailable := &VerifierUnavailableError{Reason: "no API key"}
	assert.Equal(t, "verifier unavailable: no API key", unavailable.Error())
	assert.NoError(t, errors.Unwrap(unavailable))
}

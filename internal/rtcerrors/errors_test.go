package rtcerrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorFormatting(t *testing.T) {
	err := New(KindMedia, CodeDeviceBusy, "camera is busy")
	assert.Equal(t, "media/device-busy: camera is busy", err.Error())

	cause := errors.New("v4l2: EBUSY")
	wrapped := Wrap(cause, KindMedia, CodeDeviceBusy, "camera is busy")
	assert.Contains(t, wrapped.Error(), "EBUSY")
	assert.Equal(t, cause, errors.Unwrap(wrapped))
}

func TestKindAndCodeOf(t *testing.T) {
	err := New(KindPermission, CodePermissionDenied, "denied")
	assert.Equal(t, KindPermission, KindOf(err))
	assert.Equal(t, CodePermissionDenied, CodeOf(err))

	// wrapped deeper in a chain
	chained := fmt.Errorf("outer: %w", err)
	assert.Equal(t, KindPermission, KindOf(chained))
	assert.Equal(t, CodePermissionDenied, CodeOf(chained))

	plain := errors.New("plain")
	assert.Equal(t, KindUnknown, KindOf(plain))
	assert.Equal(t, CodeUnknown, CodeOf(plain))
}

func TestClassifyCapture(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind Kind
		code Code
	}{
		{"permission", errors.New("failed to open device: permission denied"), KindPermission, CodePermissionDenied},
		{"not allowed", errors.New("capture Not Allowed by user"), KindPermission, CodePermissionDenied},
		{"not found", errors.New("no such device: video0"), KindMedia, CodeDeviceNotFound},
		{"busy", errors.New("device or resource busy"), KindMedia, CodeDeviceBusy},
		{"in use", errors.New("camera already opened by another process"), KindMedia, CodeDeviceBusy},
		{"constraints", errors.New("no suitable format: overconstrained"), KindMedia, CodeConstraints},
		{"unknown", errors.New("something odd happened"), KindUnknown, CodeUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ClassifyCapture(tt.err)
			require.NotNil(t, got)
			assert.Equal(t, tt.kind, got.Kind)
			assert.Equal(t, tt.code, got.Code)
			assert.Equal(t, tt.err, errors.Unwrap(got))
		})
	}
}

func TestClassifyCapturePassthrough(t *testing.T) {
	assert.Nil(t, ClassifyCapture(nil))

	already := New(KindMedia, CodeDeviceNotFound, "gone")
	assert.Same(t, already, ClassifyCapture(already))
}

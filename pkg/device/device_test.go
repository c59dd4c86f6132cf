package device_test

import (
	"context"
	"errors"
	"image"
	"testing"

	"github.com/padelcore/padelcore/pkg/device"
	"github.com/padelcore/padelcore/pkg/device/mock"
)

func TestConstraints_WithDefaults(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		in   device.Constraints
		want device.Constraints
	}{
		{"audio only", device.Constraints{Audio: true}, device.Constraints{Audio: true, SampleRate: 16000}},
		{"video fills size", device.Constraints{Video: true}, device.Constraints{Video: true, SampleRate: 16000, Width: 640, Height: 480}},
		{"keeps explicit", device.Constraints{Video: true, SampleRate: 8000, Width: 320, Height: 240}, device.Constraints{Video: true, SampleRate: 8000, Width: 320, Height: 240}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.in.WithDefaults(); got != tt.want {
				t.Errorf("WithDefaults() = %+v; want %+v", got, tt.want)
			}
		})
	}
}

func TestStopTracks(t *testing.T) {
	t.Parallel()
	s := mock.NewStream(device.Constraints{Audio: true, Video: true})
	if n := device.StopTracks(s); n != 2 {
		t.Errorf("stopped %d tracks; want 2", n)
	}
	if s.AudioTrack.Live() || s.VideoTrack.Live() {
		t.Error("tracks should not be live")
	}
}

func TestPreview(t *testing.T) {
	t.Parallel()
	var p device.Preview
	if _, err := p.Frame(); !errors.Is(err, device.ErrNotReady) {
		t.Fatalf("Frame on empty preview: err = %v", err)
	}

	s := mock.NewStream(device.Constraints{Video: true, Width: 4, Height: 2})
	p.Attach(s)
	if !p.Attached() {
		t.Fatal("expected attached")
	}
	img, err := p.Frame()
	if err != nil {
		t.Fatalf("Frame: %v", err)
	}
	if img.Bounds() != image.Rect(0, 0, 4, 2) {
		t.Errorf("bounds = %v", img.Bounds())
	}

	p.Detach()
	if p.Attached() {
		t.Error("expected detached")
	}
}

func TestSplit(t *testing.T) {
	t.Parallel()
	capture := &mock.Backend{OutputErr: errors.New("capture backend has no speaker")}
	output := &mock.Backend{AcquireErr: device.ErrDeviceUnavailable}
	b := device.Split{Capture: capture, Output: output}

	if _, err := b.Acquire(context.Background(), device.Constraints{Audio: true}); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if capture.CurrentStream() == nil {
		t.Error("Acquire did not reach the capture backend")
	}
	if _, err := b.OpenOutput(24000); err != nil {
		t.Fatalf("OpenOutput: %v", err)
	}
	if output.CurrentOutput() == nil {
		t.Error("OpenOutput did not reach the output backend")
	}
}

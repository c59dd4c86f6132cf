//go:build gstreamer

package main

import (
	"github.com/padelcore/padelcore/internal/config"
	"github.com/padelcore/padelcore/pkg/device"
	"github.com/padelcore/padelcore/pkg/device/gstreamer"
)

func init() {
	deviceFactories["gstreamer"] = func(e config.DeviceEntry) (device.Backend, error) {
		var opts []gstreamer.Option
		if v := e.StringOption("video_source"); v != "" {
			opts = append(opts, gstreamer.WithVideoSource(v))
		}
		if v := e.StringOption("audio_source"); v != "" {
			opts = append(opts, gstreamer.WithAudioSource(v))
		}
		if v := e.StringOption("audio_sink"); v != "" {
			opts = append(opts, gstreamer.WithAudioSink(v))
		}
		return gstreamer.New(opts...), nil
	}
}

//go:build portaudio

package main

import (
	"github.com/padelcore/padelcore/internal/config"
	"github.com/padelcore/padelcore/pkg/device"
	"github.com/padelcore/padelcore/pkg/device/portaudio"
)

func init() {
	deviceFactories["portaudio"] = func(config.DeviceEntry) (device.Backend, error) {
		b, err := portaudio.New()
		if err != nil {
			return nil, err
		}
		return b, nil
	}
}

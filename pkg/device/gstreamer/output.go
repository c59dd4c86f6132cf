//go:build gstreamer

package gstreamer

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"

	"github.com/padelcore/padelcore/pkg/device"
)

// renderPeriod is the size of each block pushed to the speaker pipeline.
const renderPeriod = 20 * time.Millisecond

// OpenOutput starts an appsrc → audio sink pipeline fed from a device.Mixer.
func (b *Backend) OpenOutput(sampleRate int) (device.Output, error) {
	mixer := device.NewMixer(sampleRate)
	launch := fmt.Sprintf(
		"appsrc name=src is-live=true format=time "+
			"caps=audio/x-raw,format=F32LE,rate=%d,channels=1,layout=interleaved ! "+
			"audioconvert ! audioresample ! %s",
		mixer.SampleRate(), b.audioSink,
	)
	pipeline, err := gst.NewPipelineFromString(launch)
	if err != nil {
		return nil, fmt.Errorf("gstreamer: parse output pipeline: %v: %w", err, device.ErrDeviceUnavailable)
	}
	el, err := pipeline.GetElementByName("src")
	if err != nil {
		return nil, fmt.Errorf("gstreamer: output src: %w", err)
	}
	if err := pipeline.SetState(gst.StatePlaying); err != nil {
		return nil, classify(err)
	}

	o := &output{
		Mixer:    mixer,
		pipeline: pipeline,
		src:      app.SrcFromElement(el),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go o.run()
	return o, nil
}

type output struct {
	*device.Mixer
	pipeline *gst.Pipeline
	src      *app.Source

	once sync.Once
	stop chan struct{}
	done chan struct{}
}

// run renders one block per period and hands it to the appsrc.
func (o *output) run() {
	defer close(o.done)
	n := int(int64(o.SampleRate()) * int64(renderPeriod) / int64(time.Second))
	block := make([]float32, n)
	raw := make([]byte, n*4)

	ticker := time.NewTicker(renderPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-o.stop:
			return
		case <-ticker.C:
			o.Render(block)
			for i, s := range block {
				binary.LittleEndian.PutUint32(raw[i*4:], math.Float32bits(s))
			}
			if ret := o.src.PushBuffer(gst.NewBufferFromBytes(raw)); ret != gst.FlowOK {
				return
			}
		}
	}
}

func (o *output) Close() error {
	o.once.Do(func() {
		close(o.stop)
		<-o.done
		o.src.EndStream()
		o.pipeline.SetState(gst.StateNull)
	})
	return o.Mixer.Close()
}

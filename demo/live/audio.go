package main

import (
	"fmt"
	"sync"

	"github.com/gen2brain/malgo"
)

// micReader captures 16-bit mono PCM from the default microphone.
type micReader struct {
	device *malgo.Device
	buf    []byte
	mu     sync.Mutex
	cond   *sync.Cond
}

func newMicReader(sampleRate int) (*micReader, func(), error) {
	malgoConfig := malgo.ContextConfig{}
	malgoConfig.ThreadPriority = malgo.ThreadPriorityRealtime

	malgoCtx, err := malgo.InitContext(nil, malgoConfig, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("init audio context: %w", err)
	}

	m := &micReader{
		buf: make([]byte, 0, sampleRate*2), // 1 second buffer
	}
	m.cond = sync.NewCond(&m.mu)

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = 1
	deviceConfig.SampleRate = uint32(sampleRate)
	deviceConfig.PeriodSizeInMilliseconds = 20

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, pInputSamples []byte, _ uint32) {
			m.mu.Lock()
			m.buf = append(m.buf, pInputSamples...)
			m.mu.Unlock()
			m.cond.Signal()
		},
	}

	device, err := malgo.InitDevice(malgoCtx.Context, deviceConfig, callbacks)
	if err != nil {
		malgoCtx.Uninit()
		return nil, nil, fmt.Errorf("init microphone: %w", err)
	}
	m.device = device

	if err := device.Start(); err != nil {
		device.Uninit()
		malgoCtx.Uninit()
		return nil, nil, fmt.Errorf("start microphone: %w", err)
	}

	cleanup := func() {
		m.device.Stop()
		m.device.Uninit()
		malgoCtx.Uninit()
	}
	return m, cleanup, nil
}

func (m *micReader) Read(p []byte) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	for len(m.buf) == 0 {
		m.cond.Wait()
	}

	n := copy(p, m.buf)
	m.buf = m.buf[n:]
	return n
}

// speechOnset is a crude energy gate: it reports whether a PCM chunk is loud
// enough to count as the user speaking. Real voice-activity detection lives
// upstream; this only drives demo barge-in.
func speechOnset(pcm []byte) bool {
	const threshold = 1500
	var sum int64
	samples := len(pcm) / 2
	if samples == 0 {
		return false
	}
	for i := 0; i+1 < len(pcm); i += 2 {
		s := int16(pcm[i]) | int16(pcm[i+1])<<8
		if s < 0 {
			s = -s
		}
		sum += int64(s)
	}
	return sum/int64(samples) > threshold
}

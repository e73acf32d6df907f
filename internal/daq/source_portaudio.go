package daq

import (
	"time"

	"github.com/gordonklaus/portaudio"

	"github.com/towerwatch/shm/internal/shmerr"
)

// PortAudioSource is the reference SampleSource backend for
// acquisition hardware that presents itself as a multi-channel sound
// card, using gordonklaus/portaudio. It is a thin adapter: PortAudio
// delivers interleaved float32 frames, which this type de-interleaves
// and widens to float64 to match the pipeline's Chunk representation.
type PortAudioSource struct {
	deviceIndex int
	stream      *portaudio.Stream
	numChannels int
	interleaved []float32
}

// NewPortAudioSource targets a specific PortAudio device index. Pass -1
// to use the host's default input device.
func NewPortAudioSource(deviceIndex int) *PortAudioSource {
	return &PortAudioSource{deviceIndex: deviceIndex}
}

func (p *PortAudioSource) Open(numChannels int, requestedRate float64) (float64, error) {
	if err := portaudio.Initialize(); err != nil {
		return 0, shmerr.New(shmerr.HardwareUnavailable, "portaudio.open", err)
	}

	p.numChannels = numChannels
	framesPerBuffer := 0 // let PortAudio pick a default; Sampler controls its own chunk size

	var (
		stream *portaudio.Stream
		err    error
	)
	if p.deviceIndex < 0 {
		stream, err = portaudio.OpenDefaultStream(numChannels, 0, requestedRate, framesPerBuffer, &p.interleaved)
	} else {
		devices, derr := portaudio.Devices()
		if derr != nil || p.deviceIndex >= len(devices) {
			return 0, shmerr.New(shmerr.HardwareUnavailable, "portaudio.open", derr)
		}
		params := portaudio.StreamParameters{
			Input: portaudio.StreamDeviceParameters{
				Device:   devices[p.deviceIndex],
				Channels: numChannels,
				Latency:  devices[p.deviceIndex].DefaultLowInputLatency,
			},
			SampleRate:      requestedRate,
			FramesPerBuffer: framesPerBuffer,
		}
		stream, err = portaudio.OpenStream(params, &p.interleaved)
	}
	if err != nil {
		return 0, shmerr.New(shmerr.HardwareUnavailable, "portaudio.open", err)
	}

	if err := stream.Start(); err != nil {
		return 0, shmerr.New(shmerr.HardwareUnavailable, "portaudio.start", err)
	}
	p.stream = stream

	info := stream.Info()
	return info.SampleRate, nil
}

// Read does not use its timeout argument: it blocks until PortAudio has
// filled the buffer or reports an error.
func (p *PortAudioSource) Read(samplesPerRead int, _ time.Duration) (Chunk, error) {
	needed := samplesPerRead * p.numChannels
	if len(p.interleaved) != needed {
		p.interleaved = make([]float32, needed)
	}

	if err := p.stream.Read(); err != nil {
		return Chunk{}, shmerr.New(shmerr.ReadTimeout, "portaudio.read", err)
	}

	channels := make([][]float64, p.numChannels)
	for ch := range channels {
		channels[ch] = make([]float64, samplesPerRead)
	}
	for i := 0; i < samplesPerRead; i++ {
		for ch := 0; ch < p.numChannels; ch++ {
			channels[ch][i] = float64(p.interleaved[i*p.numChannels+ch])
		}
	}
	return Chunk{Channels: channels}, nil
}

func (p *PortAudioSource) Close() error {
	if p.stream != nil {
		_ = p.stream.Stop()
		_ = p.stream.Close()
	}
	return portaudio.Terminate()
}

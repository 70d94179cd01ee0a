package callkit

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/ebitengine/oto/v3"
)

// Default audio output shape for synthesized speech: 24kHz mono 16-bit PCM.
const (
	DefaultSampleRateHz = 24000
	defaultChannelCount = 1
)

// OtoPlayer plays queued audio through the system speaker using oto. Each
// Play call materializes the chunk into a transient oto player, starts it,
// and releases it on completion or interruption.
//
// Payloads are expected to be little-endian signed 16-bit PCM at the
// configured sample rate.
type OtoPlayer struct {
	ctx        *oto.Context
	sampleRate int
	pollTick   time.Duration
}

// NewOtoPlayer initializes the shared speaker context. There is exactly one
// audio-output resource per player; construct one per client instance.
func NewOtoPlayer(sampleRateHz int) (*OtoPlayer, error) {
	if sampleRateHz <= 0 {
		sampleRateHz = DefaultSampleRateHz
	}
	opts := &oto.NewContextOptions{
		SampleRate:   sampleRateHz,
		ChannelCount: defaultChannelCount,
		Format:       oto.FormatSignedInt16LE,
		BufferSize:   100 * time.Millisecond,
	}
	otoCtx, ready, err := oto.NewContext(opts)
	if err != nil {
		return nil, fmt.Errorf("init speaker: %w", err)
	}
	<-ready
	return &OtoPlayer{
		ctx:        otoCtx,
		sampleRate: sampleRateHz,
		pollTick:   10 * time.Millisecond,
	}, nil
}

// Play blocks until the chunk finishes or ctx is cancelled.
func (p *OtoPlayer) Play(ctx context.Context, item AudioItem) error {
	if len(item.Payload) == 0 {
		return nil
	}

	player := p.ctx.NewPlayer(bytes.NewReader(item.Payload))
	player.Play()

	ticker := time.NewTicker(p.pollTick)
	defer ticker.Stop()

	for player.IsPlaying() {
		select {
		case <-ctx.Done():
			player.Pause()
			_ = player.Close()
			return ctx.Err()
		case <-ticker.C:
		}
	}
	if err := player.Close(); err != nil {
		return fmt.Errorf("close speaker player: %w", err)
	}
	return player.Err()
}

package model

import (
	"context"
	"math"
	"strings"

	"github.com/book-expert/musicgen-service/internal/planner"
)

// ToneSampleRate matches the output rate of the MusicGen checkpoints.
const ToneSampleRate = 32000

const (
	toneAmplitude   = 0.2
	toneDefaultFreq = 440.0
)

// toneVoices maps prompt keywords to oscillator frequencies, checked in order.
var toneVoices = []struct {
	keyword   string
	frequency float64
}{
	{keyword: "bass", frequency: 110},
	{keyword: "piano", frequency: 330},
	{keyword: "drum", frequency: 60},
}

// Tone is a deterministic oscillator standing in for the real model in
// development and tests. It honours the token budget exactly as the real
// model would, producing planner.Duration(budget) seconds of mono audio.
type Tone struct{}

// NewTone creates a Tone generator.
func NewTone() *Tone {
	return &Tone{}
}

// Config reports the tone generator's output format.
func (t *Tone) Config() Config {
	return Config{Name: "tone", SampleRate: ToneSampleRate}
}

// Generate renders a sine wave whose pitch follows the prompt.
func (t *Tone) Generate(ctx context.Context, params Params) (Tensor, error) {
	if len(params.Input.Text) == 0 {
		return Tensor{}, ErrEmptyText
	}

	frames := int(math.Round(planner.Duration(params.MaxNewTokens) * ToneSampleRate))
	if frames <= 0 {
		return Tensor{}, ErrInvalidTensor
	}

	frequency := toneFrequency(params.Input.Text[0])
	data := make([]float32, frames)

	for i := range data {
		if i%ToneSampleRate == 0 {
			err := ctx.Err()
			if err != nil {
				return Tensor{}, err
			}
		}

		phase := 2 * math.Pi * frequency * float64(i) / ToneSampleRate
		data[i] = float32(math.Sin(phase) * toneAmplitude)
	}

	return Tensor{Shape: []int{1, 1, frames}, Data: data}, nil
}

func toneFrequency(prompt string) float64 {
	lower := strings.ToLower(prompt)
	frequency := toneDefaultFreq

	for _, voice := range toneVoices {
		if strings.Contains(lower, voice.keyword) {
			frequency = voice.frequency
		}
	}

	return frequency
}

// Package model defines the contract of the generative music capability and
// the backends that fulfil it.
//
// The service never inspects the model itself. A Generator receives prepared
// conditioning and a token budget and returns a (batch, channels, samples)
// tensor of floating point audio.
package model

import (
	"context"
	"errors"
	"fmt"

	"github.com/book-expert/musicgen-service/internal/audio"
	"github.com/book-expert/musicgen-service/internal/device"
)

// GuidanceScale is the classifier-free guidance strength used for every
// request. Higher values follow the conditioning more closely at the cost of
// diversity.
const GuidanceScale = 3.0

// tensorRank is the rank of every generator output.
const tensorRank = 3

var (
	// ErrInvalidTensor is returned when a generator produces a malformed tensor.
	ErrInvalidTensor = errors.New("invalid output tensor")
	// ErrEmptyText is returned when no text conditioning is supplied.
	ErrEmptyText = errors.New("text conditioning cannot be empty")
	// ErrSampleRateMismatch is returned when generated audio disagrees with
	// the generator's reported sample rate.
	ErrSampleRateMismatch = errors.New("generated audio sample rate mismatch")
)

// Input is the prepared conditioning for one generation call.
type Input struct {
	// Text holds one prompt per batch element. The service always sends one.
	Text []string
	// Audio is the normalised reference clip for continuation, or nil.
	Audio *audio.Buffer
	// Device is the backend the tensors are bound to.
	Device device.Device
}

// Params carries the decoding settings for one generation call.
type Params struct {
	Input         Input
	MaxNewTokens  int
	DoSample      bool
	GuidanceScale float64
}

// Config is the generator's own description of its output.
type Config struct {
	Name       string
	SampleRate int
}

// Generator is the black-box generative capability.
type Generator interface {
	Config() Config
	Generate(ctx context.Context, params Params) (Tensor, error)
}

// Tensor is a dense row-major float tensor.
type Tensor struct {
	Shape []int
	Data  []float32
}

// Validate checks that the tensor is (batch, channels, samples) and that its
// data length matches the shape.
func (t Tensor) Validate() error {
	if len(t.Shape) != tensorRank {
		return fmt.Errorf("%w: rank %d, want %d", ErrInvalidTensor, len(t.Shape), tensorRank)
	}

	size := 1
	for _, dim := range t.Shape {
		if dim <= 0 {
			return fmt.Errorf("%w: shape %v has a non-positive dimension", ErrInvalidTensor, t.Shape)
		}

		size *= dim
	}

	if size != len(t.Data) {
		return fmt.Errorf("%w: shape %v needs %d values, got %d", ErrInvalidTensor, t.Shape, size, len(t.Data))
	}

	return nil
}

// Batch returns the channel-major data of batch element index along with its
// channel and sample counts.
func (t Tensor) Batch(index int) (data []float32, channels, samples int, err error) {
	validateErr := t.Validate()
	if validateErr != nil {
		return nil, 0, 0, validateErr
	}

	if index < 0 || index >= t.Shape[0] {
		return nil, 0, 0, fmt.Errorf("%w: batch index %d out of range %d", ErrInvalidTensor, index, t.Shape[0])
	}

	channels, samples = t.Shape[1], t.Shape[2]
	stride := channels * samples

	return t.Data[index*stride : (index+1)*stride], channels, samples, nil
}

// TensorFromBuffer converts an interleaved buffer into a (1, channels, frames)
// tensor. The buffer is normalised first.
func TensorFromBuffer(buf audio.Buffer) Tensor {
	normalized := buf.Normalize()
	channels := normalized.Channels
	frames := normalized.Frames()

	data := make([]float32, channels*frames)
	for frame := range frames {
		for channel := range channels {
			data[channel*frames+frame] = normalized.Samples[frame*channels+channel]
		}
	}

	return Tensor{Shape: []int{1, channels, frames}, Data: data}
}

package synth_test

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/book-expert/logger"
	"github.com/book-expert/musicgen-service/internal/artifacts"
	"github.com/book-expert/musicgen-service/internal/audio"
	"github.com/book-expert/musicgen-service/internal/core"
	"github.com/book-expert/musicgen-service/internal/model"
	"github.com/book-expert/musicgen-service/internal/synth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errMockGenerate = errors.New("mock generate error")

type mockGenerator struct {
	tensor     model.Tensor
	sampleRate int
	shouldFail bool
	params     model.Params
}

func (m *mockGenerator) Generate(_ context.Context, params model.Params) (model.Tensor, model.Config, error) {
	m.params = params
	if m.shouldFail {
		return model.Tensor{}, model.Config{}, errMockGenerate
	}

	return m.tensor, model.Config{Name: "mock", SampleRate: m.sampleRate}, nil
}

func newPipeline(t *testing.T, gen synth.Generator) (*synth.Pipeline, *artifacts.FileStore) {
	t.Helper()

	log, err := logger.New(t.TempDir(), "synth-test.log")
	require.NoError(t, err)

	store, err := artifacts.NewFileStore(t.TempDir())
	require.NoError(t, err)

	return synth.NewPipeline(gen, store, t.TempDir(), log), store
}

func readArtifact(t *testing.T, store core.ArtifactStore, key string) audio.Buffer {
	t.Helper()

	rc, err := store.Open(context.Background(), key)
	require.NoError(t, err)

	defer func() { _ = rc.Close() }()

	data, err := io.ReadAll(rc)
	require.NoError(t, err)

	buf, err := audio.DecodeWAV(data)
	require.NoError(t, err)

	return buf
}

func TestSynthesize_WritesWAVAtReportedRate(t *testing.T) {
	t.Parallel()

	gen := &mockGenerator{
		tensor: model.Tensor{
			Shape: []int{1, 1, 6},
			Data:  []float32{0, 0.5, -0.5, 1.7, -3, 1},
		},
		sampleRate: 32000,
	}
	pipeline, store := newPipeline(t, gen)

	generated := false
	artifact, err := pipeline.Synthesize(context.Background(), synth.Request{
		JobID:       "job-1",
		Input:       model.Input{Text: []string{"lofi"}},
		TokenBudget: 401,
		OnGenerated: func() { generated = true },
	})
	require.NoError(t, err)
	assert.True(t, generated)

	assert.Equal(t, 401, gen.params.MaxNewTokens)
	assert.True(t, gen.params.DoSample)
	assert.InDelta(t, model.GuidanceScale, gen.params.GuidanceScale, 1e-9)

	assert.Equal(t, "job-1.wav", artifact.Key)
	assert.Equal(t, 32000, artifact.SampleRate)
	assert.Equal(t, 1, artifact.Channels)
	assert.Equal(t, 6, artifact.Frames)

	buf := readArtifact(t, store, artifact.Key)
	assert.Equal(t, 32000, buf.SampleRate)
	assert.Equal(t, 1, buf.Channels)
	require.Len(t, buf.Samples, 6)

	for _, sample := range buf.Samples {
		assert.LessOrEqual(t, sample, float32(32767))
		assert.GreaterOrEqual(t, sample, float32(-32767))
	}

	assert.InDelta(t, 32767, buf.Samples[3], 0.5)
	assert.InDelta(t, -32767, buf.Samples[4], 0.5)
}

func TestRender_InterleavesChannelsLast(t *testing.T) {
	t.Parallel()

	samples, channels, frames, err := synth.Render(model.Tensor{
		Shape: []int{1, 2, 3},
		Data:  []float32{0.1, 0.2, 0.3, -0.1, -0.2, -0.3},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, channels)
	assert.Equal(t, 3, frames)

	want := audio.Quantize([]float32{0.1, -0.1, 0.2, -0.2, 0.3, -0.3})
	assert.Equal(t, want, samples)
}

func TestSynthesize_GenerationFailure(t *testing.T) {
	t.Parallel()

	pipeline, store := newPipeline(t, &mockGenerator{shouldFail: true})

	_, err := pipeline.Synthesize(context.Background(), synth.Request{
		JobID:       "job-2",
		Input:       model.Input{Text: []string{"jazz"}},
		TokenBudget: 200,
	})
	require.Error(t, err)

	var stageErr *synth.StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, synth.StageGeneration, stageErr.Stage)
	require.ErrorIs(t, err, errMockGenerate)

	exists, err := store.Exists(context.Background(), "job-2.wav")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestSynthesize_MalformedTensorIsEncodingFailure(t *testing.T) {
	t.Parallel()

	pipeline, _ := newPipeline(t, &mockGenerator{
		tensor:     model.Tensor{Shape: []int{1, 4}, Data: make([]float32, 4)},
		sampleRate: 32000,
	})

	_, err := pipeline.Synthesize(context.Background(), synth.Request{
		JobID:       "job-3",
		Input:       model.Input{Text: []string{"jazz"}},
		TokenBudget: 200,
	})

	var stageErr *synth.StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, synth.StageEncoding, stageErr.Stage)
	require.ErrorIs(t, err, model.ErrInvalidTensor)
}

func TestSynthesize_RejectsEmptyBudget(t *testing.T) {
	t.Parallel()

	pipeline, _ := newPipeline(t, &mockGenerator{sampleRate: 32000})

	_, err := pipeline.Synthesize(context.Background(), synth.Request{JobID: "job-4", TokenBudget: 0})
	require.ErrorIs(t, err, synth.ErrTokenBudget)
}

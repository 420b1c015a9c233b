package main

import (
	"flag"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestParseFlags verifies that command-line flags are parsed correctly.
func TestParseFlags(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		args []string
		want appFlags
	}{
		{
			name: "defaults",
			args: nil,
			want: appFlags{
				server:   defaultServer,
				duration: 8,
				output:   defaultOutputFile,
				poll:     defaultPoll,
				timeout:  defaultTimeout,
			},
		},
		{
			name: "continuation",
			args: []string{
				"--prompt", "warm synth pads",
				"--duration", "20",
				"--input-audio", "https://example.com/seed.mp3",
				"--continuation",
				"--output", "out/pads.wav",
				"--poll", "250ms",
			},
			want: appFlags{
				server:       defaultServer,
				prompt:       "warm synth pads",
				duration:     20,
				inputAudio:   "https://example.com/seed.mp3",
				continuation: true,
				output:       "out/pads.wav",
				poll:         250 * time.Millisecond,
				timeout:      defaultTimeout,
			},
		},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			fs := flag.NewFlagSet("musicgen-client", flag.ContinueOnError)
			got := parseFlags(fs, testCase.args)
			got.logDir = ""

			assert.Equal(t, testCase.want, got)
		})
	}
}

func TestBuildRequest(t *testing.T) {
	t.Parallel()

	_, err := buildRequest(appFlags{continuation: true})
	require.ErrorIs(t, err, errContinuationNeedsAudio)

	req, err := buildRequest(appFlags{prompt: "jazz", duration: 12})
	require.NoError(t, err)
	assert.Equal(t, "jazz", req.Prompt)
	require.NotNil(t, req.Duration)
	assert.InDelta(t, 12.0, *req.Duration, 1e-9)
	assert.False(t, req.Continuation)
}

package controller

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"
)

func TestReadAudioFileRejects(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		file     string
		contents []byte
		expected error
	}{
		{name: "unknown extension", file: "track.flac", contents: []byte("fLaC"), expected: ErrUnsupportedAudioFile},
		{name: "no extension", file: "track", contents: []byte("data"), expected: ErrUnsupportedAudioFile},
		{name: "garbage mp3", file: "track.mp3", contents: bytes.Repeat([]byte{0}, 16), expected: ErrInvalidAudioFile},
		{name: "garbage ogg", file: "track.OGG", contents: []byte("not an ogg stream"), expected: ErrInvalidAudioFile},
		{name: "missing mp3", file: "", expected: os.ErrNotExist},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			path := filepath.Join(t.TempDir(), "missing.mp3")
			if tt.file != "" {
				path = filepath.Join(t.TempDir(), tt.file)
				if err := os.WriteFile(path, tt.contents, 0644); err != nil {
					t.Fatalf("WriteFile failed: %v", err)
				}
			}

			if _, err := ReadAudioFile(path); !errors.Is(err, tt.expected) {
				t.Errorf("Expected %v, got %v", tt.expected, err)
			}
		})
	}
}

func TestMixDown(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		interleaved []int
		channels    int
		expected    []int16
	}{
		{name: "mono", interleaved: []int{1, -2, 3}, channels: 1, expected: []int16{1, -2, 3}},
		{name: "stereo", interleaved: []int{100, 300, -32768, 32767}, channels: 2, expected: []int16{200, 0}},
		{name: "partial frame", interleaved: []int{10, 20, 30}, channels: 2, expected: []int16{15}},
		{name: "zero channels", interleaved: []int{7}, channels: 0, expected: []int16{7}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := mixDown(tt.interleaved, tt.channels); !slices.Equal(got, tt.expected) {
				t.Errorf("Expected %v, got %v", tt.expected, got)
			}
		})
	}
}

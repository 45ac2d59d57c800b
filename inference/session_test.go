package inference

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveInputShape(t *testing.T) {
	tests := []struct {
		name    string
		dims    []int64
		size    int
		want    []int64
		wantErr bool
	}{
		{name: "static", dims: []int64{1, 3, 640, 640}, size: 320, want: []int64{1, 3, 640, 640}},
		{name: "dynamic batch", dims: []int64{-1, 3, 640, 640}, want: []int64{1, 3, 640, 640}},
		{name: "fully dynamic", dims: []int64{-1, -1, -1, -1}, size: 512, want: []int64{1, 3, 512, 512}},
		{name: "dynamic spatial without size", dims: []int64{1, 3, -1, -1}, wantErr: true},
		{name: "empty", dims: nil, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ResolveInputShape(tt.dims, tt.size)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolveOutputShape(t *testing.T) {
	got, err := ResolveOutputShape([]int64{-1, 11, 8400})
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 11, 8400}, got)

	_, err = ResolveOutputShape([]int64{1, 11, -1})
	assert.Error(t, err)

	_, err = ResolveOutputShape(nil)
	assert.Error(t, err)
}

func TestNewSessionMissingModel(t *testing.T) {
	_, err := NewSession(NewSessionArgs{ModelPath: filepath.Join(t.TempDir(), "missing.onnx")})
	assert.Error(t, err)
}

func TestClosedSessionRun(t *testing.T) {
	s := &Session{}
	require.NoError(t, s.Close())

	_, err := s.Run(context.Background(), []float32{1})
	assert.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.Run(ctx, nil)
	assert.ErrorIs(t, err, context.Canceled)

	assert.Equal(t, SessionStats{}, s.Stats())
}

package framesource

import (
	"context"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/tphakala/spotit-go/internal/errors"
	"github.com/tphakala/spotit-go/internal/pipeline"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func writeImages(t *testing.T, dir string, names ...string) {
	t.Helper()
	img := imaging.New(8, 6, color.NRGBA{R: 200, A: 255})
	for _, name := range names {
		require.NoError(t, imaging.Save(img, filepath.Join(dir, name)))
	}
}

// runSource starts Run and returns a channel receiving its result
func runSource(ctx context.Context, d *Directory) <-chan error {
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()
	return done
}

// advanceUntil ticks the mock clock until cond holds
func advanceUntil(t *testing.T, mock *clock.Mock, step time.Duration, cond func() bool) {
	t.Helper()
	require.Eventually(t, func() bool {
		if cond() {
			return true
		}
		mock.Add(step)
		return cond()
	}, 2*time.Second, time.Millisecond)
}

func TestListImages(t *testing.T) {
	dir := t.TempDir()
	writeImages(t, dir, "b.png", "a.jpg")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o600))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub.png"), 0o750))

	files, err := ListImages(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "a.jpg"), filepath.Join(dir, "b.png")}, files)

	_, err = ListImages(filepath.Join(dir, "missing"))
	assert.True(t, errors.IsCategory(err, errors.CategoryFileIO))
}

func TestNewDirectory_Empty(t *testing.T) {
	_, err := NewDirectory(Config{Path: t.TempDir()})
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))
}

func TestDirectory_DropsWhenFull(t *testing.T) {
	dir := t.TempDir()
	writeImages(t, dir, "1.png", "2.png", "3.png")
	mock := clock.NewMock()

	d, err := NewDirectory(Config{Path: dir, FPS: 10, Buffer: 1, Clock: mock})
	require.NoError(t, err)
	done := runSource(t.Context(), d)

	advanceUntil(t, mock, 100*time.Millisecond, func() bool { return d.Sent()+d.Dropped() == 3 })
	require.NoError(t, <-done)

	assert.Equal(t, uint64(1), d.Sent())
	assert.Equal(t, uint64(2), d.Dropped())

	frame, ok := <-d.Frames()
	require.True(t, ok)
	assert.Equal(t, uint64(1), frame.Seq)
	assert.Equal(t, "1.png", frame.Source)
	assert.Equal(t, image.Rect(0, 0, 8, 6), frame.Image.Bounds())

	_, ok = <-d.Frames()
	assert.False(t, ok, "channel closes when playback ends")
}

func TestDirectory_SkipsUnreadable(t *testing.T) {
	dir := t.TempDir()
	writeImages(t, dir, "a.png", "c.png")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.png"), []byte("not an image"), 0o600))
	mock := clock.NewMock()

	d, err := NewDirectory(Config{Path: dir, Buffer: 4, Clock: mock})
	require.NoError(t, err)
	done := runSource(t.Context(), d)

	var got []pipeline.Frame
	advanceUntil(t, mock, time.Second/DefaultFPS, func() bool { return d.Sent() == 2 })
	require.NoError(t, <-done)
	for f := range d.Frames() {
		got = append(got, f)
	}

	require.Len(t, got, 2)
	assert.Equal(t, "a.png", got[0].Source)
	assert.Equal(t, "c.png", got[1].Source)
	assert.Equal(t, uint64(2), got[1].Seq)
}

func TestDirectory_LoopsUntilCancelled(t *testing.T) {
	dir := t.TempDir()
	writeImages(t, dir, "a.png", "b.png")
	mock := clock.NewMock()

	d, err := NewDirectory(Config{Path: dir, FPS: 5, Loop: true, Buffer: 8, Clock: mock})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(t.Context())
	done := runSource(ctx, d)

	advanceUntil(t, mock, 200*time.Millisecond, func() bool { return d.Sent() >= 5 })
	cancel()
	require.NoError(t, <-done)

	var sources []string
	for f := range d.Frames() {
		sources = append(sources, f.Source)
	}
	require.GreaterOrEqual(t, len(sources), 5)
	assert.Equal(t, []string{"a.png", "b.png", "a.png", "b.png", "a.png"}, sources[:5])
}

func TestDirectory_FramesTimestampedByClock(t *testing.T) {
	dir := t.TempDir()
	writeImages(t, dir, "a.png")
	mock := clock.NewMock()
	mock.Set(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))

	d, err := NewDirectory(Config{Path: dir, FPS: 1, Clock: mock})
	require.NoError(t, err)
	done := runSource(t.Context(), d)

	advanceUntil(t, mock, time.Second, func() bool { return d.Sent() == 1 })
	require.NoError(t, <-done)

	f := <-d.Frames()
	assert.False(t, f.CapturedAt.Before(time.Date(2024, 5, 1, 12, 0, 1, 0, time.UTC)))
}

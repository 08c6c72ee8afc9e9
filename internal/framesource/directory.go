// Package framesource produces frames for the detection pipeline.
package framesource

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/disintegration/imaging"

	"github.com/tphakala/spotit-go/internal/conf"
	"github.com/tphakala/spotit-go/internal/errors"
	"github.com/tphakala/spotit-go/internal/logger"
	"github.com/tphakala/spotit-go/internal/pipeline"
)

const (
	DefaultFPS    = 30.0
	DefaultBuffer = 1
)

var imageExtensions = []string{".jpg", ".jpeg", ".png", ".gif", ".bmp", ".tif", ".tiff"}

// Config configures a Directory source
type Config struct {
	Path   string
	FPS    float64
	Loop   bool
	Buffer int
	Clock  clock.Clock
}

// ConfigFromSettings maps source settings to a Directory config
func ConfigFromSettings(s *conf.SourceSettings) Config {
	return Config{Path: s.Path, FPS: s.FPS, Loop: s.Loop, Buffer: s.Buffer}
}

// Directory plays the images of a directory as frames. A frame that finds the
// channel full is dropped so a slow consumer never stalls playback.
type Directory struct {
	cfg    Config
	clock  clock.Clock
	files  []string
	frames chan pipeline.Frame
	seq    uint64

	sent    atomic.Uint64
	dropped atomic.Uint64
}

// NewDirectory lists the images in cfg.Path in name order
func NewDirectory(cfg Config) (*Directory, error) {
	if cfg.FPS <= 0 {
		cfg.FPS = DefaultFPS
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = DefaultBuffer
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}

	files, err := ListImages(cfg.Path)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, errors.Newf("no images found in %s", cfg.Path).
			Category(errors.CategoryNotFound).
			Context("path", cfg.Path).
			Build()
	}

	return &Directory{
		cfg:    cfg,
		clock:  cfg.Clock,
		files:  files,
		frames: make(chan pipeline.Frame, cfg.Buffer),
	}, nil
}

// ListImages returns the image files directly inside dir, sorted by name
func ListImages(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.New(err).
			Category(errors.CategoryFileIO).
			Context("path", dir).
			Build()
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if slices.Contains(imageExtensions, strings.ToLower(filepath.Ext(e.Name()))) {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	slices.Sort(files)
	return files, nil
}

// Frames returns the frame channel. It is closed when Run returns.
func (d *Directory) Frames() <-chan pipeline.Frame {
	return d.frames
}

// Sent returns the number of frames delivered to the channel
func (d *Directory) Sent() uint64 { return d.sent.Load() }

// Dropped returns the number of frames dropped on a full channel
func (d *Directory) Dropped() uint64 { return d.dropped.Load() }

// Run plays the directory until it ends, or forever when looping, or until ctx
// is done.
func (d *Directory) Run(ctx context.Context) error {
	defer close(d.frames)

	log := GetLogger().With(logger.String("path", d.cfg.Path))
	interval := time.Duration(float64(time.Second) / d.cfg.FPS)
	ticker := d.clock.Ticker(interval)
	defer ticker.Stop()

	log.Info("frame source started",
		logger.Int("images", len(d.files)),
		logger.Float64("fps", d.cfg.FPS),
		logger.Bool("loop", d.cfg.Loop))

	for {
		for _, path := range d.files {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
			}

			img, err := imaging.Open(path, imaging.AutoOrientation(true))
			if err != nil {
				log.Warn("skipping unreadable image",
					logger.String("file", path),
					logger.Error(err))
				continue
			}

			d.seq++
			frame := pipeline.Frame{
				Seq:        d.seq,
				CapturedAt: d.clock.Now(),
				Source:     filepath.Base(path),
				Image:      img,
			}
			select {
			case d.frames <- frame:
				d.sent.Add(1)
			default:
				d.dropped.Add(1)
			}
		}
		if !d.cfg.Loop {
			log.Info("frame source finished",
				logger.Uint64("sent", d.sent.Load()),
				logger.Uint64("dropped", d.dropped.Load()))
			return nil
		}
	}
}

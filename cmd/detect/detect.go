package detect

import (
	"context"
	"encoding/json"
	"path/filepath"

	"github.com/disintegration/imaging"
	"github.com/spf13/cobra"

	"github.com/tphakala/spotit-go/internal/conf"
	"github.com/tphakala/spotit-go/internal/detection"
	"github.com/tphakala/spotit-go/internal/inference"
	"github.com/tphakala/spotit-go/internal/pipeline"
)

// Result is the output for one image
type Result struct {
	File        string                `json:"file"`
	Width       int                   `json:"width"`
	Height      int                   `json:"height"`
	InferenceMs int64                 `json:"inference_ms"`
	Detections  []detection.Detection `json:"detections"`
	Error       string                `json:"error,omitempty"`
}

// Command creates a new command for one-shot detection on image files.
func Command(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "detect <image>...",
		Short: "Detect objects in image files",
		Long:  "Run the model once on each image and print the detections as JSON.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			results, err := Run(cmd.Context(), settings, inference.Loader(modelConfig(settings)), args)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(results)
		},
	}
}

func modelConfig(settings *conf.Settings) inference.Config {
	cfg := inference.ConfigFromSettings(&settings.Detection)
	if cfg.InputSize <= 0 {
		cfg.InputSize = inference.DefaultInputSize
	}
	return cfg
}

// Run loads the model and detects objects in each file. Unreadable images are
// reported in their Result; a model that fails to load is an error.
func Run(ctx context.Context, settings *conf.Settings, loader pipeline.Loader, files []string) ([]Result, error) {
	d := &settings.Detection
	labels, err := detection.LoadLabels(d.LabelPath)
	if err != nil {
		return nil, err
	}

	// frames are processed back to back, so the throttle is disabled
	p := pipeline.New(pipeline.Config{
		NumClasses:    d.NumClasses,
		NumCandidates: d.NumCandidates,
		Threshold:     d.Threshold,
		IoUThreshold:  d.IoUThreshold,
		MaxDetections: d.MaxDetections,
		Labels:        labels,
	}, loader)
	defer func() { _ = p.Close() }()

	if err := p.Load(ctx); err != nil {
		return nil, err
	}

	results := make([]Result, 0, len(files))
	for i, file := range files {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		results = append(results, detect(ctx, p, uint64(i+1), file))
	}
	return results, nil
}

func detect(ctx context.Context, p *pipeline.Pipeline, seq uint64, file string) Result {
	res := Result{File: file, Detections: []detection.Detection{}}

	img, err := imaging.Open(file, imaging.AutoOrientation(true))
	if err != nil {
		res.Error = err.Error()
		return res
	}
	res.Width = img.Bounds().Dx()
	res.Height = img.Bounds().Dy()

	outcome := p.ProcessFrame(ctx, pipeline.Frame{Seq: seq, Source: filepath.Base(file), Image: img})
	if outcome != pipeline.OutcomePublished {
		res.Error = "frame not processed: " + outcome.String()
		return res
	}

	b := p.Latest()
	res.InferenceMs = b.Inference.Milliseconds()
	if b.Detections != nil {
		res.Detections = b.Detections
	}
	return res
}

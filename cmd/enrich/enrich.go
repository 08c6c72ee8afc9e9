package enrich

import (
	"context"
	"encoding/json"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/tphakala/spotit-go/internal/buildinfo"
	"github.com/tphakala/spotit-go/internal/classifier"
	"github.com/tphakala/spotit-go/internal/conf"
	"github.com/tphakala/spotit-go/internal/enrichment"
	"github.com/tphakala/spotit-go/internal/errors"
	"github.com/tphakala/spotit-go/internal/httpclient"
	"github.com/tphakala/spotit-go/internal/imagecrop"
	"github.com/tphakala/spotit-go/internal/logger"
)

// Output is the printed result
type Output struct {
	File       string                `json:"file"`
	Enriched   bool                  `json:"enriched"`
	Enrichment classifier.Enrichment `json:"enrichment"`
	Error      string                `json:"error,omitempty"`
}

// Command creates a new command for a one-shot classifier call.
func Command(settings *conf.Settings, info *buildinfo.Context) *cobra.Command {
	return &cobra.Command{
		Use:   "enrich <image>",
		Short: "Describe an image with the remote classifier",
		Long:  "Send one image to the configured classifier and print the enrichment as JSON. The fallback enrichment is printed when the call fails.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			httpCfg := httpclient.DefaultConfig()
			httpCfg.UserAgent = info.UserAgent()
			client := httpclient.New(&httpCfg)
			defer client.Close()

			c, err := classifier.New(&settings.Classifier, client, nil)
			if err != nil {
				return err
			}

			out, err := Run(cmd.Context(), c, args[0], settings.Enrichment.DispatchTimeout)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}
}

// Run reads and downsizes the image and classifies it. A classifier failure
// yields the fallback enrichment; an unreadable image is an error.
func Run(ctx context.Context, c classifier.Classifier, file string, timeout time.Duration) (Output, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return Output{}, errors.New(err).
			Category(errors.CategoryFileIO).
			Context("file", file).
			Build()
	}
	img, err := imagecrop.Decode(data)
	if err != nil {
		return Output{}, err
	}
	payload, err := imagecrop.ResizeJPEG(img, imagecrop.DefaultMaxWidth, 0)
	if err != nil {
		return Output{}, err
	}

	if timeout <= 0 {
		timeout = enrichment.DefaultDispatchTimeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result, err := c.Classify(callCtx, payload)
	if err != nil {
		logger.Global().Module("enrich").Warn("classification failed, using fallback",
			logger.String("file", file),
			logger.Error(err))
		return Output{File: file, Enrichment: enrichment.Fallback(), Error: err.Error()}, nil
	}
	return Output{File: file, Enriched: true, Enrichment: result}, nil
}

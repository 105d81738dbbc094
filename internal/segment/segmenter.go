package segment

import (
	"context"
	"encoding/base64"

	"github.com/oriys/strix/internal/frame"
	"github.com/oriys/strix/internal/logging"
	"github.com/oriys/strix/internal/metrics"
)

// Segmenter is the mask source the diagnosis workflow talks to. It prefers
// the remote service and, when enabled, covers remote failure with the
// local HSV fallback.
type Segmenter struct {
	client          *Client
	fallbackEnabled bool
	jpegQuality     int
}

// NewSegmenter wires a remote client with the fallback policy.
func NewSegmenter(client *Client, fallbackEnabled bool, jpegQuality int) *Segmenter {
	if jpegQuality <= 0 {
		jpegQuality = 80
	}
	return &Segmenter{client: client, fallbackEnabled: fallbackEnabled, jpegQuality: jpegQuality}
}

// IsAvailable reports whether the remote service answers its health probe.
func (s *Segmenter) IsAvailable(ctx context.Context) bool {
	return s.client.IsAvailable(ctx)
}

// Segment produces a mask for the frame. When the remote is unavailable or
// its attempt chain fails and fallback is enabled, the local mask is used
// and tagged method="local_fallback". If both paths fail, the remote error
// is the one reported.
func (s *Segmenter) Segment(ctx context.Context, f *frame.BGR, query string, sampleFrames int, progress ProgressFunc) Result {
	var remoteRes Result
	var remoteErr error
	attempted := false

	if s.client.IsAvailable(ctx) {
		attempted = true
		remoteRes, remoteErr = s.client.Segment(ctx, s.encodeFrame(f), query, sampleFrames, progress)
		metrics.RecordSegmentation("remote", remoteErr)
		if remoteErr == nil {
			return remoteRes
		}
		// A failed chain is strong evidence the cached verdict is stale.
		s.client.InvalidateAvailability()
	}

	if !s.fallbackEnabled {
		if attempted {
			return remoteRes
		}
		return Result{
			Error:    "segmentation service unavailable and fallback disabled",
			Metadata: map[string]any{"method": "remote"},
		}
	}

	logging.Op("segment.fallback").Warn("using local color-threshold mask",
		"query", query, "remote_attempted", attempted)
	local, localErr := s.localMask(f, query)
	metrics.RecordSegmentation("local_fallback", localErr)
	if localErr != nil {
		// Remote error wins over the fallback's own failure.
		if attempted {
			return remoteRes
		}
		return Result{
			Error:    localErr.Error(),
			Metadata: map[string]any{"method": "local_fallback"},
		}
	}
	return local
}

func (s *Segmenter) localMask(f *frame.BGR, query string) (Result, error) {
	mask := FallbackMask(f, query)
	png, err := mask.EncodePNG()
	if err != nil {
		return Result{}, err
	}
	return Result{
		Success:     true,
		MaskBase64:  base64.StdEncoding.EncodeToString(png),
		Description: "local color-threshold mask for: " + query,
		Metadata:    map[string]any{"method": "local_fallback", "color": queryColor(query)},
	}, nil
}

func (s *Segmenter) encodeFrame(f *frame.BGR) string {
	jpeg, err := f.ToRGB().EncodeJPEG(s.jpegQuality)
	if err != nil {
		return ""
	}
	return frame.JPEGDataURL(jpeg)
}

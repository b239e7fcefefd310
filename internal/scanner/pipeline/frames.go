package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"

	"labos/internal/scanner/execx"
	"labos/pkg/domain"
)

// FrameExtractionResult describes the frames written for downstream
// reconstruction.
type FrameExtractionResult struct {
	FramesDir    string  `json:"frames_dir"`
	FrameCount   int     `json:"frame_count"`
	RequestedFPS float64 `json:"requested_fps"`
	Truncated    bool    `json:"truncated"`
}

// ExtractFrames decodes the input video to frames/frame_%06d.png with
// ffmpeg. A missing ffmpeg is fatal; the returned error carries
// installation guidance.
func ExtractFrames(ctx context.Context, exec execx.Executor, inputPath, framesDir string, fps float64, maxFrames int, logger domain.Logger) (FrameExtractionResult, error) {
	result := FrameExtractionResult{FramesDir: framesDir, RequestedFPS: fps}

	args := []string{"-v", "error", "-i", inputPath}
	if fps > 0 {
		args = append(args, "-vf", fmt.Sprintf("fps=%g", fps))
	}
	if maxFrames > 0 {
		args = append(args, "-frames:v", strconv.Itoa(maxFrames))
	}
	args = append(args, "-y", filepath.Join(framesDir, "frame_%06d.png"))

	if _, err := exec.Execute(ctx, "ffmpeg", args); err != nil {
		return result, fmt.Errorf("extract frames: %w", err)
	}

	frames, err := filepath.Glob(filepath.Join(framesDir, "frame_*.png"))
	if err != nil {
		return result, fmt.Errorf("count frames: %w", err)
	}
	result.FrameCount = len(frames)
	result.Truncated = maxFrames > 0 && result.FrameCount >= maxFrames
	logger.Info("frames extracted", "frames", result.FrameCount, "fps", fps, "dir", framesDir)
	return result, nil
}

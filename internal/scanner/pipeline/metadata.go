package pipeline

import (
	"context"
	"encoding/json"
	"os"
	"strings"

	"labos/internal/scanner/execx"
	"labos/pkg/domain"
)

// MetadataResult is the probed description of the input video. Source
// is "ffprobe" when the probe succeeded and "fallback" when only file
// facts are available.
type MetadataResult struct {
	Source          string           `json:"source"`
	Container       map[string]any   `json:"container"`
	Streams         []map[string]any `json:"streams"`
	ExtractedFields []string         `json:"extracted_fields"`
	MissingFields   []string         `json:"missing_fields"`
	Warnings        []string         `json:"warnings"`
}

// probeFields are the ffprobe fields whose presence is tracked.
// "format.*" resolves against the container, "streams.*" against the
// first stream.
var probeFields = []string{
	"format.format_name",
	"format.duration",
	"format.bit_rate",
	"format.tags",
	"streams.codec_name",
	"streams.codec_type",
	"streams.width",
	"streams.height",
	"streams.avg_frame_rate",
	"streams.r_frame_rate",
	"streams.tags",
}

// ExtractMetadata probes the input with ffprobe. A missing or failing
// ffprobe degrades to a fallback result rather than failing the run.
func ExtractMetadata(ctx context.Context, exec execx.Executor, inputPath string, logger domain.Logger) MetadataResult {
	args := []string{"-v", "error", "-print_format", "json", "-show_format", "-show_streams", inputPath}
	result, err := exec.Execute(ctx, "ffprobe", args)
	if err != nil {
		logger.Warn("metadata extraction falling back", "path", inputPath, "error", err)
		return fallbackMetadata(inputPath, err.Error())
	}

	var payload struct {
		Format  map[string]any   `json:"format"`
		Streams []map[string]any `json:"streams"`
	}
	if err := json.Unmarshal([]byte(result.Stdout), &payload); err != nil {
		logger.Warn("ffprobe output unparsable", "path", inputPath, "error", err)
		return fallbackMetadata(inputPath, "ffprobe output unparsable: "+err.Error())
	}

	extracted := make([]string, 0, len(probeFields))
	missing := make([]string, 0)
	for _, field := range probeFields {
		if fieldPresent(payload.Format, payload.Streams, field) {
			extracted = append(extracted, field)
		} else {
			missing = append(missing, field)
		}
	}
	container := payload.Format
	if container == nil {
		container = map[string]any{}
	}
	return MetadataResult{
		Source:          "ffprobe",
		Container:       container,
		Streams:         payload.Streams,
		ExtractedFields: extracted,
		MissingFields:   missing,
		Warnings:        []string{},
	}
}

func fieldPresent(format map[string]any, streams []map[string]any, field string) bool {
	parts := strings.SplitN(field, ".", 2)
	if len(parts) != 2 {
		return false
	}
	var target map[string]any
	switch parts[0] {
	case "format":
		target = format
	case "streams":
		if len(streams) == 0 {
			return false
		}
		target = streams[0]
	default:
		return false
	}
	value, ok := target[parts[1]]
	return ok && value != nil
}

// fallbackMetadata reports the only facts available without ffprobe:
// the file size. Downstream scale-confidence classification treats this
// as low confidence.
func fallbackMetadata(inputPath, reason string) MetadataResult {
	container := map[string]any{"format_name": "unknown"}
	if info, err := os.Stat(inputPath); err == nil {
		container["size_bytes"] = info.Size()
	}
	return MetadataResult{
		Source:          "fallback",
		Container:       container,
		Streams:         []map[string]any{},
		ExtractedFields: []string{},
		MissingFields:   append([]string(nil), probeFields...),
		Warnings:        []string{"ffprobe unavailable; metadata limited to file facts: " + reason},
	}
}

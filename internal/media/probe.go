package media

import (
	"context"
	"fmt"
	"time"

	ffprobe "gopkg.in/vansante/go-ffprobe.v2"

	"github.com/driftlock/filestore/internal/models"
)

const probeTimeout = 15 * time.Second

// ProbeAV runs ffprobe against the staged file and returns audio/video
// fileMeta: duration, container format, bitrate, tags and chapter list.
func ProbeAV(ctx context.Context, path string) (models.JSONMap, error) {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	data, err := ffprobe.ProbeURL(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("probing media: %w", err)
	}

	meta := models.JSONMap{}
	if f := data.Format; f != nil {
		meta["duration_seconds"] = f.DurationSeconds
		meta["format"] = f.FormatName
		meta["bitrate"] = f.BitRate
		if len(f.TagList) > 0 {
			meta["tags"] = map[string]any(f.TagList)
		}
	}

	if len(data.Chapters) > 0 {
		chapters := make([]map[string]any, 0, len(data.Chapters))
		for _, ch := range data.Chapters {
			chapters = append(chapters, map[string]any{
				"title":      ch.Title(),
				"start_time": ch.StartTime,
				"end_time":   ch.EndTime,
			})
		}
		meta["chapters"] = chapters
	}

	return meta, nil
}

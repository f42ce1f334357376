// Package export renders a composed run's placements as an edit decision
// list so the cut can be reproduced in an NLE from the original sources.
package export

import (
	"fmt"
	"math"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/heimdex/heimdex-composer/internal/compose"
	"github.com/heimdex/heimdex-composer/internal/logging"
)

const DefaultTitle = "Heimdex Composition"

// GenerateEDL writes one CMX3600-style event per surviving segment. Source
// timecodes start at zero because every segment is cut from the start of
// its source; record timecodes follow the segment's place in the output.
func GenerateEDL(placements []compose.Placement, title string, frameRate float64) string {
	fps := int(math.Round(frameRate))
	if fps <= 0 {
		fps = 30
	}
	if strings.TrimSpace(title) == "" {
		title = DefaultTitle
	}

	isDropFrame := math.Abs(frameRate-29.97) < 0.01 || math.Abs(frameRate-59.94) < 0.01

	lines := []string{fmt.Sprintf("TITLE: %s", SanitizeName(title, 70))}
	if isDropFrame {
		lines = append(lines, "FCM: DROP FRAME")
	} else {
		lines = append(lines, "FCM: NON-DROP FRAME")
	}
	lines = append(lines, "")

	for i, p := range placements {
		srcIn := toTimecode(0, fps)
		srcOut := toTimecode(p.Duration, fps)
		recIn := toTimecode(p.OutputStart, fps)
		recOut := toTimecode(p.OutputStart+p.Duration, fps)

		lines = append(lines,
			fmt.Sprintf("%03d  %-8s %-5s C        %s %s %s %s", i+1, "AX", "AA/V", srcIn, srcOut, recIn, recOut),
			fmt.Sprintf("* FROM CLIP NAME:  %s", ClipName(p.Source, p.Ordinal)),
			fmt.Sprintf("* SOURCE URL:  %s", logging.SanitizeURL(p.Source)),
			fmt.Sprintf("* TIMELINE START:  %s", toTimecode(p.TimelineStart, fps)),
		)
	}

	lines = append(lines, "")
	return strings.Join(lines, "\n")
}

// ClipName derives a readable clip name from the last URL path element.
func ClipName(source string, ordinal int) string {
	if u, err := url.Parse(source); err == nil {
		if base := path.Base(u.Path); base != "" && base != "/" && base != "." {
			if name := SanitizeName(base, 64); name != "" {
				return name
			}
		}
	}
	return fmt.Sprintf("segment_%03d", ordinal+1)
}

func toTimecode(d time.Duration, fps int) string {
	return msToTimecode(int(d.Milliseconds()), fps)
}

func msToTimecode(ms int, fps int) string {
	totalFrames := int(math.Round(float64(ms) * float64(fps) / 1000.0))
	frames := totalFrames % fps
	totalSeconds := totalFrames / fps
	seconds := totalSeconds % 60
	totalMinutes := totalSeconds / 60
	minutes := totalMinutes % 60
	hours := totalMinutes / 60
	return fmt.Sprintf("%02d:%02d:%02d:%02d", hours, minutes, seconds, frames)
}

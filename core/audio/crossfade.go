package audio

import (
	"fmt"
	"strconv"
	"strings"

	"craftworker/model"
)

// Crossfade policy shared by every pair of clips.
const (
	CrossfadeSeconds = 4.0
	FadeOutCurve     = "log"
	FadeInCurve      = "nofade"
)

// BuildCrossfadeGraph returns the pairwise merge steps for clipCount ordered clips.
// Step i merges the cumulative output of clips 0..i with clip i+1.
func BuildCrossfadeGraph(clipCount int) []model.CrossfadeOp {
	if clipCount < 2 {
		return []model.CrossfadeOp{}
	}

	ops := make([]model.CrossfadeOp, 0, clipCount-1)
	left := "0"
	for i := 1; i < clipCount; i++ {
		right := strconv.Itoa(i)
		out := left + "+" + right
		ops = append(ops, model.CrossfadeOp{
			LeftLabel:       left,
			RightLabel:      right,
			OutputLabel:     out,
			DurationSeconds: CrossfadeSeconds,
		})
		left = out
	}
	return ops
}

// FinalLabel is the stream carrying the merged audio.
func FinalLabel(ops []model.CrossfadeOp) string {
	if len(ops) == 0 {
		return "0"
	}
	return ops[len(ops)-1].OutputLabel
}

// RenderFilterGraph renders ops as an ffmpeg -filter_complex argument.
func RenderFilterGraph(ops []model.CrossfadeOp) string {
	steps := make([]string, 0, len(ops))
	for _, op := range ops {
		steps = append(steps, fmt.Sprintf("%s%sacrossfade=d=%s:c1=%s:c2=%s[%s]",
			pad(op.LeftLabel), pad(op.RightLabel),
			strconv.FormatFloat(op.DurationSeconds, 'f', -1, 64),
			FadeOutCurve, FadeInCurve, op.OutputLabel))
	}
	return strings.Join(steps, ";")
}

// MapTarget is the -map argument selecting label.
func MapTarget(label string) string {
	return pad(label)
}

// pad turns a single input index into an input pad, anything else into a link label.
func pad(label string) string {
	if strings.Contains(label, "+") {
		return "[" + label + "]"
	}
	return "[" + label + ":a]"
}

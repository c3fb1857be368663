package ffmpeg

import (
	"strconv"
	"strings"
)

// HWAccel identifies a hardware encode path.
type HWAccel string

const (
	HWAccelQSV          HWAccel = "qsv"
	HWAccelVAAPI        HWAccel = "vaapi"
	HWAccelVideoToolbox HWAccel = "videotoolbox"
)

// AlternateHWAccel returns the platform fallback tried when the
// preferred accelerator fails to initialize. Encoding never falls
// back to software.
func AlternateHWAccel(goos string) HWAccel {
	if goos == "darwin" {
		return HWAccelVideoToolbox
	}
	return HWAccelVAAPI
}

// BurnInSpec describes a subtitle burn-in encode of a recording.
type BurnInSpec struct {
	Input     string
	Subtitles string
	Output    string
	Preset    string
	Quality   int
	Accel     HWAccel
}

// filterPathEscaper escapes filtergraph metacharacters in filenames
// passed to the ass filter.
var filterPathEscaper = strings.NewReplacer(
	`\`, `\\`,
	":", `\:`,
	",", `\,`,
	"'", `\'`,
	"[", `\[`,
	"]", `\]`,
	";", `\;`,
)

// BuildBurnIn assembles the hardware encode command that burns the
// subtitle track into the video stream while copying audio.
func BuildBurnIn(ffmpegPath string, spec BurnInSpec) *Command {
	b := NewCommandBuilder(ffmpegPath)
	assFilter := "ass=" + filterPathEscaper.Replace(spec.Subtitles)

	switch spec.Accel {
	case HWAccelVideoToolbox:
		// VideoToolbox encodes software frames directly, so the
		// subtitle filter needs no upload step.
		b.Input(spec.Input).
			VideoFilter(assFilter).
			VideoCodec("h264_videotoolbox").
			OutputArgs("-allow_sw", "0", "-q:v", strconv.Itoa(spec.Quality))
	case HWAccelVAAPI:
		b.GlobalArgs("-init_hw_device", "vaapi=hw", "-filter_hw_device", "hw").
			Input(spec.Input).
			VideoFilter(assFilter).
			VideoFilter("format=nv12").
			VideoFilter("hwupload").
			VideoCodec("h264_vaapi").
			OutputArgs("-qp", strconv.Itoa(spec.Quality))
	default:
		b.GlobalArgs("-init_hw_device", "qsv=hw").
			InputArgs("-hwaccel", "qsv", "-hwaccel_output_format", "qsv").
			Input(spec.Input).
			VideoFilter(assFilter).
			VideoFilter("hwupload=extra_hw_frames=64").
			VideoCodec("h264_qsv").
			VideoPreset(spec.Preset).
			OutputArgs("-global_quality", strconv.Itoa(spec.Quality))
	}

	return b.AudioCodec("copy").Overwrite().Output(spec.Output).Build()
}

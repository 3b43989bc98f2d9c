package transcode

import (
	"fmt"
	"maps"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/floostack/transcoder/ffmpeg"
)

type (
	OperationKind string
	Format        string
	Quality       string

	// Operation describes the transformation a job applies to its source.
	Operation interface {
		Kind() OperationKind
		Validate() error

		// OutputExt is the extension (without a leading dot) of the file
		// this operation produces.
		OutputExt() string

		// OutputName is the suggested download name for the artifact.
		OutputName(sourceName string) string

		// Arguments builds the engine argument list which reads from
		// input and writes to output.
		Arguments(input string, output string) []string
	}

	// ConvertOperation re-encodes the source in to a different container
	// using the codecs associated with the target format.
	ConvertOperation struct {
		Format  Format  `json:"format"`
		Quality Quality `json:"quality"`
	}

	// TrimOperation cuts the source down to the range [Start, End). When
	// Fractional is set, Start and End are fractions (0-1) of the source
	// duration and must be resolved via Resolve before use.
	TrimOperation struct {
		Start      float64 `json:"start"`
		End        float64 `json:"end"`
		Fractional bool    `json:"fractional"`
		Accurate   bool    `json:"accurate"`
	}

	formatSpec struct {
		videoCodec string
		audioCodec string
		mime       string
		extra      map[string]interface{}
	}

	qualitySpec struct {
		preset string
		crf    int
	}
)

const (
	ConvertKind OperationKind = "convert"
	TrimKind    OperationKind = "trim"

	FormatMP4  Format = "mp4"
	FormatWebM Format = "webm"
	FormatMKV  Format = "mkv"
	FormatMOV  Format = "mov"
	FormatAVI  Format = "avi"

	QualityLow    Quality = "low"
	QualityMedium Quality = "medium"
	QualityHigh   Quality = "high"

	trimOutputExt = "mp4"
)

var (
	formats = map[Format]formatSpec{
		FormatMP4:  {videoCodec: "libx264", audioCodec: "aac", mime: "video/mp4"},
		FormatWebM: {videoCodec: "libvpx-vp9", audioCodec: "libopus", mime: "video/webm", extra: map[string]interface{}{"-b:v": "0"}},
		FormatMKV:  {videoCodec: "libx264", audioCodec: "aac", mime: "video/x-matroska"},
		FormatMOV:  {videoCodec: "libx264", audioCodec: "aac", mime: "video/quicktime"},
		FormatAVI:  {videoCodec: "libx264", audioCodec: "libmp3lame", mime: "video/x-msvideo"},
	}

	qualities = map[Quality]qualitySpec{
		QualityLow:    {preset: "ultrafast", crf: 28},
		QualityMedium: {preset: "medium", crf: 23},
		QualityHigh:   {preset: "slow", crf: 18},
	}
)

// Formats returns every supported conversion format.
func Formats() []Format {
	return []Format{FormatMP4, FormatWebM, FormatMKV, FormatMOV, FormatAVI}
}

// MIMEType returns the MIME type for the given file extension, falling back
// to a generic binary type for extensions outside the format table.
func MIMEType(ext string) string {
	if codecs, ok := formats[Format(strings.ToLower(ext))]; ok {
		return codecs.mime
	}

	return "application/octet-stream"
}

func (c ConvertOperation) Kind() OperationKind { return ConvertKind }
func (c ConvertOperation) OutputExt() string   { return string(c.Format) }

func (c ConvertOperation) OutputName(string) string {
	return fmt.Sprintf("anyvid_converted.%s", c.Format)
}

func (c ConvertOperation) Validate() error {
	if _, ok := formats[c.Format]; !ok {
		return fmt.Errorf("%w: unsupported format %q", ErrInvalidInput, c.Format)
	}
	if _, ok := qualities[c.Quality]; !ok {
		return fmt.Errorf("%w: unsupported quality %q", ErrInvalidInput, c.Quality)
	}

	return nil
}

// Arguments renders the conversion, using the codec table for the target
// format and the preset/crf pair for the quality tier.
func (c ConvertOperation) Arguments(input string, output string) []string {
	format := formats[c.Format]
	quality := qualities[c.Quality]

	extra := map[string]interface{}{"-crf": quality.crf}
	maps.Copy(extra, format.extra)

	opts := &ffmpeg.Options{
		VideoCodec: &format.videoCodec,
		AudioCodec: &format.audioCodec,
		Preset:     &quality.preset,
		ExtraArgs:  extra,
	}

	args := []string{"-i", input}
	args = append(args, opts.GetStrArguments()...)
	return append(args, output)
}

func (t TrimOperation) Kind() OperationKind { return TrimKind }
func (t TrimOperation) OutputExt() string   { return trimOutputExt }

func (t TrimOperation) OutputName(sourceName string) string {
	base := strings.TrimSuffix(filepath.Base(sourceName), filepath.Ext(sourceName))
	if base == "" || base == "." {
		base = "video"
	}

	return fmt.Sprintf("trimmed_%s.%s", base, trimOutputExt)
}

func (t TrimOperation) Validate() error {
	if t.Start < 0 {
		return fmt.Errorf("%w: trim start %v must not be negative", ErrInvalidInput, t.Start)
	}
	if t.End <= t.Start {
		return fmt.Errorf("%w: trim end %v must be after start %v", ErrInvalidInput, t.End, t.Start)
	}
	if t.Fractional && t.End > 1 {
		return fmt.Errorf("%w: trim fraction %v must not exceed 1", ErrInvalidInput, t.End)
	}

	return nil
}

// Resolve converts a fractional trim to absolute seconds using the
// duration of the source. Absolute trims are returned unchanged.
func (t TrimOperation) Resolve(duration time.Duration) (TrimOperation, error) {
	if !t.Fractional {
		return t, nil
	}

	return TrimFromFractions(duration, t.Start, t.End, t.Accurate)
}

// Arguments seeks the input to the start of the range and limits the output
// to the length of the range. Unless the trim is accurate, streams are
// copied so cut points may snap to the nearest keyframe.
func (t TrimOperation) Arguments(input string, output string) []string {
	duration := formatSeconds(t.End - t.Start)
	opts := &ffmpeg.Options{Duration: &duration}
	if t.Accurate {
		codecs := formats[FormatMP4]
		preset := qualities[QualityMedium].preset
		opts.VideoCodec = &codecs.videoCodec
		opts.AudioCodec = &codecs.audioCodec
		opts.Preset = &preset
	} else {
		streamCopy := "copy"
		opts.VideoCodec = &streamCopy
		opts.AudioCodec = &streamCopy
		opts.ExtraArgs = map[string]interface{}{"-avoid_negative_ts": "make_zero"}
	}

	args := []string{"-ss", formatSeconds(t.Start), "-i", input}
	args = append(args, opts.GetStrArguments()...)
	return append(args, output)
}

// TrimFromFractions builds an absolute trim from a pair of fractions of the
// given duration, where 0 <= start < end <= 1.
func TrimFromFractions(duration time.Duration, start float64, end float64, accurate bool) (TrimOperation, error) {
	if duration <= 0 {
		return TrimOperation{}, fmt.Errorf("%w: source duration %s is not usable for a fractional trim", ErrInvalidInput, duration)
	}

	frac := TrimOperation{Start: start, End: end, Fractional: true}
	if err := frac.Validate(); err != nil {
		return TrimOperation{}, err
	}

	total := duration.Seconds()
	return TrimOperation{Start: start * total, End: end * total, Accurate: accurate}, nil
}

func formatSeconds(secs float64) string {
	return strconv.FormatFloat(secs, 'f', 3, 64)
}

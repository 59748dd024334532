package reader

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"sensornet/internal/model"
)

// Runner executes an external command and returns its stdout. Swapped out
// in tests.
type Runner func(name string, args ...string) ([]byte, error)

func execRunner(name string, args ...string) ([]byte, error) {
	return exec.Command(name, args...).Output()
}

// Crop regions of the controller display in the captured frame.
var (
	segmentRect = image.Rect(67, 53, 160, 118)   // seven-segment collector temperature
	pumpRect    = image.Rect(106, 157, 116, 166) // pump indicator light
)

// brightFraction is the share of bright pixels in the pump light crop above
// which the light counts as on.
const brightFraction = 0.38

// Thermosolar reads the collector temperature and pump state of a solar
// thermal controller that only exposes its display: a webcam frame is
// captured with fswebcam, the seven-segment digits go through ssocr, and
// the pump light is judged by the brightness of its crop.
type Thermosolar struct {
	Device  string // camera device, e.g. "/dev/video0"
	WorkDir string // scratch dir for the captured frame and crops

	// Run executes fswebcam and ssocr; defaults to exec.Command.
	Run Runner
}

// Read captures one frame and returns the collector temperature and the
// pump state.
func (t *Thermosolar) Read() (temp, pump model.Value, err error) {
	run := t.Run
	if run == nil {
		run = execRunner
	}
	frame := filepath.Join(t.WorkDir, "thermosolar.jpg")
	if _, err := run("fswebcam",
		"--device", t.Device,
		"--quiet",
		"--title", "Thermosolar",
		frame); err != nil {
		return model.Value{}, model.Value{}, fmt.Errorf("thermosolar: camera failure: %w", err)
	}

	data, err := os.ReadFile(frame)
	if err != nil {
		return model.Value{}, model.Value{}, fmt.Errorf("thermosolar: %w", err)
	}
	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		return model.Value{}, model.Value{}, fmt.Errorf("thermosolar: decode frame: %w", err)
	}

	deg, err := t.readSegment(run, crop(img, segmentRect))
	if err != nil {
		return model.Value{}, model.Value{}, err
	}
	return model.Number(float64(deg)), model.Bool(lightOn(crop(img, pumpRect))), nil
}

// readSegment writes the seven-segment crop to disk and OCRs it.
func (t *Thermosolar) readSegment(run Runner, img image.Image) (int, error) {
	segFile := filepath.Join(t.WorkDir, "seven_segment.png")
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return 0, fmt.Errorf("thermosolar: encode crop: %w", err)
	}
	if err := os.WriteFile(segFile, buf.Bytes(), 0o644); err != nil {
		return 0, fmt.Errorf("thermosolar: %w", err)
	}

	out, err := run("ssocr",
		"--number-digits=2",
		"--threshold=98",
		"invert",
		segFile)
	if err != nil {
		return 0, fmt.Errorf("thermosolar: ssocr: %w", err)
	}
	deg, err := strconv.Atoi(strings.TrimSpace(string(out)))
	if err != nil {
		return 0, fmt.Errorf("thermosolar: ssocr output %q: %w", out, err)
	}
	return deg, nil
}

func crop(img image.Image, r image.Rectangle) image.Image {
	out := image.NewRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	for y := 0; y < r.Dy(); y++ {
		for x := 0; x < r.Dx(); x++ {
			out.Set(x, y, img.At(r.Min.X+x, r.Min.Y+y))
		}
	}
	return out
}

// lightOn reports whether the crop is dominated by bright pixels. The
// indicator LED saturates its crop when lit; ambient reflections stay well
// below the threshold.
func lightOn(img image.Image) bool {
	b := img.Bounds()
	total, bright := 0, 0
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, g, bl, _ := img.At(x, y).RGBA()
			// Luminance in the top quarter of the 8-bit range.
			lum := (r + g + bl) / 3 >> 8
			if lum >= 192 {
				bright++
			}
			total++
		}
	}
	return total > 0 && float64(bright)/float64(total) > brightFraction
}

package reader

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"sensornet/internal/model"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestW1Temp_ParsesMillidegrees(t *testing.T) {
	path := writeFile(t, "w1_slave",
		"6b 01 4b 46 7f ff 0c 10 5f : crc=5f YES\n"+
			"6b 01 4b 46 7f ff 0c 10 5f t=22687\n")
	v, err := W1Temp{File: path}.Read()
	if err != nil {
		t.Fatal(err)
	}
	if v != model.Number(22.687) {
		t.Errorf("value: %+v", v)
	}
}

func TestW1Temp_NegativeValue(t *testing.T) {
	path := writeFile(t, "w1_slave",
		"xx : crc=5f YES\nxx t=-1250\n")
	v, err := W1Temp{File: path}.Read()
	if err != nil {
		t.Fatal(err)
	}
	if v != model.Number(-1.25) {
		t.Errorf("value: %+v", v)
	}
}

func TestW1Temp_CRCFailure(t *testing.T) {
	path := writeFile(t, "w1_slave",
		"6b 01 4b 46 7f ff 0c 10 5f : crc=5f NO\n"+
			"6b 01 4b 46 7f ff 0c 10 5f t=22687\n")
	_, err := W1Temp{File: path}.Read()
	if err == nil || !strings.Contains(err.Error(), "sensor says no") {
		t.Errorf("err: %v", err)
	}
}

func TestW1Temp_MissingFile(t *testing.T) {
	_, err := W1Temp{File: filepath.Join(t.TempDir(), "gone")}.Read()
	if err == nil {
		t.Error("expected error")
	}
}

func TestMilliDeg_ParsesValue(t *testing.T) {
	path := writeFile(t, "temp", "21500\n")
	v, err := MilliDeg{File: path}.Read()
	if err != nil {
		t.Fatal(err)
	}
	if v != model.Number(21.5) {
		t.Errorf("value: %+v", v)
	}
}

func TestMilliDeg_Garbage(t *testing.T) {
	path := writeFile(t, "temp", "warm\n")
	if _, err := (MilliDeg{File: path}).Read(); err == nil {
		t.Error("expected error")
	}
}

// testFrame renders a fake controller display: the pump light crop is
// painted white when pumpOn.
func testFrame(t *testing.T, dir string, pumpOn bool) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 320, 240))
	if pumpOn {
		for y := pumpRect.Min.Y; y < pumpRect.Max.Y; y++ {
			for x := pumpRect.Min.X; x < pumpRect.Max.X; x++ {
				img.Set(x, y, color.White)
			}
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "thermosolar.jpg"), buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}
}

func fakeRunner(t *testing.T, dir string, pumpOn bool, ocr string) Runner {
	return func(name string, args ...string) ([]byte, error) {
		switch name {
		case "fswebcam":
			testFrame(t, dir, pumpOn)
			return nil, nil
		case "ssocr":
			return []byte(ocr), nil
		default:
			t.Fatalf("unexpected command %s", name)
			return nil, nil
		}
	}
}

func TestThermosolar_ReadsTemperatureAndPump(t *testing.T) {
	dir := t.TempDir()
	ts := &Thermosolar{Device: "/dev/video0", WorkDir: dir,
		Run: fakeRunner(t, dir, true, "63\n")}

	temp, pump, err := ts.Read()
	if err != nil {
		t.Fatal(err)
	}
	if temp != model.Number(63) {
		t.Errorf("temp: %+v", temp)
	}
	if pump != model.Bool(true) {
		t.Errorf("pump: %+v", pump)
	}

	// Segment crop must be written for ssocr.
	if _, err := os.Stat(filepath.Join(dir, "seven_segment.png")); err != nil {
		t.Errorf("segment crop: %v", err)
	}
}

func TestThermosolar_PumpOff(t *testing.T) {
	dir := t.TempDir()
	ts := &Thermosolar{Device: "/dev/video0", WorkDir: dir,
		Run: fakeRunner(t, dir, false, "42")}

	_, pump, err := ts.Read()
	if err != nil {
		t.Fatal(err)
	}
	if pump != model.Bool(false) {
		t.Errorf("pump: %+v", pump)
	}
}

func TestThermosolar_BadOCROutput(t *testing.T) {
	dir := t.TempDir()
	ts := &Thermosolar{Device: "/dev/video0", WorkDir: dir,
		Run: fakeRunner(t, dir, false, "??")}

	if _, _, err := ts.Read(); err == nil {
		t.Error("expected error")
	}
}

package capture

import (
	"os"
	"path/filepath"
	"testing"
)

const v4l2Listing = `ioctl: VIDIOC_ENUM_FMT
	Type: Video Capture

	[0]: 'MJPG' (Motion-JPEG, compressed)
		Size: Discrete 640x480
			Interval: Discrete 0.033s (30.000 fps)
			Interval: Discrete 0.067s (15.000 fps)
		Size: Discrete 1280x720
			Interval: Discrete 0.033s (30.000 fps)
	[1]: 'YUYV' (YUYV 4:2:2)
		Size: Discrete 640x480
			Interval: Discrete 0.033s (30.000 fps)
`

func TestParseV4L2Formats(t *testing.T) {
	formats := ParseV4L2Formats(v4l2Listing)
	if len(formats) != 2 {
		t.Fatalf("Expected 2 formats, got %d", len(formats))
	}
	mjpg := formats[0]
	if mjpg.FourCC != "MJPG" || len(mjpg.Modes) != 2 {
		t.Fatalf("Unexpected MJPG info: %+v", mjpg)
	}
	if m := mjpg.Modes[0]; m.Width != 640 || m.Height != 480 || len(m.FPS) != 2 || m.FPS[1] != 15 {
		t.Errorf("Unexpected first mode: %+v", m)
	}
	if formats[1].FourCC != "YUYV" || len(formats[1].Modes) != 1 {
		t.Errorf("Unexpected YUYV info: %+v", formats[1])
	}

	dev := DeviceInfo{Formats: formats}
	if !dev.Supports(Options{Width: 640, Height: 480, FPS: 15, Format: FormatMJPG}) {
		t.Error("640x480@15 MJPG should be supported")
	}
	if dev.Supports(Options{Width: 1280, Height: 720, FPS: 30, Format: FormatYUYV}) {
		t.Error("720p YUYV is not offered")
	}
	if !(DeviceInfo{}).Supports(Options{Width: 1, Height: 1, FPS: 1}) {
		t.Error("Unknown capabilities should not reject")
	}
}

func TestParseAVFoundationDevices(t *testing.T) {
	text := `[AVFoundation indev @ 0x7f8] AVFoundation video devices:
[AVFoundation indev @ 0x7f8] [0] FaceTime HD Camera
[AVFoundation indev @ 0x7f8] [1] Capture screen 0
[AVFoundation indev @ 0x7f8] AVFoundation audio devices:
[AVFoundation indev @ 0x7f8] [0] MacBook Pro Microphone
: Input/output error`
	devs := ParseAVFoundationDevices(text)
	if len(devs) != 2 {
		t.Fatalf("Expected 2 video devices, got %+v", devs)
	}
	if devs[0].Name != "FaceTime HD Camera" || devs[1].Index != 1 {
		t.Errorf("Unexpected devices: %+v", devs)
	}
}

func TestParseDShowDevices(t *testing.T) {
	text := `[dshow @ 0000020] "Integrated Camera" (video)
[dshow @ 0000020]   Alternative name "@device_pnp_\\?\usb#vid_04f2"
[dshow @ 0000020] "Microphone Array" (audio)
[dshow @ 0000020] "OBS Virtual Camera" (video)`
	devs := ParseDShowDevices(text)
	if len(devs) != 2 || devs[0].Name != "Integrated Camera" || devs[1].Index != 1 {
		t.Errorf("Unexpected devices: %+v", devs)
	}
}

func TestListV4L(t *testing.T) {
	root := t.TempDir()
	for _, d := range []struct{ dir, name string }{
		{"video2", "USB Camera"},
		{"video0", "Integrated Webcam"},
	} {
		os.MkdirAll(filepath.Join(root, d.dir), 0755)
		os.WriteFile(filepath.Join(root, d.dir, "name"), []byte(d.name+"\n"), 0644)
	}
	os.MkdirAll(filepath.Join(root, "videoX"), 0755)

	devs, err := ListV4L(root)
	if err != nil {
		t.Fatal(err)
	}
	if len(devs) != 2 {
		t.Fatalf("Expected 2 devices, got %+v", devs)
	}
	if devs[0].Index != 0 || devs[0].Name != "Integrated Webcam" || devs[0].Path != "/dev/video0" {
		t.Errorf("Unexpected first device: %+v", devs[0])
	}
	if devs[1].Index != 2 {
		t.Errorf("Devices not sorted by index: %+v", devs)
	}
}

package surface

import (
	"bytes"
	"image/jpeg"
	"testing"

	"github.com/vzahanych/view-guard-meta/edge/livedetect/internal/session"
)

func TestAnnotate_NoDetectionsPassesThrough(t *testing.T) {
	src := testJPEG(t, 32, 32)
	out, err := Annotate(src, nil, 80)
	if err != nil {
		t.Fatalf("Annotate failed: %v", err)
	}
	if !bytes.Equal(src, out) {
		t.Error("Expected frame without detections to pass through unchanged")
	}
}

func TestAnnotate_DrawsBox(t *testing.T) {
	src := testJPEG(t, 64, 48)
	out, err := Annotate(src, []session.Detection{
		{ClassID: 0, X1: 8, Y1: 8, X2: 40, Y2: 40},
		{ClassID: 3, X1: -20, Y1: -20, X2: -5, Y2: -5}, // fully outside
	}, 95)
	if err != nil {
		t.Fatalf("Annotate failed: %v", err)
	}

	img, err := jpeg.Decode(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("Output is not a JPEG: %v", err)
	}
	if img.Bounds().Dx() != 64 || img.Bounds().Dy() != 48 {
		t.Errorf("Unexpected bounds %v", img.Bounds())
	}

	r, _, _, _ := img.At(20, 8).RGBA()
	if r>>8 < 150 {
		t.Errorf("Expected a red box edge at (20,8), got red=%d", r>>8)
	}
	r, _, _, _ = img.At(20, 20).RGBA()
	if r>>8 > 60 {
		t.Errorf("Expected the box interior untouched, got red=%d", r>>8)
	}
}

func TestAnnotate_InvalidJPEG(t *testing.T) {
	if _, err := Annotate([]byte("nope"), []session.Detection{{X2: 1, Y2: 1}}, 80); err == nil {
		t.Error("Expected decode error")
	}
}

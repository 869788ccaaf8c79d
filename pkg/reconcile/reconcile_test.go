package reconcile

import (
	"testing"

	"brainregister/internal/models"
)

// TestReconcileClampsToSourceRange verifies that interpolation overshoot
// is clamped to the source volume's observed value range, not the pixel
// type's full range.
func TestReconcileClampsToSourceRange(t *testing.T) {
	original := models.NewVolume(2, 2, 1, models.UInt16)
	original.Set(0, 0, 0, 0)
	original.Set(1, 0, 0, 4095)
	original.Set(0, 1, 0, 100)
	original.Set(1, 1, 0, 200)

	// an undershoot, an overshoot past the observed max, and two
	// in-range fractional values around the rounding midpoint
	transformed := models.NewVolume(2, 2, 1, models.UInt16)
	transformed.Set(0, 0, 0, -3)
	transformed.Set(1, 0, 0, 5000)
	transformed.Set(0, 1, 0, 150.4)
	transformed.Set(1, 1, 0, 150.5)

	out := Reconcile(original, transformed)

	if got := out.At(0, 0, 0); got != 0 {
		t.Errorf("Expected undershoot clamped to 0, got %v", got)
	}
	if got := out.At(1, 0, 0); got != 4095 {
		t.Errorf("Expected overshoot clamped to 4095, got %v", got)
	}
	if got := out.At(0, 1, 0); got != 150 {
		t.Errorf("Expected 150.4 rounded to 150, got %v", got)
	}
	if got := out.At(1, 1, 0); got != 151 {
		t.Errorf("Expected 150.5 rounded to 151, got %v", got)
	}
}

// TestReconcileKeepsSourcePixelType verifies the output carries the
// source's pixel type even when the transformed volume differs.
func TestReconcileKeepsSourcePixelType(t *testing.T) {
	original := models.NewVolume(2, 1, 1, models.Int8)
	original.Set(0, 0, 0, -100)
	original.Set(1, 0, 0, 100)

	transformed := models.NewVolume(2, 1, 1, models.UInt16)
	transformed.Set(0, 0, 0, -500)
	transformed.Set(1, 0, 0, 500)

	out := Reconcile(original, transformed)

	if out.Pixels != models.Int8 {
		t.Fatalf("Expected Int8 output, got %v", out.Pixels)
	}
	if got := out.At(0, 0, 0); got != -100 {
		t.Errorf("Expected clamp to observed min -100, got %v", got)
	}
	if got := out.At(1, 0, 0); got != 100 {
		t.Errorf("Expected clamp to observed max 100, got %v", got)
	}
}

// TestReconcileLeavesInputsUntouched verifies both inputs survive
// reconciliation unchanged.
func TestReconcileLeavesInputsUntouched(t *testing.T) {
	original := models.NewVolume(1, 1, 1, models.UInt16)
	original.Set(0, 0, 0, 10)
	transformed := models.NewVolume(1, 1, 1, models.UInt16)
	transformed.Set(0, 0, 0, 99.9)

	out := Reconcile(original, transformed)

	if got := transformed.At(0, 0, 0); got != 99.9 {
		t.Errorf("Transformed input modified: got %v", got)
	}
	if got := original.At(0, 0, 0); got != 10 {
		t.Errorf("Original input modified: got %v", got)
	}
	if got := out.At(0, 0, 0); got != 10 {
		t.Errorf("Expected output clamped to 10, got %v", got)
	}
}

// TestReconcileTakesTransformedDimensions verifies the output grid is the
// transformed volume's grid, which generally differs from the source's.
func TestReconcileTakesTransformedDimensions(t *testing.T) {
	original := models.NewVolume(10, 10, 10, models.UInt16)
	original.Set(0, 0, 0, 4095)
	transformed := models.NewVolume(4, 4, 4, models.UInt16)

	out := Reconcile(original, transformed)

	if out.Width != 4 || out.Height != 4 || out.Depth != 4 {
		t.Errorf("Expected 4x4x4 output, got %dx%dx%d", out.Width, out.Height, out.Depth)
	}
}

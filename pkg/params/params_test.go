package params

import (
	"bytes"
	"strings"
	"testing"
)

// TestMapWriteFormat verifies the serialization format: one entry per
// line, numeric values bare, non-numeric values quoted.
func TestMapWriteFormat(t *testing.T) {
	m := NewMap()
	m.Set("Transform", "AffineTransform")
	m.Set("Size", "456.000000", "320.000000", "176.000000")
	m.Set("TransformParameters", "0.04", "0", "0", "0", "0.04", "0", "0", "0", "0.04", "0", "0", "0")

	var buf bytes.Buffer
	if err := m.Write(&buf); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	out := buf.String()

	if !strings.Contains(out, `(Transform "AffineTransform")`) {
		t.Errorf("Expected quoted string value, got:\n%s", out)
	}
	if !strings.Contains(out, "(Size 456.000000 320.000000 176.000000)") {
		t.Errorf("Expected bare numeric values, got:\n%s", out)
	}
}

// TestMapRoundTrip verifies that writing and re-reading a map preserves
// keys, values and entry order exactly.
func TestMapRoundTrip(t *testing.T) {
	m := NewMap()
	m.Set("Transform", "AffineTransform")
	m.Set("NumberOfParameters", "12")
	m.Set("TransformParameters", "1", "0", "0", "0", "1", "0", "0", "0", "1", "0", "0", "0")
	m.Set("ResultImageFormat", "brv")

	var buf bytes.Buffer
	if err := m.Write(&buf); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	got, err := Read(&buf)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}

	wantKeys := m.Keys()
	gotKeys := got.Keys()
	if len(gotKeys) != len(wantKeys) {
		t.Fatalf("Expected %d keys, got %d", len(wantKeys), len(gotKeys))
	}
	for i, k := range wantKeys {
		if gotKeys[i] != k {
			t.Errorf("Key order changed at %d: expected %q, got %q", i, k, gotKeys[i])
		}
		want := m.Get(k)
		have := got.Get(k)
		if len(have) != len(want) {
			t.Errorf("Key %q: expected %d values, got %d", k, len(want), len(have))
			continue
		}
		for j := range want {
			if have[j] != want[j] {
				t.Errorf("Key %q value %d: expected %q, got %q", k, j, want[j], have[j])
			}
		}
	}
}

// TestMapSetReplaces verifies that re-setting a key replaces its values
// without duplicating the entry or changing its position.
func TestMapSetReplaces(t *testing.T) {
	m := NewMap()
	m.Set("A", "1")
	m.Set("B", "2")
	m.Set("A", "3")

	if got := m.GetOne("A"); got != "3" {
		t.Errorf("Expected A=3 after replacement, got %q", got)
	}
	keys := m.Keys()
	if len(keys) != 2 || keys[0] != "A" || keys[1] != "B" {
		t.Errorf("Expected keys [A B], got %v", keys)
	}
}

// TestReadSkipsCommentsAndBlanks verifies tolerant parsing of the
// parameter file format.
func TestReadSkipsCommentsAndBlanks(t *testing.T) {
	in := strings.NewReader(`// registration output

(Transform "BSplineTransform")

// interpolation
(FinalBSplineInterpolationOrder 3)
`)
	m, err := Read(in)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if got := m.GetOne("Transform"); got != "BSplineTransform" {
		t.Errorf("Expected Transform=BSplineTransform, got %q", got)
	}
	if got := m.GetOne("FinalBSplineInterpolationOrder"); got != "3" {
		t.Errorf("Expected interpolation order 3, got %q", got)
	}
}

// TestNearestNeighbourDerivation verifies that the annotation variant of
// a set forces zero-order interpolation in every map while leaving the
// source set completely untouched.
func TestNearestNeighbourDerivation(t *testing.T) {
	affine := NewMap()
	affine.Set("Transform", "AffineTransform")
	affine.Set("FinalBSplineInterpolationOrder", "3")
	bspline := NewMap()
	bspline.Set("Transform", "BSplineTransform")
	bspline.Set("FinalBSplineInterpolationOrder", "3")

	set := Set{affine, bspline}
	nn := set.NearestNeighbour()

	if len(nn) != len(set) {
		t.Fatalf("Expected %d maps, got %d", len(set), len(nn))
	}
	for i := range nn {
		if got := nn.InterpolationOrder(i); got != 0 {
			t.Errorf("Map %d: expected interpolation order 0, got %d", i, got)
		}
		if got := set.InterpolationOrder(i); got != 3 {
			t.Errorf("Source map %d changed: expected interpolation order 3, got %d", i, got)
		}
	}

	// the derived set must be a deep copy
	nn[0].Set("Transform", "Changed")
	if got := set[0].GetOne("Transform"); got != "AffineTransform" {
		t.Errorf("Source map aliased by derived set: got %q", got)
	}
}

// TestInterpolationOrderDefault verifies the default cubic order when a
// map does not carry the key.
func TestInterpolationOrderDefault(t *testing.T) {
	set := Set{NewMap()}
	if got := set.InterpolationOrder(0); got != 3 {
		t.Errorf("Expected default interpolation order 3, got %d", got)
	}
}

// TestBuiltinTemplates verifies the shipped registration stage templates
// are distinct and carry the expected transform models.
func TestBuiltinTemplates(t *testing.T) {
	affine := DefaultAffineTemplate()
	bspline := DefaultBSplineTemplate()

	if got := affine.GetOne("Transform"); got != "AffineTransform" {
		t.Errorf("Expected affine template Transform=AffineTransform, got %q", got)
	}
	if got := bspline.GetOne("Transform"); got != "BSplineTransform" {
		t.Errorf("Expected bspline template Transform=BSplineTransform, got %q", got)
	}
}

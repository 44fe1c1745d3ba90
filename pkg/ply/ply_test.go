package ply

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"dicom2ply/internal/models"
)

// TestWriteFormat verifies the exact header layout and vertex lines
func TestWriteFormat(t *testing.T) {
	h := Header{
		Name:   "Region_A",
		Mean:   5,
		Std:    0,
		Median: 5,
		Mode:   5,
		Sum:    605,
		Len:    121,
	}
	vertices := []models.Vertex{
		{X: 10, Y: 10, Z: -2.5},
		{X: 20, Y: 10, Z: -2.5},
		{X: 20, Y: 20, Z: -2.5},
		{X: 10, Y: 20, Z: -2.5},
	}

	var buf bytes.Buffer
	if err := Write(&buf, h, vertices); err != nil {
		t.Fatalf("Failed to write PLY: %v", err)
	}

	expected := strings.Join([]string{
		"ply",
		"format ascii 1.0",
		"comment name roi_Region_A",
		"comment mean 5.000000",
		"comment std 0.000000",
		"comment median 5.000000",
		"comment mode 5.000000",
		"comment sum 605.000000",
		"comment len 121.000000",
		"element vertex 4",
		"property float x",
		"property float y",
		"property float z",
		"end_header",
		"10.000000 10.000000 -2.500000",
		"20.000000 10.000000 -2.500000",
		"20.000000 20.000000 -2.500000",
		"10.000000 20.000000 -2.500000",
		"",
	}, "\n")

	if buf.String() != expected {
		t.Errorf("Unexpected PLY output.\nExpected:\n%s\nGot:\n%s", expected, buf.String())
	}
}

func TestFileName(t *testing.T) {
	tests := []struct {
		name     string
		expected string
	}{
		{"PTV", "roi_PTV.ply"},
		{"7", "roi_7.ply"},
		{"Lung L/R", "roi_Lung L_R.ply"},
		{`a\b`, "roi_a_b.ply"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FileName(tt.name); got != tt.expected {
				t.Errorf("Expected %s, got %s", tt.expected, got)
			}
		})
	}
}

func TestWriteFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName("Cord"))
	if err := WriteFile(path, Header{Name: "Cord"}, nil); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read file: %v", err)
	}
	if !strings.Contains(string(data), "element vertex 0\n") {
		t.Errorf("Expected an empty vertex element, got:\n%s", data)
	}

	if err := WriteFile(filepath.Join(t.TempDir(), "missing", "x.ply"), Header{}, nil); err == nil {
		t.Error("Expected an error for a missing directory")
	}
}

// Package ply writes region point clouds as ASCII PLY files with the region's
// statistics embedded as header comments.
package ply

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"dicom2ply/internal/models"
)

// Header carries the metadata written before the vertex list
type Header struct {
	Name   string
	Mean   float64
	Std    float64
	Median float64
	Mode   float64
	Sum    float64
	Len    int
}

// FileName returns the artifact name for a region. Path separators in the
// region name are replaced so the file always lands in the output directory.
func FileName(name string) string {
	safe := strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' || r == os.PathSeparator {
			return '_'
		}
		return r
	}, name)
	return "roi_" + safe + ".ply"
}

// Write encodes h and vertices to w
func Write(w io.Writer, h Header, vertices []models.Vertex) error {
	bw := bufio.NewWriter(w)

	lines := []string{
		"ply",
		"format ascii 1.0",
		fmt.Sprintf("comment name roi_%s", h.Name),
		fmt.Sprintf("comment mean %f", h.Mean),
		fmt.Sprintf("comment std %f", h.Std),
		fmt.Sprintf("comment median %f", h.Median),
		fmt.Sprintf("comment mode %f", h.Mode),
		fmt.Sprintf("comment sum %f", h.Sum),
		fmt.Sprintf("comment len %f", float64(h.Len)),
		fmt.Sprintf("element vertex %d", len(vertices)),
		"property float x",
		"property float y",
		"property float z",
		"end_header",
	}
	for _, line := range lines {
		if _, err := bw.WriteString(line + "\n"); err != nil {
			return err
		}
	}

	for _, v := range vertices {
		if _, err := fmt.Fprintf(bw, "%f %f %f\n", v.X, v.Y, v.Z); err != nil {
			return err
		}
	}

	return bw.Flush()
}

// WriteFile writes the artifact to path, replacing any existing file
func WriteFile(path string, h Header, vertices []models.Vertex) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create PLY file: %w", err)
	}

	if err := Write(f, h, vertices); err != nil {
		f.Close()
		return fmt.Errorf("failed to write PLY file: %w", err)
	}
	return f.Close()
}

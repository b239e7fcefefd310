// Package ply reads and writes the ASCII point-cloud subset of the PLY
// format that the reconstruction pipeline exchanges with COLMAP.
package ply

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// Point is one vertex position.
type Point struct {
	X, Y, Z float64
}

// FormatError reports a malformed PLY document.
type FormatError struct {
	Path   string
	Reason string
}

func (e *FormatError) Error() string {
	if e.Path == "" {
		return "ply: " + e.Reason
	}
	return "ply: " + e.Path + ": " + e.Reason
}

func formatErr(path, reason string) error {
	return &FormatError{Path: path, Reason: reason}
}

// ReadFile reads every vertex from an ASCII PLY file. Extra vertex
// properties beyond x/y/z are tolerated and ignored.
func ReadFile(path string) ([]Point, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open ply: %w", err)
	}
	defer file.Close()
	points, err := Read(file)
	if err != nil {
		var fe *FormatError
		if ok := asFormatError(err, &fe); ok {
			fe.Path = path
		}
		return nil, err
	}
	return points, nil
}

func asFormatError(err error, target **FormatError) bool {
	fe, ok := err.(*FormatError)
	if ok {
		*target = fe
	}
	return ok
}

// Read parses an ASCII PLY stream.
func Read(r io.Reader) ([]Point, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	if !scanner.Scan() {
		return nil, formatErr("", "empty file")
	}
	if strings.TrimSpace(scanner.Text()) != "ply" {
		return nil, formatErr("", "missing ply magic")
	}

	vertexCount := -1
	var properties []string
	inVertex := false
	sawFormat := false
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "end_header":
			if !sawFormat {
				return nil, formatErr("", "missing format line")
			}
			if vertexCount < 0 {
				return nil, formatErr("", "missing vertex element")
			}
			return readVertices(scanner, vertexCount, properties)
		case strings.HasPrefix(line, "format "):
			if line != "format ascii 1.0" {
				return nil, formatErr("", "unsupported format "+strings.TrimPrefix(line, "format "))
			}
			sawFormat = true
		case strings.HasPrefix(line, "element vertex "):
			n, err := strconv.Atoi(strings.TrimPrefix(line, "element vertex "))
			if err != nil || n < 0 {
				return nil, formatErr("", "malformed vertex element line")
			}
			vertexCount = n
			inVertex = true
		case strings.HasPrefix(line, "element "):
			inVertex = false
		case strings.HasPrefix(line, "property ") && inVertex:
			fields := strings.Fields(line)
			properties = append(properties, fields[len(fields)-1])
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read ply header: %w", err)
	}
	return nil, formatErr("", "header terminated before end_header")
}

func readVertices(scanner *bufio.Scanner, count int, properties []string) ([]Point, error) {
	xi, yi, zi := 0, 1, 2
	if len(properties) > 0 {
		var ok bool
		if xi, ok = indexOf(properties, "x"); !ok {
			return nil, formatErr("", "vertex properties missing x")
		}
		if yi, ok = indexOf(properties, "y"); !ok {
			return nil, formatErr("", "vertex properties missing y")
		}
		if zi, ok = indexOf(properties, "z"); !ok {
			return nil, formatErr("", "vertex properties missing z")
		}
	}
	max := xi
	if yi > max {
		max = yi
	}
	if zi > max {
		max = zi
	}

	points := make([]Point, 0, count)
	for i := 0; i < count; i++ {
		if !scanner.Scan() {
			return nil, formatErr("", fmt.Sprintf("vertex data truncated at row %d of %d", i, count))
		}
		fields := strings.Fields(scanner.Text())
		if len(fields) <= max {
			return nil, formatErr("", fmt.Sprintf("vertex row %d has %d fields", i, len(fields)))
		}
		x, errX := strconv.ParseFloat(fields[xi], 64)
		y, errY := strconv.ParseFloat(fields[yi], 64)
		z, errZ := strconv.ParseFloat(fields[zi], 64)
		if errX != nil || errY != nil || errZ != nil {
			return nil, formatErr("", fmt.Sprintf("vertex row %d has non-numeric coordinates", i))
		}
		points = append(points, Point{X: x, Y: y, Z: z})
	}
	return points, nil
}

func indexOf(values []string, want string) (int, bool) {
	for i, v := range values {
		if v == want {
			return i, true
		}
	}
	return 0, false
}

// WriteFile writes points as an ASCII PLY document with six-decimal
// coordinates.
func WriteFile(path string, points []Point) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create ply: %w", err)
	}
	if err := Write(file, points); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

// Write serializes points to w.
func Write(w io.Writer, points []Point) error {
	buf := bufio.NewWriter(w)
	fmt.Fprintf(buf, "ply\nformat ascii 1.0\nelement vertex %d\n", len(points))
	buf.WriteString("property float x\nproperty float y\nproperty float z\nend_header\n")
	for _, p := range points {
		fmt.Fprintf(buf, "%.6f %.6f %.6f\n", p.X, p.Y, p.Z)
	}
	if err := buf.Flush(); err != nil {
		return fmt.Errorf("write ply: %w", err)
	}
	return nil
}

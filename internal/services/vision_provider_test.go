package services

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestMimeTypeForPath(t *testing.T) {
	cases := []struct {
		path string
		want string
	}{
		{"scan.pdf", "application/pdf"},
		{"SCAN.PDF", "application/pdf"},
		{"scan.tif", "image/tiff"},
		{"scan.tiff", "image/tiff"},
		{"scan.png", "image/png"},
		{"scan.jpg", "image/jpeg"},
		{"scan.jpeg", "image/jpeg"},
		{"scan", "image/jpeg"},
	}
	for _, tc := range cases {
		if got := mimeTypeForPath(tc.path); got != tc.want {
			t.Fatalf("mimeTypeForPath(%q) = %q, want %q", tc.path, got, tc.want)
		}
	}
}

func TestExtractPages_RejectsMissingAndEmptyFiles(t *testing.T) {
	svc := &visionProviderService{log: testLogger(t)}

	if _, err := svc.ExtractPages(context.Background(), filepath.Join(t.TempDir(), "absent.pdf")); err == nil {
		t.Fatalf("expected error for missing file")
	}

	empty := filepath.Join(t.TempDir(), "empty.pdf")
	if err := os.WriteFile(empty, nil, 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	_, err := svc.ExtractPages(context.Background(), empty)
	if err == nil || !strings.Contains(err.Error(), "empty file") {
		t.Fatalf("err = %v, want empty file error", err)
	}
}

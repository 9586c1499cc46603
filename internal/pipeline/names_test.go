package pipeline_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/TheMichaelB/obseal/internal/pipeline"
)

func TestSealName(t *testing.T) {
	tests := []struct {
		source string
		want   string
	}{
		{"/home/me/report.pdf", "report.enc"},
		{"report.final.v2.pdf", "report.enc"},
		{"README", "README.enc"},
		{"/tmp/.bashrc", "bashrc.enc"},
		{"/tmp/...", "artifact.enc"},
		{"dir/sub/archive.tar.gz", "archive.enc"},
	}

	for _, tt := range tests {
		t.Run(tt.source, func(t *testing.T) {
			assert.Equal(t, tt.want, pipeline.SealName(tt.source))
		})
	}
}

func TestUnsealName(t *testing.T) {
	tests := []struct {
		artifact string
		ext      string
		want     string
	}{
		{"/out/report.enc", "pdf", "report.pdf"},
		{"/out/report.enc", ".pdf", "report.pdf"},
		{"/out/report.enc", "", "report"},
		{"photo (1).enc", "png", "photo (1).png"},
		{"noext", "zip", "noext.zip"},
	}

	for _, tt := range tests {
		t.Run(tt.artifact+"/"+tt.ext, func(t *testing.T) {
			assert.Equal(t, tt.want, pipeline.UnsealName(tt.artifact, tt.ext))
		})
	}
}

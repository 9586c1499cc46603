package benchmark

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/TheMichaelB/obseal/internal/events"
	"github.com/TheMichaelB/obseal/internal/models"
	"github.com/TheMichaelB/obseal/internal/pipeline"
	"github.com/TheMichaelB/obseal/internal/storage"
	"github.com/TheMichaelB/obseal/internal/workers"
	"github.com/TheMichaelB/obseal/test/testutil"
)

var sizes = []int{
	64 * 1024,
	1024 * 1024,
	8 * 1024 * 1024,
}

func newOrchestrator(b *testing.B, saver storage.Saver) *pipeline.Orchestrator {
	b.Helper()
	logger := events.NewNopLogger()
	return pipeline.NewOrchestrator(pipeline.Deps{
		Reader: storage.NewChunkedReader(storage.DefaultChunkSize),
		Spill:  storage.NewSpill(b.TempDir(), storage.DefaultChunkSize, logger),
		Saver:  saver,
		Pool:   workers.NewPool(4),
	}, nil, logger)
}

func writeSource(b *testing.B, name string, size int) string {
	b.Helper()
	path := filepath.Join(b.TempDir(), name)
	if err := os.WriteFile(path, testutil.Pseudorandom(size, int64(size)), 0600); err != nil {
		b.Fatal(err)
	}
	return path
}

func BenchmarkSeal(b *testing.B) {
	for _, size := range sizes {
		b.Run(fmt.Sprintf("%dKB", size/1024), func(b *testing.B) {
			orch := newOrchestrator(b, storage.NewMockSaver())
			src := writeSource(b, "data.bin", size)

			b.SetBytes(int64(size))
			b.ReportAllocs()
			b.ResetTimer()

			for i := 0; i < b.N; i++ {
				job := models.NewJob(models.DirectionSeal, src, []byte("bench"), 0x5a)
				if _, err := orch.Run(context.Background(), job); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

func BenchmarkUnseal(b *testing.B) {
	for _, size := range sizes {
		b.Run(fmt.Sprintf("%dKB", size/1024), func(b *testing.B) {
			saver := storage.NewMockSaver()
			orch := newOrchestrator(b, saver)
			src := writeSource(b, "data.bin", size)

			seal := models.NewJob(models.DirectionSeal, src, []byte("bench"), 0x5a)
			if _, err := orch.Run(context.Background(), seal); err != nil {
				b.Fatal(err)
			}
			artifact, err := saver.Get("data.enc")
			if err != nil {
				b.Fatal(err)
			}
			sealed := filepath.Join(b.TempDir(), "data.enc")
			if err := os.WriteFile(sealed, artifact, 0600); err != nil {
				b.Fatal(err)
			}

			b.SetBytes(int64(size))
			b.ReportAllocs()
			b.ResetTimer()

			for i := 0; i < b.N; i++ {
				job := models.NewJob(models.DirectionUnseal, sealed, []byte("bench"), 0x5a)
				if _, err := orch.Run(context.Background(), job); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

func BenchmarkBatchSeal(b *testing.B) {
	for _, concurrent := range []int{1, 2, 4} {
		b.Run(fmt.Sprintf("concurrent-%d", concurrent), func(b *testing.B) {
			svc := pipeline.NewService(newOrchestrator(b, storage.NewMockSaver()), concurrent, events.NewNopLogger())

			var paths []string
			for i := 0; i < 8; i++ {
				paths = append(paths, writeSource(b, fmt.Sprintf("f%d.bin", i), 512*1024))
			}

			b.ReportAllocs()
			b.ResetTimer()

			for i := 0; i < b.N; i++ {
				jobs := make([]*models.Job, len(paths))
				for j, p := range paths {
					jobs[j] = models.NewJob(models.DirectionSeal, p, []byte("bench"), 1)
				}
				if _, err := svc.RunBatch(context.Background(), jobs); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

package slides

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"slidehub/internal/platform/metrics"
)

// UploadChunkSize is the fixed chunk size for slide uploads.
const UploadChunkSize int64 = 1 << 20

// ChunkPoster sends one multipart chunk. Implemented by the transport
// layer's slides client.
type ChunkPoster interface {
	UploadChunk(ctx context.Context, filename string, fileSize int64, chunk int, chunkSize int64, content []byte) error
}

// DisplayChunkTotal is the chunk total reported alongside progress:
// floor(fileSize / chunkSize). The tail remainder still ships as one more
// chunk, so the transmitted count can exceed this by one — the total is a
// display approximation, kept as-is for parity with the server's
// bookkeeping.
func DisplayChunkTotal(fileSize, chunkSize int64) int64 {
	return fileSize / chunkSize
}

// Uploader streams a slide file to the server in sequential 1 MiB chunks.
type Uploader struct {
	api     ChunkPoster
	log     *slog.Logger
	metrics *metrics.Metrics
}

func NewUploader(api ChunkPoster, log *slog.Logger, m *metrics.Metrics) *Uploader {
	return &Uploader{api: api, log: log, metrics: m}
}

// Upload sends the file chunk by chunk, reporting fractional progress after
// each one. Cancelling ctx stops before the next chunk goes out; the
// server-side partial upload is then the server's cleanup problem. Returns
// the number of chunks actually transmitted.
func (u *Uploader) Upload(ctx context.Context, filename string, r io.Reader, fileSize int64, progress func(fraction float64)) (int, error) {
	total := DisplayChunkTotal(fileSize, UploadChunkSize)
	if total < 1 {
		total = 1
	}

	buf := make([]byte, UploadChunkSize)
	sent := 0
	for {
		if err := ctx.Err(); err != nil {
			return sent, fmt.Errorf("upload %s: cancelled after %d chunks: %w", filename, sent, err)
		}

		n, readErr := io.ReadFull(r, buf)
		if n > 0 {
			if err := u.api.UploadChunk(ctx, filename, fileSize, sent, UploadChunkSize, buf[:n]); err != nil {
				return sent, fmt.Errorf("upload %s: chunk %d: %w", filename, sent, err)
			}
			sent++
			if u.metrics != nil {
				u.metrics.UploadChunksTotal.Inc()
			}
			if progress != nil {
				progress(float64(sent) / float64(total))
			}
		}

		if readErr != nil {
			if errors.Is(readErr, io.EOF) || errors.Is(readErr, io.ErrUnexpectedEOF) {
				break
			}
			return sent, fmt.Errorf("upload %s: read: %w", filename, readErr)
		}
	}

	u.log.Info("slide uploaded", "filename", filename, "bytes", fileSize, "chunks", sent)
	return sent, nil
}

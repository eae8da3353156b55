package slides

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"slidehub/internal/platform/logger"
	"slidehub/internal/platform/metrics"
)

type mockPoster struct {
	mock.Mock
}

func (m *mockPoster) UploadChunk(ctx context.Context, filename string, fileSize int64, chunk int, chunkSize int64, content []byte) error {
	args := m.Called(ctx, filename, fileSize, chunk, chunkSize, len(content))
	return args.Error(0)
}

// TestChunkArithmetic pins the display total against the transmitted count:
// the total is floor division while the tail remainder ships as an extra
// chunk, so 2,500,000 bytes report 2 chunks and transmit 3.
func TestChunkArithmetic(t *testing.T) {
	const fileSize = int64(2_500_000)

	assert.Equal(t, int64(2), DisplayChunkTotal(fileSize, UploadChunkSize))

	poster := &mockPoster{}
	poster.On("UploadChunk", mock.Anything, "scan.svs", fileSize, 0, UploadChunkSize, int(UploadChunkSize)).Return(nil).Once()
	poster.On("UploadChunk", mock.Anything, "scan.svs", fileSize, 1, UploadChunkSize, int(UploadChunkSize)).Return(nil).Once()
	poster.On("UploadChunk", mock.Anything, "scan.svs", fileSize, 2, UploadChunkSize, 402848).Return(nil).Once()

	uploader := NewUploader(poster, logger.Discard(), metrics.NewDiscard())

	var fractions []float64
	sent, err := uploader.Upload(context.Background(), "scan.svs",
		bytes.NewReader(make([]byte, fileSize)), fileSize,
		func(fraction float64) { fractions = append(fractions, fraction) })

	require.NoError(t, err)
	assert.Equal(t, 3, sent)
	assert.Equal(t, []float64{0.5, 1.0, 1.5}, fractions)
	poster.AssertExpectations(t)
}

func TestUploadExactMultipleHasNoTailChunk(t *testing.T) {
	fileSize := 2 * UploadChunkSize

	poster := &mockPoster{}
	poster.On("UploadChunk", mock.Anything, "even.svs", fileSize, mock.Anything, UploadChunkSize, int(UploadChunkSize)).Return(nil).Twice()

	uploader := NewUploader(poster, logger.Discard(), metrics.NewDiscard())
	sent, err := uploader.Upload(context.Background(), "even.svs",
		bytes.NewReader(make([]byte, fileSize)), fileSize, nil)

	require.NoError(t, err)
	assert.Equal(t, 2, sent)
	poster.AssertExpectations(t)
}

func TestUploadCancellationStopsFurtherChunks(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	fileSize := 5 * UploadChunkSize

	poster := &mockPoster{}
	// cancel while the first chunk is in flight; no later chunk may go out
	poster.On("UploadChunk", mock.Anything, "big.svs", fileSize, 0, UploadChunkSize, int(UploadChunkSize)).
		Run(func(mock.Arguments) { cancel() }).Return(nil).Once()

	uploader := NewUploader(poster, logger.Discard(), metrics.NewDiscard())
	sent, err := uploader.Upload(ctx, "big.svs",
		bytes.NewReader(make([]byte, fileSize)), fileSize, nil)

	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, sent)
	poster.AssertExpectations(t)
}

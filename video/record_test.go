package video

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStatusTransitions(t *testing.T) {
	allowed := [][2]Status{
		{StatusPending, StatusUploading},
		{StatusUploading, StatusUploaded},
		{StatusUploaded, StatusProcessing},
		{StatusProcessing, StatusReady},
		{StatusProcessing, StatusError},
		{StatusError, StatusPending},
		{StatusProcessing, StatusProcessing},
	}
	for _, pair := range allowed {
		require.True(t, ValidTransition(pair[0], pair[1]), "%s -> %s should be allowed", pair[0], pair[1])
	}

	forbidden := [][2]Status{
		{StatusReady, StatusPending},
		{StatusReady, StatusProcessing},
		{StatusReady, StatusError},
		{StatusUploaded, StatusUploading},
		{StatusProcessing, StatusUploaded},
		{StatusPending, StatusUploaded},
		{StatusPending, StatusReady},
		{StatusError, StatusProcessing},
		{StatusUploading, StatusPending},
	}
	for _, pair := range forbidden {
		require.False(t, ValidTransition(pair[0], pair[1]), "%s -> %s should be forbidden", pair[0], pair[1])
	}
}

func TestTerminalStatuses(t *testing.T) {
	require.True(t, StatusReady.Terminal())
	require.True(t, StatusError.Terminal())
	require.False(t, StatusPending.Terminal())
	require.False(t, StatusUploading.Terminal())
	require.False(t, StatusUploaded.Terminal())
	require.False(t, StatusProcessing.Terminal())
}

func TestMarkChunkReceivedIsIdempotent(t *testing.T) {
	rec := Record{TotalChunks: 4}

	rec.MarkChunkReceived(2)
	rec.MarkChunkReceived(0)
	rec.MarkChunkReceived(2)

	require.Equal(t, 2, rec.ChunksReceived)
	require.Equal(t, []int{0, 2}, rec.ReceivedChunks)
	require.InDelta(t, 50.0, rec.UploadProgress, 0.001)
	require.False(t, rec.AllChunksReceived())

	rec.MarkChunkReceived(1)
	rec.MarkChunkReceived(3)
	require.Equal(t, []int{0, 1, 2, 3}, rec.ReceivedChunks)
	require.InDelta(t, 100.0, rec.UploadProgress, 0.001)
	require.True(t, rec.AllChunksReceived())
}

func TestHasChunk(t *testing.T) {
	rec := Record{TotalChunks: 3}
	require.False(t, rec.HasChunk(1))
	rec.MarkChunkReceived(1)
	require.True(t, rec.HasChunk(1))
	require.False(t, rec.HasChunk(0))
}

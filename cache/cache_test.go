package cache

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type testJobInfo struct {
	OwnerID string
}

func TestStoreAndRetrieve(t *testing.T) {
	c := New[testJobInfo]()
	c.Store("some-video-id", testJobInfo{OwnerID: "some-owner"})

	require.Equal(t, "some-owner", c.Get("some-video-id").OwnerID)
	require.Equal(t, 1, c.Len())
}

func TestStoreAndRemove(t *testing.T) {
	c := New[testJobInfo]()
	c.Store("some-video-id", testJobInfo{OwnerID: "some-owner"})
	require.Equal(t, "some-owner", c.Get("some-video-id").OwnerID)

	c.Remove("some-video-id")
	require.Equal(t, "", c.Get("some-video-id").OwnerID)
	require.Equal(t, 0, c.Len())
}

func TestGetMissingReturnsZeroValue(t *testing.T) {
	c := New[*testJobInfo]()
	require.Nil(t, c.Get("never-stored"))
}

package cache

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestKeyedMutexSerialisesSameKey(t *testing.T) {
	km := NewKeyedMutex()

	var counter int
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := km.Lock("same-video")
			defer unlock()
			counter++
		}()
	}
	wg.Wait()

	require.Equal(t, 50, counter)
}

func TestKeyedMutexIndependentKeys(t *testing.T) {
	km := NewKeyedMutex()

	unlockA := km.Lock("video-a")
	// Holding video-a must not block video-b.
	done := make(chan struct{})
	go func() {
		unlockB := km.Lock("video-b")
		unlockB()
		close(done)
	}()
	<-done
	unlockA()
}

func TestKeyedMutexReapsIdleEntries(t *testing.T) {
	km := NewKeyedMutex()
	unlock := km.Lock("gone-video")
	unlock()
	require.Empty(t, km.mutexes)

	// A fresh lock after reaping must still work.
	unlock = km.Lock("gone-video")
	require.Len(t, km.mutexes, 1)
	unlock()
	require.Empty(t, km.mutexes)
}

// A waiter blocked in Lock and a locker arriving after the entry was handed
// back must still exclude each other.
func TestKeyedMutexLateLockersQueueBehindWaiters(t *testing.T) {
	km := NewKeyedMutex()
	unlock := km.Lock("contended-video")

	var holders, overlaps int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			u := km.Lock("contended-video")
			defer u()
			if atomic.AddInt32(&holders, 1) > 1 {
				atomic.AddInt32(&overlaps, 1)
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&holders, -1)
		}()
	}
	unlock()
	wg.Wait()

	require.Zero(t, atomic.LoadInt32(&overlaps))
	require.Empty(t, km.mutexes)
}

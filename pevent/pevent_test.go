package pevent

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestTimerFiresOnce(t *testing.T) {
	c := NewContext(zap.NewNop())
	var n int32
	done := make(chan struct{})
	c.RegisterTimer(10*time.Millisecond, 0, nil, func(ctx context.Context, arg any) {
		atomic.AddInt32(&n, 1)
		close(done)
	}, nil)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timer never fired")
	}
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, int32(1), atomic.LoadInt32(&n))
}

func TestTimerRecurring(t *testing.T) {
	c := NewContext(zap.NewNop())
	var n int32
	slot := c.RegisterTimer(5*time.Millisecond, Recurring, nil, func(ctx context.Context, arg any) {
		atomic.AddInt32(&n, 1)
	}, nil)

	time.Sleep(40 * time.Millisecond)
	require.NoError(t, c.Unregister(context.Background(), slot))
	require.GreaterOrEqual(t, atomic.LoadInt32(&n), int32(3))
}

func TestUserEventCoalesces(t *testing.T) {
	c := NewContext(zap.NewNop())
	var n int32
	release := make(chan struct{})
	started := make(chan struct{}, 10)
	slot := c.RegisterUser(Recurring, nil, func(ctx context.Context, arg any) {
		started <- struct{}{}
		<-release
		atomic.AddInt32(&n, 1)
	}, nil)

	require.NoError(t, slot.Trigger())
	require.NoError(t, slot.Trigger())
	require.NoError(t, slot.Trigger())

	<-started
	close(release)
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, int32(1), atomic.LoadInt32(&n))
	require.NoError(t, c.Unregister(context.Background(), slot))
}

func TestMessagePortDeliversValues(t *testing.T) {
	c := NewContext(zap.NewNop())
	ch := make(chan any, 4)
	var got []any
	var mu sync.Mutex
	done := make(chan struct{})
	count := 0
	slot := c.RegisterMessagePort(ch, Recurring, nil, func(ctx context.Context, arg any) {
		mu.Lock()
		got = append(got, arg)
		count++
		if count == 2 {
			close(done)
		}
		mu.Unlock()
	})

	ch <- "a"
	ch <- "b"
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("message port never delivered both values")
	}
	require.NoError(t, c.Unregister(context.Background(), slot))

	mu.Lock()
	defer mu.Unlock()
	require.ElementsMatch(t, []any{"a", "b"}, got)
}

func TestMutexSerializesTwoSlots(t *testing.T) {
	c := NewContext(zap.NewNop())
	var mutex sync.Mutex
	var running int32
	var maxRunning int32
	done := make(chan struct{}, 2)

	handler := func(ctx context.Context, arg any) {
		n := atomic.AddInt32(&running, 1)
		for {
			old := atomic.LoadInt32(&maxRunning)
			if n <= old || atomic.CompareAndSwapInt32(&maxRunning, old, n) {
				break
			}
		}
		time.Sleep(15 * time.Millisecond)
		atomic.AddInt32(&running, -1)
		done <- struct{}{}
	}

	s1 := c.RegisterUser(OwnThread, &mutex, handler, nil)
	s2 := c.RegisterUser(OwnThread, &mutex, handler, nil)
	require.NoError(t, s1.Trigger())
	require.NoError(t, s2.Trigger())

	<-done
	<-done
	require.Equal(t, int32(1), atomic.LoadInt32(&maxRunning))
	require.NoError(t, c.Unregister(context.Background(), s1))
	require.NoError(t, c.Unregister(context.Background(), s2))
}

func TestSelfUnregisterIsNoop(t *testing.T) {
	c := NewContext(zap.NewNop())
	called := make(chan struct{})
	var slot *Slot
	slot = c.RegisterUser(0, nil, func(ctx context.Context, arg any) {
		require.NoError(t, c.Unregister(ctx, slot))
		close(called)
	}, nil)

	require.NoError(t, slot.Trigger())
	select {
	case <-called:
	case <-time.After(time.Second):
		t.Fatal("handler never ran")
	}
	require.NoError(t, c.Unregister(context.Background(), slot))
}

func TestUnregisterBlocksUntilHandlerDone(t *testing.T) {
	c := NewContext(zap.NewNop())
	release := make(chan struct{})
	inHandler := make(chan struct{})
	slot := c.RegisterUser(0, nil, func(ctx context.Context, arg any) {
		close(inHandler)
		<-release
	}, nil)

	require.NoError(t, slot.Trigger())
	<-inHandler

	unregisterDone := make(chan struct{})
	go func() {
		require.NoError(t, c.Unregister(context.Background(), slot))
		close(unregisterDone)
	}()

	select {
	case <-unregisterDone:
		t.Fatal("unregister returned before the handler finished")
	case <-time.After(30 * time.Millisecond):
	}

	close(release)
	select {
	case <-unregisterDone:
	case <-time.After(time.Second):
		t.Fatal("unregister never returned")
	}
}

func TestUnregisterWaitsForOneShotOwnThreadHandler(t *testing.T) {
	c := NewContext(zap.NewNop())
	var ran atomic.Bool
	release := make(chan struct{})
	slot := c.RegisterUser(OwnThread, nil, func(ctx context.Context, arg any) {
		<-release
		ran.Store(true)
	}, nil)

	require.NoError(t, slot.Trigger())

	// Unregister races the slot's own one-shot retirement instead of
	// waiting for the handler to signal it has started.
	unregisterDone := make(chan struct{})
	go func() {
		require.NoError(t, c.Unregister(context.Background(), slot))
		close(unregisterDone)
	}()

	select {
	case <-unregisterDone:
		t.Fatal("unregister returned before the handler finished")
	case <-time.After(30 * time.Millisecond):
	}

	close(release)
	select {
	case <-unregisterDone:
	case <-time.After(time.Second):
		t.Fatal("unregister never returned")
	}
	require.True(t, ran.Load())
}

func TestRegisterReadRejectsUnsupportedConn(t *testing.T) {
	c := NewContext(zap.NewNop())
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	_, err := c.RegisterRead(client, 0, nil, func(ctx context.Context, arg any) {}, nil)
	require.Error(t, err)
}

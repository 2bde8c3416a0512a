package pevent

import (
	"context"
	"io"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// readyPollInterval bounds how long a Read/Write readiness check
// blocks before re-checking for cancellation via stopCh.
const readyPollInterval = 200 * time.Millisecond

// syscallConner is the net.Conn capability driveReady depends on; all
// of *net.TCPConn, *net.UnixConn, and *tls.Conn satisfy it.
type syscallConner interface {
	SyscallConn() (syscall.RawConn, error)
}

// fire invokes s.handler, honoring s.mutex and s.flags&OwnThread. The
// mutex guarantees two events sharing it never run concurrently;
// events without one may run in parallel with any other slot.
func (s *Slot) fire(arg any) {
	s.mu.Lock()
	if s.unregistered {
		s.mu.Unlock()
		return
	}
	s.executing = true
	s.mu.Unlock()

	run := func() {
		if s.mutex != nil {
			s.mutex.Lock()
			defer s.mutex.Unlock()
		}
		invCtx := context.WithValue(context.Background(), currentSlotKey, s)
		s.handler(invCtx, arg)
	}

	if s.flags&OwnThread != 0 {
		if err := s.ctx.sem.Acquire(context.Background(), 1); err == nil {
			s.ownWG.Add(1)
			go func() {
				defer s.ownWG.Done()
				defer s.ctx.sem.Release(1)
				run()
			}()
		} else {
			s.ctx.logger.Warn("pevent: failed to acquire OwnThread slot", zap.Error(err))
		}
	} else {
		run()
	}

	s.mu.Lock()
	s.executing = false
	s.mu.Unlock()
}

// retire marks a one-shot slot as done and forgets it from the
// Context, the same finalization Unregister performs, except there is
// no caller blocked waiting on it. For an OwnThread slot, fire()
// spawns the handler and returns before it completes, so retire must
// wait on s.ownWG before marking the slot unregistered — otherwise a
// concurrent Unregister could observe unregistered already true and
// return immediately while the handler is still running, breaking the
// "handler has fully completed before return, or will never run"
// guarantee.
func (s *Slot) retire() {
	s.ownWG.Wait()
	s.mu.Lock()
	already := s.unregistered
	s.unregistered = true
	s.mu.Unlock()
	if !already {
		s.ctx.forget(s)
	}
}

func (c *Context) driveTimer(s *Slot) {
	defer close(s.done)
	timer := time.NewTimer(s.interval)
	defer timer.Stop()
	for {
		select {
		case <-timer.C:
			s.fire(s.arg)
			if s.flags&Recurring == 0 {
				s.retire()
				return
			}
			s.deadline = time.Now().Add(s.interval)
			timer.Reset(s.interval)
		case <-s.stopCh:
			s.ownWG.Wait()
			return
		}
	}
}

func (c *Context) driveUser(s *Slot) {
	defer close(s.done)
	for {
		select {
		case <-s.triggerC:
			s.fire(s.arg)
			if s.flags&Recurring == 0 {
				s.retire()
				return
			}
		case <-s.stopCh:
			s.ownWG.Wait()
			return
		}
	}
}

func (c *Context) driveMessagePort(s *Slot) {
	defer close(s.done)
	for {
		select {
		case msg, ok := <-s.msgCh:
			if !ok {
				s.retire()
				return
			}
			s.fire(msg)
			if s.flags&Recurring == 0 {
				s.retire()
				return
			}
		case <-s.stopCh:
			s.ownWG.Wait()
			return
		}
	}
}

// driveReady polls conn for read/write readiness without consuming
// data, using the runtime-integrated netpoller exposed through
// syscall.RawConn — the same readiness primitive the standard library
// itself uses to implement net.Conn, rather than a hand-rolled
// poll(2)/epoll(2) loop.
func (c *Context) driveReady(s *Slot) {
	defer close(s.done)
	rc, err := s.conn.(syscallConner).SyscallConn()
	if err != nil {
		c.logger.Error("pevent: SyscallConn failed", zap.Error(err))
		return
	}
	for {
		select {
		case <-s.stopCh:
			s.ownWG.Wait()
			return
		default:
		}

		if s.kind == KindRead {
			_ = s.conn.SetReadDeadline(time.Now().Add(readyPollInterval))
		} else {
			_ = s.conn.SetWriteDeadline(time.Now().Add(readyPollInterval))
		}

		ready := false
		pollErr := rc.Read(func(fd uintptr) bool {
			if s.kind != KindRead {
				return true
			}
			var buf [1]byte
			n, _, errno := syscall.Recvfrom(int(fd), buf[:], syscall.MSG_PEEK)
			if n > 0 {
				ready = true
			}
			return errno != syscall.EAGAIN
		})
		if s.kind == KindWrite {
			pollErr = rc.Write(func(fd uintptr) bool {
				ready = true
				return true
			})
		}
		if pollErr != nil && pollErr != io.EOF {
			// A deadline timeout just means "not ready yet"; loop and
			// recheck stopCh.
			continue
		}
		if !ready {
			continue
		}

		s.fire(s.arg)
		if s.flags&Recurring == 0 {
			s.retire()
			return
		}
	}
}

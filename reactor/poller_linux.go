//go:build linux

package reactor

import (
	"errors"
	"sync"

	"golang.org/x/sys/unix"
)

// ErrPollerClosed is returned for operations on a closed poller.
var ErrPollerClosed = errors.New("reactor: poller closed")

// poller wraps an epoll instance. Registration happens from worker threads;
// the wait loop runs on the reactor goroutine.
type poller struct {
	mu     sync.Mutex
	epfd   int
	events [256]unix.EpollEvent
	closed bool
}

func (p *poller) init() error {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return err
	}
	p.epfd = epfd
	return nil
}

func (p *poller) close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	return unix.Close(p.epfd)
}

// add registers fd for the given interest. One-shot registrations are
// disabled by the kernel after the first event, matching the one-wakeup
// lifecycle of a parked process; the fd stays registered, and adding it
// again re-arms it through EPOLL_CTL_MOD.
func (p *poller) add(fd int, interest Interest, oneshot bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrPollerClosed
	}

	ev := &unix.EpollEvent{
		Events: interestToEpoll(interest, oneshot),
		Fd:     int32(fd),
	}
	err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, ev)
	if errors.Is(err, unix.EEXIST) {
		err = unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, fd, ev)
	}
	return err
}

// wait blocks until readiness or timeout, returning the ready fds.
func (p *poller) wait(timeoutMs int) (int, []int32, error) {
	n, err := unix.EpollWait(p.epfd, p.events[:], timeoutMs)
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return 0, nil, nil
		}
		return 0, nil, err
	}
	fds := make([]int32, n)
	for i := 0; i < n; i++ {
		fds[i] = p.events[i].Fd
	}
	return n, fds, nil
}

func interestToEpoll(interest Interest, oneshot bool) uint32 {
	var events uint32
	if interest&InterestRead != 0 {
		events |= unix.EPOLLIN
	}
	if interest&InterestWrite != 0 {
		events |= unix.EPOLLOUT
	}
	if oneshot {
		events |= unix.EPOLLONESHOT
	}
	return events
}

//go:build darwin

package poller

import (
	"golang.org/x/sys/unix"
)

// KqueuePoller is a kqueue-based I/O multiplexer
type KqueuePoller struct {
	kqfd   int
	events []unix.Kevent_t
}

// NewPoller creates a new Poller (macOS)
func NewPoller() (Poller, error) {
	kqfd, err := unix.Kqueue()
	if err != nil {
		return nil, err
	}
	unix.CloseOnExec(kqfd)

	return &KqueuePoller{
		kqfd:   kqfd,
		events: make([]unix.Kevent_t, 256),
	}, nil
}

func (p *KqueuePoller) change(fd, filter, flags int) error {
	var ev unix.Kevent_t
	unix.SetKevent(&ev, fd, filter, flags)
	_, err := unix.Kevent(p.kqfd, []unix.Kevent_t{ev}, nil, nil)
	return err
}

// Add adds a file descriptor to the watch list
func (p *KqueuePoller) Add(fd int) error {
	return p.change(fd, unix.EVFILT_READ, unix.EV_ADD|unix.EV_ENABLE)
}

// WatchWrite switches fd to writability events
func (p *KqueuePoller) WatchWrite(fd int) error {
	// ENOENT: the read filter was already gone
	p.change(fd, unix.EVFILT_READ, unix.EV_DELETE)
	return p.change(fd, unix.EVFILT_WRITE, unix.EV_ADD|unix.EV_ENABLE)
}

// Remove removes a file descriptor from the watch list
func (p *KqueuePoller) Remove(fd int) error {
	rerr := p.change(fd, unix.EVFILT_READ, unix.EV_DELETE)
	werr := p.change(fd, unix.EVFILT_WRITE, unix.EV_DELETE)
	if rerr != nil && werr != nil {
		return rerr
	}
	return nil
}

// Wait waits for I/O events
func (p *KqueuePoller) Wait(timeout int) ([]int, error) {
	var ts *unix.Timespec
	if timeout >= 0 {
		t := unix.NsecToTimespec(int64(timeout) * 1e6)
		ts = &t
	}

	n, err := unix.Kevent(p.kqfd, nil, p.events, ts)
	if err != nil && err != unix.EINTR {
		return nil, err
	}
	if n <= 0 {
		return nil, nil
	}

	fds := make([]int, 0, n)
	for i := 0; i < n; i++ {
		fds = append(fds, int(p.events[i].Ident))
	}
	return fds, nil
}

// Close closes the Poller
func (p *KqueuePoller) Close() error {
	return unix.Close(p.kqfd)
}

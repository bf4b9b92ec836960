package poller

// Poller is the I/O multiplexing interface. Descriptors are watched for
// readability, level-triggered, until WatchWrite switches them to
// writability.
type Poller interface {
	Add(fd int) error
	Remove(fd int) error
	// WatchWrite reports fd when it is writable instead of readable. The fd
	// is added if it is not watched yet.
	WatchWrite(fd int) error
	// Wait blocks for at most timeout milliseconds and returns the ready
	// descriptors. A negative timeout waits indefinitely.
	Wait(timeout int) ([]int, error)
	Close() error
}

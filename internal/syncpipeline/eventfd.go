package syncpipeline

import (
	"encoding/binary"

	"golang.org/x/sys/unix"
)

// EventFD wraps a Linux eventfd used by the synchronous-callback
// retirement variant: the sync goroutine signals it after moving syncs
// from pending to signaled, and the external retire_fences loop drains it
// on the main thread before processing the signaled list.
type EventFD struct {
	fd int
}

// NewEventFD creates a non-blocking, close-on-exec eventfd.
func NewEventFD() (*EventFD, error) {
	fd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		return nil, err
	}
	return &EventFD{fd: fd}, nil
}

// Signal increments the eventfd's counter by 1, waking anything polling
// or reading it.
func (e *EventFD) Signal() error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], 1)
	_, err := unix.Write(e.fd, buf[:])
	return err
}

// Drain reads and discards the eventfd's counter. EAGAIN (nothing
// pending, since the fd is non-blocking) is not an error.
func (e *EventFD) Drain() error {
	var buf [8]byte
	_, err := unix.Read(e.fd, buf[:])
	if err == unix.EAGAIN {
		return nil
	}
	return err
}

// FD returns the underlying file descriptor, for a caller that wants to
// multiplex it into its own poll/select loop.
func (e *EventFD) FD() int {
	return e.fd
}

// Close releases the eventfd.
func (e *EventFD) Close() error {
	return unix.Close(e.fd)
}

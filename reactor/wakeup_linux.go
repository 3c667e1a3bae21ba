//go:build linux

package reactor

import "golang.org/x/sys/unix"

// createWakeFd creates the eventfd used to interrupt a blocking poll when
// timers are staged or shutdown is requested.
func createWakeFd() (int, error) {
	return unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
}

// wakeWakeFd signals the wake eventfd. Write errors are ignored: they only
// occur during shutdown, when the loop is exiting anyway.
func wakeWakeFd(fd int) {
	var buf [8]byte
	buf[0] = 1 // eventfd counter increment, little-endian
	_, _ = unix.Write(fd, buf[:])
}

// drainWakeFd consumes pending wake signals.
func drainWakeFd(fd int) {
	var buf [8]byte
	for {
		if _, err := unix.Read(fd, buf[:]); err != nil {
			return
		}
	}
}

// closeWakeFd closes the wake eventfd.
func closeWakeFd(fd int) error {
	return unix.Close(fd)
}

//go:build linux

package main

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"syscall"

	"golang.org/x/sys/unix"
)

// readInputEventsEpoll reads from multiple input devices using epoll.
//
// One goroutine waits on every device; the kernel wakes it only when a device
// has data. Each device keeps its own motionAssembler because SYN_REPORT frames
// are per-device.
func readInputEventsEpoll(files []*os.File, sink motionSink, readErr chan<- error) {
	if len(files) == 0 {
		readErr <- fmt.Errorf("no input devices provided")
		return
	}

	epfd, err := unix.EpollCreate1(0)
	if err != nil {
		readErr <- fmt.Errorf("epoll_create1: %w", err)
		return
	}
	defer unix.Close(epfd)

	devices := make(map[int]*epollDevice, len(files))
	for _, f := range files {
		fd := int(f.Fd())
		devices[fd] = &epollDevice{f: f}

		event := unix.EpollEvent{
			Events: unix.EPOLLIN,
			Fd:     int32(fd),
		}
		if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, fd, &event); err != nil {
			readErr <- fmt.Errorf("epoll_ctl_add %s (fd=%d): %w", f.Name(), fd, err)
			return
		}
	}

	const maxEvents = 32
	epollEvents := make([]unix.EpollEvent, maxEvents)
	buf := make([]byte, binary.Size(inputEvent{}))
	reader := bytes.NewReader(buf)

	for {
		n, err := unix.EpollWait(epfd, epollEvents, -1)
		if err != nil {
			if err == syscall.EINTR {
				continue
			}
			readErr <- fmt.Errorf("epoll_wait: %w", err)
			return
		}

		for i := 0; i < n; i++ {
			fd := int(epollEvents[i].Fd)
			dev := devices[fd]

			// Any device error is fatal for the reader; unplugging a mouse ends capture
			// from it and the main loop decides what to do.
			if epollEvents[i].Events&(unix.EPOLLERR|unix.EPOLLHUP) != 0 {
				readErr <- fmt.Errorf("device error/hangup: %s (fd=%d)", dev.f.Name(), fd)
				return
			}

			if err := dev.readOne(buf, reader, sink); err != nil {
				readErr <- err
				return
			}
		}
	}
}

// readInputEventsSelect is the select(2) variant of readInputEventsEpoll.
func readInputEventsSelect(files []*os.File, sink motionSink, readErr chan<- error) {
	if len(files) == 0 {
		readErr <- fmt.Errorf("no input devices provided")
		return
	}

	var maxFd int
	devices := make(map[int]*epollDevice, len(files))
	for _, f := range files {
		fd := int(f.Fd())
		devices[fd] = &epollDevice{f: f}
		if fd > maxFd {
			maxFd = fd
		}
	}

	buf := make([]byte, binary.Size(inputEvent{}))
	reader := bytes.NewReader(buf)

	for {
		// select modifies the set, so it is rebuilt each iteration
		var readFds unix.FdSet
		for fd := range devices {
			readFds.Set(fd)
		}

		n, err := unix.Select(maxFd+1, &readFds, nil, nil, nil)
		if err != nil {
			if err == syscall.EINTR {
				continue
			}
			readErr <- fmt.Errorf("select: %w", err)
			return
		}
		if n == 0 {
			continue
		}

		for fd, dev := range devices {
			if !readFds.IsSet(fd) {
				continue
			}
			if err := dev.readOne(buf, reader, sink); err != nil {
				readErr <- err
				return
			}
		}
	}
}

// epollDevice is one watched device and its frame assembler.
type epollDevice struct {
	f   *os.File
	asm motionAssembler
}

// readOne reads a single input_event from the device and forwards a completed frame.
func (d *epollDevice) readOne(buf []byte, reader *bytes.Reader, sink motionSink) error {
	if _, err := d.f.Read(buf); err != nil {
		return fmt.Errorf("read from %s: %w", d.f.Name(), err)
	}

	reader.Reset(buf)
	var ev inputEvent
	if err := binary.Read(reader, binary.LittleEndian, &ev); err != nil {
		// Skip malformed events
		return nil
	}

	if at, dx, dy, ok := d.asm.feed(ev); ok {
		sink.pushAt(at, dx, dy)
	}
	return nil
}

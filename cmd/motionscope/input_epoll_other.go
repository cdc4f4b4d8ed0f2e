//go:build !linux

package main

import (
	"errors"
	"os"
)

var errMultiplexUnsupported = errors.New("epoll/select input readers require linux")

func readInputEventsEpoll(files []*os.File, sink motionSink, readErr chan<- error) {
	readErr <- errMultiplexUnsupported
}

func readInputEventsSelect(files []*os.File, sink motionSink, readErr chan<- error) {
	readErr <- errMultiplexUnsupported
}

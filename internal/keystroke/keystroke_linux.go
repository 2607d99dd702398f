//go:build linux

package keystroke

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"regexp"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"

	"keyseq/internal/sequence"
)

// eviocgrab is _IOW('E', 0x90, int).
const eviocgrab = 0x40044590

// pollTimeoutMs bounds how long a reader waits before rechecking its context.
const pollTimeoutMs = 100

// inputEventSize is sizeof(struct input_event) on this architecture.
var inputEventSize = int(unsafe.Sizeof(unix.Timeval{})) + 8

// DeviceSource reads key releases from Linux event devices.
type DeviceSource struct {
	BaseSource

	scope  *sequence.Scope
	opts   DeviceOptions
	log    *slog.Logger
	nameRe *regexp.Regexp

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	devices []Device
}

// NewDeviceSource creates a source over the devices selected by opts.
func NewDeviceSource(scope *sequence.Scope, opts DeviceOptions) (*DeviceSource, error) {
	s := &DeviceSource{scope: scope, opts: opts, log: opts.Logger}
	if s.log == nil {
		s.log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.NameFilter != "" {
		re, err := regexp.Compile(opts.NameFilter)
		if err != nil {
			return nil, fmt.Errorf("device name filter: %w", err)
		}
		s.nameRe = re
	}
	return s, nil
}

// Devices returns the devices opened by the last Start.
func (s *DeviceSource) Devices() []Device {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Device(nil), s.devices...)
}

func (s *DeviceSource) selectDevices() ([]Device, error) {
	if len(s.opts.Paths) > 0 {
		devices := make([]Device, 0, len(s.opts.Paths))
		for _, p := range s.opts.Paths {
			devices = append(devices, Device{Path: p, Name: p})
		}
		return devices, nil
	}

	f, err := os.Open("/proc/bus/input/devices")
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return filterDevices(parseInputDevices(f), s.nameRe), nil
}

// Available checks that at least one selected device can be opened.
func (s *DeviceSource) Available() (bool, string) {
	devices, err := s.selectDevices()
	if err != nil {
		return false, fmt.Sprintf("cannot find keyboard devices: %v", err)
	}
	if len(devices) == 0 {
		return false, "no keyboard devices found"
	}

	for _, dev := range devices {
		fd, err := unix.Open(dev.Path, unix.O_RDONLY|unix.O_CLOEXEC, 0)
		if err == nil {
			unix.Close(fd)
			return true, fmt.Sprintf("found keyboard device: %s (%s)", dev.Path, dev.Name)
		}
	}

	return false, "cannot read keyboard devices (need to be in 'input' group or run as root)"
}

// Start opens every selected device and reads each on its own goroutine.
func (s *DeviceSource) Start(ctx context.Context) error {
	if s.IsRunning() {
		return ErrAlreadyRunning
	}

	devices, err := s.selectDevices()
	if err != nil || len(devices) == 0 {
		return ErrNotAvailable
	}

	var opened []Device
	var fds []int
	for _, dev := range devices {
		fd, err := unix.Open(dev.Path, unix.O_RDONLY|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
		if err != nil {
			s.log.Warn("cannot open input device", "path", dev.Path, "error", err)
			continue
		}
		if s.opts.Grab {
			if err := unix.IoctlSetInt(fd, eviocgrab, 1); err != nil {
				s.log.Warn("cannot grab input device", "path", dev.Path, "error", err)
			}
		}
		opened = append(opened, dev)
		fds = append(fds, fd)
	}
	if len(opened) == 0 {
		return ErrNotAvailable
	}

	s.mu.Lock()
	s.devices = opened
	s.mu.Unlock()

	s.ctx, s.cancel = context.WithCancel(ctx)
	s.SetRunning(true)

	for i, dev := range opened {
		target := s.scope.Element("device", dev.Path)
		s.wg.Add(1)
		go s.readLoop(fds[i], dev, target)
	}
	s.log.Info("reading input devices", "count", len(opened))

	return nil
}

func (s *DeviceSource) readLoop(fd int, dev Device, target sequence.Element) {
	defer s.wg.Done()
	defer unix.Close(fd)

	var dec decoder
	buf := make([]byte, inputEventSize*64)
	fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
	tv := inputEventSize - 8

	for {
		if s.ctx.Err() != nil {
			return
		}

		n, err := unix.Poll(fds, pollTimeoutMs)
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			s.log.Error("poll input device", "path", dev.Path, "error", err)
			return
		}
		if n == 0 {
			continue
		}
		if fds[0].Revents&(unix.POLLERR|unix.POLLHUP|unix.POLLNVAL) != 0 {
			s.log.Warn("input device went away", "path", dev.Path)
			return
		}

		m, err := unix.Read(fd, buf)
		if err != nil {
			if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EINTR) {
				continue
			}
			s.log.Error("read input device", "path", dev.Path, "error", err)
			return
		}

		for off := 0; off+inputEventSize <= m; off += inputEventSize {
			rec := buf[off : off+inputEventSize]
			ev := rawEvent{
				Type:  binary.NativeEndian.Uint16(rec[tv : tv+2]),
				Code:  binary.NativeEndian.Uint16(rec[tv+2 : tv+4]),
				Value: int32(binary.NativeEndian.Uint32(rec[tv+4 : tv+8])),
			}
			if key, ok := dec.decode(ev); ok {
				s.Emit(sequence.KeyEvent{Target: target, Key: key, KeyCode: int(ev.Code)})
			}
		}
	}
}

// Stop cancels the readers and waits for them to close their devices.
func (s *DeviceSource) Stop() error {
	if !s.IsRunning() {
		return nil
	}

	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.SetRunning(false)

	return nil
}

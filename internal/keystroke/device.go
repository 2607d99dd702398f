package keystroke

import (
	"bufio"
	"io"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
)

// DeviceOptions configures a DeviceSource.
type DeviceOptions struct {
	// Paths lists event devices to read. When empty, keyboards are
	// discovered from /proc/bus/input/devices.
	Paths []string

	// NameFilter, if set, keeps only discovered devices whose name matches
	// this regular expression, e.g. "(?i)scanner|barcode".
	NameFilter string

	// Grab requests exclusive access so the device's keys do not also
	// reach other applications.
	Grab bool

	Logger *slog.Logger
}

// Device is one input device found during discovery.
type Device struct {
	Path    string
	Name    string
	Vendor  uint16
	Product uint16
}

// parseInputDevices reads the /proc/bus/input/devices format and returns
// the devices bound to the kbd handler.
func parseInputDevices(r io.Reader) []Device {
	var (
		devices []Device
		cur     Device
		isKbd   bool
	)

	flush := func() {
		if isKbd && cur.Path != "" {
			devices = append(devices, cur)
		}
		cur = Device{}
		isKbd = false
	}

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()

		switch {
		case line == "":
			flush()
		case strings.HasPrefix(line, "I: "):
			for _, field := range strings.Fields(line[3:]) {
				k, v, ok := strings.Cut(field, "=")
				if !ok {
					continue
				}
				n, err := strconv.ParseUint(v, 16, 16)
				if err != nil {
					continue
				}
				switch k {
				case "Vendor":
					cur.Vendor = uint16(n)
				case "Product":
					cur.Product = uint16(n)
				}
			}
		case strings.HasPrefix(line, "N: Name="):
			cur.Name = strings.Trim(strings.TrimPrefix(line, "N: Name="), `"`)
		case strings.HasPrefix(line, "H: Handlers="):
			for _, part := range strings.Fields(strings.TrimPrefix(line, "H: Handlers=")) {
				if part == "kbd" {
					isKbd = true
				}
				if strings.HasPrefix(part, "event") {
					cur.Path = "/dev/input/" + part
				}
			}
		}
	}
	flush()

	return devices
}

// filterDevices keeps devices whose name matches re. A nil re keeps all.
func filterDevices(devices []Device, re *regexp.Regexp) []Device {
	if re == nil {
		return devices
	}
	var out []Device
	for _, d := range devices {
		if re.MatchString(d.Name) {
			out = append(out, d)
		}
	}
	return out
}

// Input event constants from linux/input.h.
const (
	evKey = 0x01

	keyRelease = 0
	keyPress   = 1
)

// rawEvent is the platform-independent part of a struct input_event.
type rawEvent struct {
	Type  uint16
	Code  uint16
	Value int32
}

// decoder turns raw key transitions into key names, one per release.
type decoder struct {
	mods Modifiers
}

func (d *decoder) decode(ev rawEvent) (string, bool) {
	if ev.Type != evKey {
		return "", false
	}
	// Resolve before applying the transition so a shifted letter released
	// while shift is still down keeps its case.
	name := KeyName(ev.Code, d.mods)
	d.mods.Update(ev.Code, ev.Value)
	if ev.Value != keyRelease {
		return "", false
	}
	return name, true
}

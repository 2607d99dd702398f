package keystroke

import (
	"regexp"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"keyseq/internal/sequence"
)

// =============================================================================
// Tests for BaseSource
// =============================================================================

func TestBaseSourceEmitOrder(t *testing.T) {
	var b BaseSource
	var got []string

	b.Subscribe(func(ev sequence.KeyEvent) { got = append(got, "first:"+ev.Key) })
	b.Subscribe(func(ev sequence.KeyEvent) { got = append(got, "second:"+ev.Key) })

	b.Emit(sequence.KeyEvent{Key: "a"})

	assert.Equal(t, []string{"first:a", "second:a"}, got)
	assert.Equal(t, uint64(1), b.Emitted())
}

func TestBaseSourceUnsubscribe(t *testing.T) {
	var b BaseSource
	count := 0

	unsubscribe := b.Subscribe(func(sequence.KeyEvent) { count++ })
	b.Emit(sequence.KeyEvent{Key: "a"})
	unsubscribe()
	b.Emit(sequence.KeyEvent{Key: "b"})

	assert.Equal(t, 1, count)
	assert.Equal(t, uint64(2), b.Emitted())
}

func TestBaseSourceSubscribeDuringEmit(t *testing.T) {
	var b BaseSource
	late := 0

	b.Subscribe(func(sequence.KeyEvent) {
		b.Subscribe(func(sequence.KeyEvent) { late++ })
	})

	b.Emit(sequence.KeyEvent{Key: "a"})
	assert.Equal(t, 0, late, "subscribers added during emit wait for the next event")

	b.Emit(sequence.KeyEvent{Key: "b"})
	assert.Equal(t, 1, late)
}

func TestBaseSourceConcurrentEmit(t *testing.T) {
	var b BaseSource
	var mu sync.Mutex
	count := 0
	b.Subscribe(func(sequence.KeyEvent) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				b.Emit(sequence.KeyEvent{Key: "x"})
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1000, count)
	assert.Equal(t, uint64(1000), b.Emitted())
}

func TestBaseSourceRunning(t *testing.T) {
	var b BaseSource
	assert.False(t, b.IsRunning())
	b.SetRunning(true)
	assert.True(t, b.IsRunning())
}

// =============================================================================
// Tests for the key map
// =============================================================================

func TestKeyName(t *testing.T) {
	tests := []struct {
		name string
		code uint16
		mods Modifiers
		want string
	}{
		{"letter", 30, Modifiers{}, "a"},
		{"shifted letter", 30, Modifiers{LeftShift: true}, "A"},
		{"caps letter", 30, Modifiers{CapsLock: true}, "A"},
		{"caps and shift", 30, Modifiers{CapsLock: true, RightShift: true}, "a"},
		{"digit", 2, Modifiers{}, "1"},
		{"shifted digit", 2, Modifiers{LeftShift: true}, "!"},
		{"caps digit", 2, Modifiers{CapsLock: true}, "1"},
		{"keypad digit", 79, Modifiers{}, "1"},
		{"space", KeySpace, Modifiers{}, " "},
		{"enter", KeyEnter, Modifiers{}, "Enter"},
		{"keypad enter", KeyKPEnter, Modifiers{}, "Enter"},
		{"shift", KeyLeftShift, Modifiers{}, "Shift"},
		{"function key", 59, Modifiers{}, "F1"},
		{"unknown", 500, Modifiers{}, "Unidentified"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KeyName(tt.code, tt.mods))
		})
	}
}

func TestModifiersUpdate(t *testing.T) {
	var m Modifiers

	m.Update(KeyLeftShift, keyPress)
	assert.True(t, m.Shift())
	m.Update(KeyLeftShift, 2)
	assert.True(t, m.Shift(), "auto-repeat keeps shift held")
	m.Update(KeyLeftShift, keyRelease)
	assert.False(t, m.Shift())

	m.Update(KeyCapsLock, keyPress)
	m.Update(KeyCapsLock, keyRelease)
	assert.True(t, m.CapsLock)
	m.Update(KeyCapsLock, keyPress)
	assert.False(t, m.CapsLock)
}

// =============================================================================
// Tests for the device decoder
// =============================================================================

func tap(d *decoder, code uint16) (string, bool) {
	d.decode(rawEvent{Type: evKey, Code: code, Value: keyPress})
	return d.decode(rawEvent{Type: evKey, Code: code, Value: keyRelease})
}

func TestDecoderEmitsOnRelease(t *testing.T) {
	var d decoder

	_, ok := d.decode(rawEvent{Type: evKey, Code: 30, Value: keyPress})
	assert.False(t, ok)
	_, ok = d.decode(rawEvent{Type: evKey, Code: 30, Value: 2})
	assert.False(t, ok)

	key, ok := d.decode(rawEvent{Type: evKey, Code: 30, Value: keyRelease})
	require.True(t, ok)
	assert.Equal(t, "a", key)
}

func TestDecoderShift(t *testing.T) {
	var d decoder

	d.decode(rawEvent{Type: evKey, Code: KeyLeftShift, Value: keyPress})
	key, ok := tap(&d, 30)
	require.True(t, ok)
	assert.Equal(t, "A", key)

	key, ok = d.decode(rawEvent{Type: evKey, Code: KeyLeftShift, Value: keyRelease})
	require.True(t, ok)
	assert.Equal(t, "Shift", key)

	key, _ = tap(&d, 30)
	assert.Equal(t, "a", key)
}

func TestDecoderCapsLock(t *testing.T) {
	var d decoder

	key, ok := tap(&d, KeyCapsLock)
	require.True(t, ok)
	assert.Equal(t, "CapsLock", key)

	key, _ = tap(&d, 31)
	assert.Equal(t, "S", key)
	key, _ = tap(&d, 3)
	assert.Equal(t, "2", key)
}

func TestDecoderIgnoresOtherEventTypes(t *testing.T) {
	var d decoder
	// EV_SYN and EV_MSC frames surround every key transition.
	_, ok := d.decode(rawEvent{Type: 0x00, Code: 0, Value: 0})
	assert.False(t, ok)
	_, ok = d.decode(rawEvent{Type: 0x04, Code: 4, Value: 30})
	assert.False(t, ok)
}

// =============================================================================
// Tests for device discovery
// =============================================================================

const procInputDevices = `I: Bus=0003 Vendor=046d Product=c31c Version=0110
N: Name="Logitech USB Keyboard"
P: Phys=usb-0000:00:14.0-1/input0
H: Handlers=sysrq kbd leds event3
B: EV=120013

I: Bus=0011 Vendor=0001 Product=0001 Version=ab41
N: Name="AT Translated Set 2 keyboard"
H: Handlers=sysrq kbd event0 leds

I: Bus=0003 Vendor=046d Product=c077 Version=0111
N: Name="Logitech USB Optical Mouse"
H: Handlers=mouse0 event4

I: Bus=0003 Vendor=05e0 Product=1200 Version=0110
N: Name="Symbol Bar Code Scanner"
H: Handlers=sysrq kbd event7`

func TestParseInputDevices(t *testing.T) {
	devices := parseInputDevices(strings.NewReader(procInputDevices))

	require.Len(t, devices, 3)
	assert.Equal(t, Device{
		Path:    "/dev/input/event3",
		Name:    "Logitech USB Keyboard",
		Vendor:  0x046d,
		Product: 0xc31c,
	}, devices[0])
	assert.Equal(t, "/dev/input/event0", devices[1].Path)
	assert.Equal(t, "Symbol Bar Code Scanner", devices[2].Name)
	assert.Equal(t, uint16(0x05e0), devices[2].Vendor)
}

func TestParseInputDevicesEmpty(t *testing.T) {
	assert.Empty(t, parseInputDevices(strings.NewReader("")))
}

func TestFilterDevices(t *testing.T) {
	devices := parseInputDevices(strings.NewReader(procInputDevices))

	assert.Len(t, filterDevices(devices, nil), 3)

	scanners := filterDevices(devices, regexp.MustCompile(`(?i)scanner|barcode`))
	require.Len(t, scanners, 1)
	assert.Equal(t, "/dev/input/event7", scanners[0].Path)

	assert.Empty(t, filterDevices(devices, regexp.MustCompile(`^nothing$`)))
}

// =============================================================================
// Tests for the terminal decoder
// =============================================================================

func feedAll(s string) []string {
	var d termDecoder
	var keys []string
	for _, r := range s {
		keys = append(keys, d.feed(r)...)
	}
	return keys
}

func TestTermDecoder(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{"printable", "aZ9", []string{"a", "Z", "9"}},
		{"unicode", "é", []string{"é"}},
		{"enter", "\r", []string{"Enter"}},
		{"newline", "\n", []string{"Enter"}},
		{"tab", "\t", []string{"Tab"}},
		{"backspace", "\x7f", []string{"Backspace"}},
		{"control", "\x01", []string{"Unidentified"}},
		{"arrow", "\x1b[A", []string{"ArrowUp"}},
		{"ss3 arrow", "\x1bOD", []string{"ArrowLeft"}},
		{"parameterised csi", "\x1b[1;5C", []string{"ArrowRight"}},
		{"function key", "\x1b[15~", []string{"Unidentified"}},
		{"lone escape", "\x1bx", []string{"Escape", "x"}},
		{"arrow between letters", "a\x1b[Bb", []string{"a", "ArrowDown", "b"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, feedAll(tt.input))
		})
	}
}

package keystroke

// Linux input event key codes (linux/input-event-codes.h) used by the
// device source.
const (
	KeyEsc        uint16 = 1
	KeyBackspace  uint16 = 14
	KeyTab        uint16 = 15
	KeyEnter      uint16 = 28
	KeyLeftCtrl   uint16 = 29
	KeyLeftShift  uint16 = 42
	KeyRightShift uint16 = 54
	KeyLeftAlt    uint16 = 56
	KeySpace      uint16 = 57
	KeyCapsLock   uint16 = 58
	KeyNumLock    uint16 = 69
	KeyKPEnter    uint16 = 96
	KeyRightCtrl  uint16 = 97
	KeyRightAlt   uint16 = 100
	KeyLeftMeta   uint16 = 125
	KeyRightMeta  uint16 = 126
)

// keyPair is the unshifted and shifted character for a US layout key.
type keyPair struct {
	plain, shifted rune
}

// usLayout maps printable key codes to characters.
var usLayout = map[uint16]keyPair{
	2: {'1', '!'}, 3: {'2', '@'}, 4: {'3', '#'}, 5: {'4', '$'}, 6: {'5', '%'},
	7: {'6', '^'}, 8: {'7', '&'}, 9: {'8', '*'}, 10: {'9', '('}, 11: {'0', ')'},
	12: {'-', '_'}, 13: {'=', '+'},

	16: {'q', 'Q'}, 17: {'w', 'W'}, 18: {'e', 'E'}, 19: {'r', 'R'}, 20: {'t', 'T'},
	21: {'y', 'Y'}, 22: {'u', 'U'}, 23: {'i', 'I'}, 24: {'o', 'O'}, 25: {'p', 'P'},
	26: {'[', '{'}, 27: {']', '}'},

	30: {'a', 'A'}, 31: {'s', 'S'}, 32: {'d', 'D'}, 33: {'f', 'F'}, 34: {'g', 'G'},
	35: {'h', 'H'}, 36: {'j', 'J'}, 37: {'k', 'K'}, 38: {'l', 'L'},
	39: {';', ':'}, 40: {'\'', '"'}, 41: {'`', '~'}, 43: {'\\', '|'},

	44: {'z', 'Z'}, 45: {'x', 'X'}, 46: {'c', 'C'}, 47: {'v', 'V'}, 48: {'b', 'B'},
	49: {'n', 'N'}, 50: {'m', 'M'}, 51: {',', '<'}, 52: {'.', '>'}, 53: {'/', '?'},

	KeySpace: {' ', ' '},

	// Keypad, as produced with NumLock on.
	55: {'*', '*'}, 71: {'7', '7'}, 72: {'8', '8'}, 73: {'9', '9'}, 74: {'-', '-'},
	75: {'4', '4'}, 76: {'5', '5'}, 77: {'6', '6'}, 78: {'+', '+'},
	79: {'1', '1'}, 80: {'2', '2'}, 81: {'3', '3'}, 82: {'0', '0'}, 83: {'.', '.'},
	98: {'/', '/'},
}

// namedKeys maps non-printing key codes to key names.
var namedKeys = map[uint16]string{
	KeyEsc:        "Escape",
	KeyBackspace:  "Backspace",
	KeyTab:        "Tab",
	KeyEnter:      "Enter",
	KeyKPEnter:    "Enter",
	KeyLeftCtrl:   "Control",
	KeyRightCtrl:  "Control",
	KeyLeftShift:  "Shift",
	KeyRightShift: "Shift",
	KeyLeftAlt:    "Alt",
	KeyRightAlt:   "AltGraph",
	KeyCapsLock:   "CapsLock",
	KeyNumLock:    "NumLock",
	KeyLeftMeta:   "Meta",
	KeyRightMeta:  "Meta",
	59:            "F1",
	60:            "F2",
	61:            "F3",
	62:            "F4",
	63:            "F5",
	64:            "F6",
	65:            "F7",
	66:            "F8",
	67:            "F9",
	68:            "F10",
	87:            "F11",
	88:            "F12",
	102:           "Home",
	103:           "ArrowUp",
	104:           "PageUp",
	105:           "ArrowLeft",
	106:           "ArrowRight",
	107:           "End",
	108:           "ArrowDown",
	109:           "PageDown",
	110:           "Insert",
	111:           "Delete",
}

// Modifiers is the shift state tracked by the device reader.
type Modifiers struct {
	LeftShift  bool
	RightShift bool
	CapsLock   bool
}

// Shift reports whether either shift key is held.
func (m Modifiers) Shift() bool {
	return m.LeftShift || m.RightShift
}

// Update applies a key transition to the modifier state. value is the
// input_event value: 1 press, 0 release, 2 auto-repeat.
func (m *Modifiers) Update(code uint16, value int32) {
	switch code {
	case KeyLeftShift:
		m.LeftShift = value != 0
	case KeyRightShift:
		m.RightShift = value != 0
	case KeyCapsLock:
		if value == keyPress {
			m.CapsLock = !m.CapsLock
		}
	}
}

// KeyName resolves a key code to a single character or a key name, the
// same shape as sequence.KeyEvent.Key. Unknown codes yield "Unidentified".
func KeyName(code uint16, mods Modifiers) string {
	if p, ok := usLayout[code]; ok {
		upper := mods.Shift()
		if isLetter(p.plain) && mods.CapsLock {
			upper = !upper
		}
		if upper {
			return string(p.shifted)
		}
		return string(p.plain)
	}
	if name, ok := namedKeys[code]; ok {
		return name
	}
	return "Unidentified"
}

func isLetter(r rune) bool {
	return r >= 'a' && r <= 'z'
}

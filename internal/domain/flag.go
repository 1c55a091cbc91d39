package domain

// Flag is a persisted boolean with a canonical one-byte encoding.
//
// Decoding accepts the legacy raw representation as well: an absent value or
// a single zero byte is false, any other non-empty content is true.
type Flag bool

var (
	flagFalse = []byte{0x00}
	flagTrue  = []byte{0x01}
)

// Bytes returns the canonical encoding.
func (f Flag) Bytes() []byte {
	if f {
		return append([]byte(nil), flagTrue...)
	}
	return append([]byte(nil), flagFalse...)
}

// DecodeFlag decodes a stored value. A nil slice means the key was absent.
func DecodeFlag(b []byte) Flag {
	if len(b) == 0 {
		return false
	}
	if len(b) == 1 && b[0] == 0x00 {
		return false
	}
	return true
}

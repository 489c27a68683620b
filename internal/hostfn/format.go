package hostfn

import "strconv"

// FormatHex renders a value the way trace logs want it: "0" for zero,
// "0x..." otherwise.
func FormatHex(v uint32) string {
	if v == 0 {
		return "0"
	}
	return "0x" + strconv.FormatUint(uint64(v), 16)
}

// FormatPtr renders a single name=value pair.
func FormatPtr(name string, v uint32) string {
	return name + "=" + FormatHex(v)
}

// FormatPtrPair renders two name=value pairs separated by a space.
func FormatPtrPair(name1 string, v1 uint32, name2 string, v2 uint32) string {
	return FormatPtr(name1, v1) + " " + FormatPtr(name2, v2)
}

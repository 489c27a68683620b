package memory

import "encoding/binary"

// ReadU8 reads a single byte.
func (s *Space) ReadU8(addr uint32) (uint8, error) {
	data, err := s.Read(addr, 1)
	if err != nil {
		return 0, err
	}
	return data[0], nil
}

// WriteU8 writes a single byte.
func (s *Space) WriteU8(addr uint32, v uint8) error {
	return s.Write(addr, []byte{v})
}

// ReadU16 reads a little-endian uint16.
func (s *Space) ReadU16(addr uint32) (uint16, error) {
	data, err := s.Read(addr, 2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(data), nil
}

// WriteU16 writes a little-endian uint16.
func (s *Space) WriteU16(addr uint32, v uint16) error {
	data := make([]byte, 2)
	binary.LittleEndian.PutUint16(data, v)
	return s.Write(addr, data)
}

// ReadU32 reads a little-endian uint32.
func (s *Space) ReadU32(addr uint32) (uint32, error) {
	data, err := s.Read(addr, 4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(data), nil
}

// WriteU32 writes a little-endian uint32.
func (s *Space) WriteU32(addr uint32, v uint32) error {
	data := make([]byte, 4)
	binary.LittleEndian.PutUint32(data, v)
	return s.Write(addr, data)
}

// ReadString reads a NUL-terminated string, scanning at most maxLen bytes.
func (s *Space) ReadString(addr uint32, maxLen int) (string, error) {
	if maxLen <= 0 {
		maxLen = 4096
	}
	data, err := s.Read(addr, uint32(maxLen))
	if err != nil {
		return "", err
	}
	for i, b := range data {
		if b == 0 {
			return string(data[:i]), nil
		}
	}
	return string(data), nil
}

// WriteString writes s followed by a NUL terminator.
func (s *Space) WriteString(addr uint32, str string) error {
	data := append([]byte(str), 0)
	return s.Write(addr, data)
}

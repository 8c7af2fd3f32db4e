package memory

import (
	"encoding/binary"
	"fmt"
)

// words provides the fixed-width little-endian accessors of
// wasmasync.Memory on top of span, which returns a writable view of
// length bytes at offset.
type words struct {
	span func(offset, length uint32) ([]byte, error)
}

func outOfBounds(offset uint32, length uint64) error {
	return fmt.Errorf("memory access out of bounds: offset=%d, length=%d", offset, length)
}

func (w words) ReadU8(offset uint32) (uint8, error) {
	b, err := w.span(offset, 1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (w words) ReadU16(offset uint32) (uint16, error) {
	b, err := w.span(offset, 2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

func (w words) ReadU32(offset uint32) (uint32, error) {
	b, err := w.span(offset, 4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (w words) ReadU64(offset uint32) (uint64, error) {
	b, err := w.span(offset, 8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

func (w words) WriteU8(offset uint32, value uint8) error {
	b, err := w.span(offset, 1)
	if err != nil {
		return err
	}
	b[0] = value
	return nil
}

func (w words) WriteU16(offset uint32, value uint16) error {
	b, err := w.span(offset, 2)
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint16(b, value)
	return nil
}

func (w words) WriteU32(offset uint32, value uint32) error {
	b, err := w.span(offset, 4)
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(b, value)
	return nil
}

func (w words) WriteU64(offset uint32, value uint64) error {
	b, err := w.span(offset, 8)
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint64(b, value)
	return nil
}

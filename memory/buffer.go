package memory

// Buffer is a growable byte-slice memory. It is used where no guest memory
// exists, such as host-side staging of payloads.
type Buffer struct {
	words
	data []byte
}

// NewBuffer creates a zeroed buffer of size bytes.
func NewBuffer(size uint32) *Buffer {
	b := &Buffer{data: make([]byte, size)}
	b.span = b.Read
	return b
}

// Size returns the current size in bytes.
func (b *Buffer) Size() uint32 {
	return uint32(len(b.data))
}

// Grow extends the buffer by delta bytes and returns the previous size.
func (b *Buffer) Grow(delta uint32) uint32 {
	prev := uint32(len(b.data))
	b.data = append(b.data, make([]byte, delta)...)
	return prev
}

// Bytes exposes the underlying storage.
func (b *Buffer) Bytes() []byte {
	return b.data
}

// Read returns a slice aliasing the buffer.
func (b *Buffer) Read(offset uint32, length uint32) ([]byte, error) {
	if uint64(offset)+uint64(length) > uint64(len(b.data)) {
		return nil, outOfBounds(offset, uint64(length))
	}
	return b.data[offset : offset+length : offset+length], nil
}

// Write copies data into the buffer.
func (b *Buffer) Write(offset uint32, data []byte) error {
	dst, err := b.Read(offset, uint32(len(data)))
	if err != nil {
		return err
	}
	copy(dst, data)
	return nil
}

package property_block

// BufferWrite describes a single GPU buffer write operation targeting a specific binding
// on a PropertyBlock at a given byte offset.
type BufferWrite struct {
	Block   PropertyBlock
	Binding int
	Offset  uint64
	Data    []byte
}

package frame

// Batch is an ordered run of tensors handed to inference as one unit. A
// batch owns copies of the pixel data, so the frames it was built from can
// be released as soon as they have been appended.
type Batch struct {
	Tensors []*Tensor
}

// Append copies t into the batch.
func (b *Batch) Append(t *Tensor) {
	c := &Tensor{
		Data:     make([]float32, len(t.Data)),
		Height:   t.Height,
		Width:    t.Width,
		Channels: t.Channels,
	}
	copy(c.Data, t.Data)
	b.Tensors = append(b.Tensors, c)
}

// Len returns the number of tensors in the batch.
func (b *Batch) Len() int { return len(b.Tensors) }

// Reset empties the batch, keeping its capacity.
func (b *Batch) Reset() {
	clear(b.Tensors)
	b.Tensors = b.Tensors[:0]
}

package store

type batchOp struct {
	key    []byte
	value  []byte
	delete bool
}

// Batch collects writes that ApplyBatch commits together.
type Batch struct {
	ops []batchOp
}

func NewBatch() *Batch {
	return &Batch{}
}

func (b *Batch) Put(key, value []byte) {
	b.ops = append(b.ops, batchOp{key: key, value: value})
}

func (b *Batch) Delete(key []byte) {
	b.ops = append(b.ops, batchOp{key: key, delete: true})
}

func (b *Batch) Len() int {
	return len(b.ops)
}

func (b *Batch) Reset() {
	b.ops = b.ops[:0]
}

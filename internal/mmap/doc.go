// Package mmap maps checkpoint files read-only into memory.
//
//	m, err := mmap.Open("ckpt/tensors.bin")
//	if err != nil { ... }
//	defer m.Close()
//	_ = m.Advise(mmap.AccessSequential)
//	data := m.Bytes()
//
// Unix uses mmap(2) and madvise(2); Windows uses MapViewOfFile and ignores
// access hints. Close is idempotent. Callers must not touch Bytes after Close.
package mmap

package vm

import "unsafe"

// rawPointer reinterprets the backing array of a page-sized byte slice as a
// *pageTable, the Go analogue of the teacher's mem.Pg2bytes/Bytepg2pg
// unsafe-pointer casts over a fixed-size page array.
func rawPointer(b []byte) unsafe.Pointer {
	if len(b) < int(unsafe.Sizeof(pageTable{})) {
		panic("vm: page slice too small for a page table")
	}
	return unsafe.Pointer(&b[0])
}

// Package stdalloc is a general-purpose, single-process memory allocator.
//
// # Overview
//
// An Allocator combines two kinds of backing block obtained from an OS heap
// shim (package osheap) into one logical heap:
//
//   - small blocks (package small): sixteen slot sizes from 16 to 256 bytes,
//     bitmap occupancy, no per-allocation header
//   - general blocks (package general): headered allocations of any size,
//     address-ordered free list, best-fit search through a size hash,
//     coalescing and in-place resize
//
// Requests of at most SmallMax bytes try the small chain first. Everything else,
// and everything in StrictDebug mode, goes to the general chain. When every
// block is exhausted a growable allocator maps one more block and retries once.
//
// # Pointers
//
// Addresses are virtual: every block gets a base aligned to 64 KiB with at least
// one unmapped granule between blocks, so Ptr(0) is the null pointer and
// pointers from different blocks never collide. Use Bytes to reach the memory.
//
// # Usage Example
//
//	a, err := stdalloc.New(stdalloc.DefaultConfig())
//	if err != nil {
//	    return err
//	}
//
//	p, err := a.Alloc(128, stdalloc.MinAlign)
//	if err != nil {
//	    return err
//	}
//	b, _ := a.Bytes(p, 128)
//	copy(b, payload)
//
//	p, err = a.ReAlloc(p, 4096)
//	...
//	_ = a.Free(p)
//
// # Errors
//
// Failures are returned as errors wrapping ErrNoSpace, ErrBadPtr, ErrBadAlign,
// ErrNotEmpty or ErrConfig; test them with errors.Is. Running out of space is an
// ordinary error, never a panic. In Debug mode every mutation is followed by a
// full VerifyBlocks and a violation panics.
//
// # Diagnostics
//
// With TrackAllocations set, each allocation records its call site and a
// sequence number in a side table (package track). PrintAllocations logs a
// range of them, Clear reports leaks through the logger, and WriteReport emits
// a JSON map of every block.
package stdalloc

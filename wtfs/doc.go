// Package wtfs implements the on-disk format and allocation engine of wtfs
// ("what the fxck filesystem"), a block-oriented, inode-based filesystem
// originally written as a Linux kernel module. This package is the
// filesystem core: the binary block layout, the bitmap-backed block/inode
// allocator, the circular doubly-linked block chains used for every
// variable-length on-disk collection, the inode and directory engines, and
// the glue that exposes all of it to a host's file-operation callbacks.
//
// A disk image is a flat sequence of fixed-size blocks (layout.go). Every
// variable-length structure — the inode table, the two bitmaps, a
// directory's entries, a file's data — is a chain of blocks linked via a
// trailer shared by every chained block kind (chain.go). Blocks and inode
// numbers are handed out by a bitmap-backed allocator (bitmap.go, alloc.go)
// that keeps running counters in the super block (super.go) up to date.
package wtfs

//go:build 386 || arm || ppc || mips || mipsle || wasm

package mmap

// MaxSize is the largest file Open maps.
const MaxSize = 0x7FFFFFFF // 2GB

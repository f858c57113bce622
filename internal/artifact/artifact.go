// Package artifact defines the immutable build outputs passed between the
// compilers, the linker and the publisher, together with their digests and
// the atomic publish step that writes a build's outputs to disk.
package artifact

import (
	"bytes"
	"encoding/hex"
	"fmt"

	"github.com/zeebo/blake3"
)

// Kind identifies what an artifact contains. The value doubles as the
// output file extension.
type Kind string

const (
	// KindContract is the contract bytecode module.
	KindContract Kind = "wasm"
	// KindABI is the ABI description emitted with the abi feature.
	KindABI Kind = "abi"
	// KindZk is the compiled zero-knowledge computation.
	KindZk Kind = "zkbc"
	// KindLinked is the combined contract + ZK package.
	KindLinked Kind = "zkwa"
)

// OutputNames lists every file name a build of crate may publish.
func OutputNames(crate string) []string {
	kinds := []Kind{KindContract, KindABI, KindZk, KindLinked}
	names := make([]string, len(kinds))
	for i, k := range kinds {
		names[i] = crate + "." + string(k)
	}
	return names
}

// wasmMagic opens every WebAssembly binary module.
var wasmMagic = []byte{0x00, 'a', 's', 'm'}

// Digest is a 32-byte BLAKE3 hash.
type Digest [32]byte

// String returns the lowercase hex encoding.
func (d Digest) String() string {
	return hex.EncodeToString(d[:])
}

// Sum computes the BLAKE3 digest of data.
func Sum(data []byte) Digest {
	return Digest(blake3.Sum256(data))
}

// ParseDigest decodes a 64-character hex digest.
func ParseDigest(s string) (Digest, error) {
	var d Digest
	raw, err := hex.DecodeString(s)
	if err != nil {
		return d, fmt.Errorf("decoding digest: %w", err)
	}
	if len(raw) != len(d) {
		return d, fmt.Errorf("digest has %d bytes, want %d", len(raw), len(d))
	}
	copy(d[:], raw)
	return d, nil
}

// Artifact is one compiled output. Data is never mutated after New.
type Artifact struct {
	Kind   Kind
	Name   string // crate name, without extension
	Data   []byte
	Digest Digest
	// ABI is set on contract artifacts built with the abi feature.
	ABI []byte
}

// New wraps data as an artifact and computes its digest.
func New(kind Kind, name string, data []byte) *Artifact {
	return &Artifact{
		Kind:   kind,
		Name:   name,
		Data:   data,
		Digest: Sum(data),
	}
}

// FileName returns "<name>.<kind>".
func (a *Artifact) FileName() string {
	return a.Name + "." + string(a.Kind)
}

// IsWasm reports whether data starts with the WebAssembly module magic.
func IsWasm(data []byte) bool {
	return bytes.HasPrefix(data, wasmMagic)
}

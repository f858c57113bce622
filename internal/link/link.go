// Package link combines a contract module and its compiled ZK computation
// into one deployable package, and reads such packages back.
//
// Layout:
//
//	"PBCL" | u16 format version | u32 header length | CBOR header | payloads
//
// Integers are big-endian. The header is deterministic CBOR listing each
// section's offset (relative to the first payload byte), stored length,
// uncompressed size, compression and BLAKE3 digest of the uncompressed
// bytes, so a loader can pull out any one section on its own.
package link

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/papapumpkin/pbcbuild/internal/artifact"
)

// Magic opens every linked package.
const Magic = "PBCL"

// FormatVersion is the layout version written by Link.
const FormatVersion uint16 = 1

// Section names.
const (
	SectionContract = "contract"
	SectionZk       = "zk"
	SectionABI      = "abi"
)

const (
	prefixLen    = len(Magic) + 2 + 4
	maxHeaderLen = 1 << 20
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("link: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{MaxArrayElements: 1024}.DecMode()
	if err != nil {
		panic("link: CBOR decoder initialization failed: " + err.Error())
	}
}

// Header describes the sections of a linked package.
type Header struct {
	Package  string        `cbor:"package"`
	Sections []SectionInfo `cbor:"sections"`
}

// SectionInfo locates one section inside the payload area.
type SectionInfo struct {
	Name        string        `cbor:"name"`
	Kind        artifact.Kind `cbor:"kind"`
	Offset      uint64        `cbor:"offset"`
	Length      uint64        `cbor:"length"`
	Size        uint64        `cbor:"size"`
	Compression Compression   `cbor:"compression"`
	Digest      []byte        `cbor:"digest"`
}

// Section is one extracted, verified section.
type Section struct {
	Name   string
	Kind   artifact.Kind
	Data   []byte
	Digest artifact.Digest
}

// Options controls how Link encodes sections.
type Options struct {
	Compression Compression
}

// Link combines contract and zk. With no ZK artifact the contract is
// returned as is. A ZK artifact without a contract is an internal fault.
// Identical inputs always produce identical bytes.
func Link(contract, zk *artifact.Artifact, opts Options) (*artifact.Artifact, error) {
	if zk == nil {
		if contract == nil {
			return nil, linkErr("", "no contract artifact")
		}
		return contract, nil
	}
	if contract == nil {
		return nil, linkErr(zk.Name, "zk artifact %s has no contract to link against", zk.FileName())
	}
	if !artifact.IsWasm(contract.Data) {
		return nil, linkErr(contract.Name, "%s is not a wasm module", contract.FileName())
	}
	if len(zk.Data) == 0 {
		return nil, linkErr(contract.Name, "%s is empty", zk.FileName())
	}

	type input struct {
		name string
		kind artifact.Kind
		data []byte
	}
	inputs := []input{
		{SectionContract, artifact.KindContract, contract.Data},
		{SectionZk, artifact.KindZk, zk.Data},
	}
	if contract.ABI != nil {
		inputs = append(inputs, input{SectionABI, artifact.KindABI, contract.ABI})
	}

	h := Header{Package: contract.Name}
	var payload bytes.Buffer
	for _, in := range inputs {
		stored, comp, err := compress(in.data, opts.Compression)
		if err != nil {
			return nil, &LinkError{Package: contract.Name, Err: err}
		}
		digest := artifact.Sum(in.data)
		h.Sections = append(h.Sections, SectionInfo{
			Name:        in.name,
			Kind:        in.kind,
			Offset:      uint64(payload.Len()),
			Length:      uint64(len(stored)),
			Size:        uint64(len(in.data)),
			Compression: comp,
			Digest:      digest[:],
		})
		payload.Write(stored)
	}

	hdr, err := encMode.Marshal(h)
	if err != nil {
		return nil, &LinkError{Package: contract.Name, Err: fmt.Errorf("encoding header: %w", err)}
	}

	out := make([]byte, 0, prefixLen+len(hdr)+payload.Len())
	out = append(out, Magic...)
	out = binary.BigEndian.AppendUint16(out, FormatVersion)
	out = binary.BigEndian.AppendUint32(out, uint32(len(hdr)))
	out = append(out, hdr...)
	out = append(out, payload.Bytes()...)
	return artifact.New(artifact.KindLinked, contract.Name, out), nil
}

// IsLinked reports whether data starts with the linked package magic.
func IsLinked(data []byte) bool {
	return bytes.HasPrefix(data, []byte(Magic))
}

// ReadHeader decodes the header of a linked package and checks that every
// section lies inside the payload area.
func ReadHeader(data []byte) (Header, []byte, error) {
	var h Header
	if !IsLinked(data) {
		return h, nil, linkErr("", "not a linked package")
	}
	if len(data) < prefixLen {
		return h, nil, linkErr("", "truncated prefix")
	}
	if v := binary.BigEndian.Uint16(data[len(Magic):]); v != FormatVersion {
		return h, nil, linkErr("", "unsupported format version %d", v)
	}
	n := binary.BigEndian.Uint32(data[len(Magic)+2:])
	if n > maxHeaderLen || uint64(n) > uint64(len(data)-prefixLen) {
		return h, nil, linkErr("", "header length %d exceeds package size", n)
	}
	if err := decMode.Unmarshal(data[prefixLen:prefixLen+int(n)], &h); err != nil {
		return h, nil, &LinkError{Err: fmt.Errorf("decoding header: %w", err)}
	}
	payload := data[prefixLen+int(n):]
	for _, s := range h.Sections {
		if s.Offset > uint64(len(payload)) || s.Length > uint64(len(payload))-s.Offset {
			return h, nil, linkErr(h.Package, "section %s lies outside the package", s.Name)
		}
		if len(s.Digest) != len(artifact.Digest{}) {
			return h, nil, linkErr(h.Package, "section %s has a malformed digest", s.Name)
		}
	}
	return h, payload, nil
}

// Extract decodes every section of a linked package, decompressing and
// verifying each against its recorded digest.
func Extract(data []byte) ([]Section, error) {
	h, payload, err := ReadHeader(data)
	if err != nil {
		return nil, err
	}
	sections := make([]Section, 0, len(h.Sections))
	for _, s := range h.Sections {
		stored := payload[s.Offset : s.Offset+s.Length]
		raw, err := decompress(stored, s.Compression, s.Size)
		if err != nil {
			return nil, linkErr(h.Package, "section %s: %v", s.Name, err)
		}
		got := artifact.Sum(raw)
		if !bytes.Equal(got[:], s.Digest) {
			return nil, linkErr(h.Package, "section %s: digest mismatch", s.Name)
		}
		sections = append(sections, Section{Name: s.Name, Kind: s.Kind, Data: raw, Digest: got})
	}
	return sections, nil
}

// Find returns the named section from sections.
func Find(sections []Section, name string) (Section, bool) {
	for _, s := range sections {
		if s.Name == name {
			return s, true
		}
	}
	return Section{}, false
}

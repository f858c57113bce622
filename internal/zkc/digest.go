package zkc

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"strings"

	"github.com/zeebo/blake3"

	"github.com/papapumpkin/pbcbuild/internal/artifact"
)

// hashes computes the BLAKE3 digest of a stream and, when a checksum is
// pinned, the digest named by the pin.
type hashes struct {
	b3      *blake3.Hasher
	pinAlgo string
	pinWant string
	pinHash hash.Hash
	multi   io.Writer
}

func newHashes(pinned string) *hashes {
	h := &hashes{b3: blake3.New()}
	h.multi = h.b3
	if algo, sum, ok := strings.Cut(pinned, ":"); ok {
		h.pinAlgo, h.pinWant = algo, strings.ToLower(sum)
		if algo == "sha256" {
			h.pinHash = sha256.New()
			h.multi = io.MultiWriter(h.b3, h.pinHash)
		}
	}
	return h
}

func (h *hashes) Write(p []byte) (int, error) {
	return h.multi.Write(p)
}

func (h *hashes) digest() artifact.Digest {
	var d artifact.Digest
	copy(d[:], h.b3.Sum(nil))
	return d
}

func (h *hashes) checkPin() error {
	var got string
	switch h.pinAlgo {
	case "":
		return nil
	case "blake3":
		got = h.digest().String()
	case "sha256":
		got = hex.EncodeToString(h.pinHash.Sum(nil))
	default:
		return fmt.Errorf("%w: unsupported checksum algorithm %q", ErrChecksumMismatch, h.pinAlgo)
	}
	if got != h.pinWant {
		return fmt.Errorf("%w: %s:%s, pinned %s:%s", ErrChecksumMismatch, h.pinAlgo, got, h.pinAlgo, h.pinWant)
	}
	return nil
}

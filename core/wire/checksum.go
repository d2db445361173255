package wire

import (
	"crypto/md5"
	"encoding/hex"
	"errors"
)

// ErrChecksumMismatch indicates a revision's delta does not hash to its
// claimed checksum.
var ErrChecksumMismatch = errors.New("revision checksum mismatch")

// Checksum returns the hex md5 of a revision delta.
func Checksum(delta []byte) string {
	sum := md5.Sum(delta)
	return hex.EncodeToString(sum[:])
}

// VerifyChecksum recomputes the delta checksum and compares it to the claimed
// value. Whether a mismatch rejects the revision is decided by the dispatch
// layer's configuration.
func VerifyChecksum(delta []byte, claimed string) bool {
	return Checksum(delta) == claimed
}

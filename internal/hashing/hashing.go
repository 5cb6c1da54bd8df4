// Package hashing computes the content-addressed ids the server assigns
// to objects, operations, and views.
//
// Object ids follow git's own hashing convention — a SHA-1 digest of the
// bytes prefixed with "<kind> <len>\0" — so that a server repository stays
// exportable through a git-interop path without re-encoding anything.
// Operations and views are tandem-native records with no git equivalent,
// so they hash under the family name "operation"/"view" instead of a git
// object type.
package hashing

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"

	"github.com/i5heu/tandem/pkg/wire"
)

// IDLength is the byte length of every id this package produces: a raw
// SHA-1 digest, 40 hex characters when rendered as a string.
const IDLength = sha1.Size

func familyName(kind wire.ObjectKind) string {
	return kind.String()
}

// ObjectID computes the git-compatible content id for an object of the
// given kind.
func ObjectID(kind wire.ObjectKind, data []byte) string {
	return hashWithHeader(familyName(kind), data)
}

// OperationID computes the content id for an operation record.
func OperationID(data []byte) string {
	return hashWithHeader("operation", data)
}

// ViewID computes the content id for a view record.
func ViewID(data []byte) string {
	return hashWithHeader("view", data)
}

func hashWithHeader(family string, data []byte) string {
	h := sha1.New()
	fmt.Fprintf(h, "%s %d\x00", family, len(data))
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// ValidIDLength reports whether hexID has the expected hex-encoded length
// for an id produced by this package.
func ValidIDLength(hexID string) bool {
	return len(hexID) == IDLength*2
}

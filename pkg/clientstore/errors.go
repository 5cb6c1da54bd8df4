// Package clientstore implements the three client-side store shims — an
// object backend, an op store, and an op-heads store — each translating
// the VCS library's trait calls into pkg/rpcclient RPCs.
package clientstore

import (
	"errors"
	"fmt"

	"github.com/i5heu/tandem/pkg/wire"
)

// Sentinel errors a stock VCS client's store traits can branch on via
// errors.Is, standing in for the native error enum this repo does not
// embed (see DESIGN.md for why).
var (
	ErrNotFound        = errors.New("object not found")
	ErrInvalidIDLength = errors.New("invalid hash length")
	ErrInvalidData     = errors.New("invalid data")
	ErrUnsupported     = errors.New("unsupported feature")
	ErrOther           = errors.New("store error")
)

// translateError maps a wire.Error's Code to the sentinel the native VCS
// error enum would use. A plain Go error (transport/session failure)
// passes through unchanged: those are not domain errors, and callers
// retry them rather than branch on them.
func translateError(err error) error {
	if err == nil {
		return nil
	}
	var we *wire.Error
	if !errors.As(err, &we) {
		return err
	}
	switch we.Code {
	case wire.CodeNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, we.Message)
	case wire.CodeInvalidIDLength:
		return fmt.Errorf("%w: %s", ErrInvalidIDLength, we.Message)
	case wire.CodeInvalidData:
		return fmt.Errorf("%w: %s", ErrInvalidData, we.Message)
	case wire.CodeUnsupported:
		return fmt.Errorf("%w: %s", ErrUnsupported, we.Message)
	default:
		return fmt.Errorf("%w: %s", ErrOther, we.Message)
	}
}

package wire

import "errors"

var (
	// ErrTruncatedFrame indicates wire bytes shorter than a declared or
	// required length. The frame is rejected without mutating any state.
	ErrTruncatedFrame = errors.New("truncated frame")
	// ErrTrailingData indicates bytes left over after a complete decode.
	ErrTrailingData = errors.New("trailing data after frame")
	// ErrFieldTooLong indicates a field exceeds its encoding cap.
	ErrFieldTooLong = errors.New("field exceeds maximum length")
	// ErrInvalidKeyBundleLength indicates a key bundle that is neither the
	// legacy (96 byte) nor the extended (161 byte) format.
	ErrInvalidKeyBundleLength = errors.New("invalid key bundle length")
	// ErrAuthenticationFailure indicates an envelope whose tag does not
	// verify against its contents.
	ErrAuthenticationFailure = errors.New("envelope authentication failure")
	// ErrEmptyFrame indicates a zero-length packet.
	ErrEmptyFrame = errors.New("empty frame")
)

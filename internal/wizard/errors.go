package wizard

import "errors"

var (
	// ErrBusy rejects a generation request while the same action is in flight.
	ErrBusy = errors.New("wizard: operation already in progress")

	ErrInvalidTransition = errors.New("wizard: invalid step transition")
)

// ValidationError is a precondition failure. Message is shown to the user as is.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// User-facing messages placed in the message slot.
const (
	MsgNeedPerson        = "Please select or upload a person photo first"
	MsgNeedCloth         = "Please select or upload a clothing item first"
	MsgNeedBoth          = "Please select a person and a clothing item first"
	MsgUnknownAsset      = "That image is no longer available"
	MsgReadFailed        = "Failed to read the file, please upload it again"
	MsgFetchFailed       = "Could not load this image due to a network or cross-origin restriction. Please upload it locally instead."
	MsgClothFailed       = "Failed to generate clothing, please try again"
	MsgTryOnFailed       = "Try-on generation failed, possibly because of a safety policy or a network problem. Please try again with a different image."
	MsgNothingToDownload = "There is no result image yet"
)

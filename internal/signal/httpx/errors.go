package httpx

// Code is an error code.
type Code int

const (
	// Code specifically for the signal service. Rejections whose wording
	// depends on the key mode or the offending role are phrased at the
	// call site instead.
	ErrTargetNotFound Code = iota + 10000

	// Code for common errors.
	ErrUnmarshalJSON
	ErrInternal
)

// Errors maps error code to error message.
var Errors = map[Code]string{
	ErrTargetNotFound: "Viewer not found",
	ErrUnmarshalJSON:  "Could not unmarshal JSON data",
	ErrInternal:       "Server error",
}

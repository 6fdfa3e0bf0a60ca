package submit

import "fmt"

// ErrorKind classifies submission failures so the capture session can decide
// how to surface them.
type ErrorKind string

const (
	// KindUnmappedWord means the current word has no class id in the
	// vocabulary table. Detected before any network I/O.
	KindUnmappedWord ErrorKind = "UnmappedWord"

	// KindTimeout means the upload exceeded the submission deadline.
	KindTimeout ErrorKind = "Timeout"

	// KindTransport covers network failures and non-2xx HTTP responses.
	KindTransport ErrorKind = "TransportError"

	// KindInference means the server answered but reported a processing
	// failure (e.g. no person detected, corrupt video).
	KindInference ErrorKind = "InferenceError"
)

// Error is a classified submission failure.
type Error struct {
	Kind       ErrorKind
	StatusCode int    // set for KindTransport on HTTP status failures
	Message    string // server-provided detail for KindInference
	Err        error  // underlying error, if any
}

func (e *Error) Error() string {
	switch {
	case e.Message != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	case e.StatusCode != 0:
		return fmt.Sprintf("%s: http %d", e.Kind, e.StatusCode)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	default:
		return string(e.Kind)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf extracts the ErrorKind from err, or empty if err is not a
// submission error.
func KindOf(err error) ErrorKind {
	var se *Error
	if ok := asSubmitError(err, &se); ok {
		return se.Kind
	}
	return ""
}

package council

import "errors"

// Sentinel errors returned by ChangeSetGraph and ValueCreationQueue
// operations. Callers compare against these with errors.Is.
var (
	// ErrUnexpectedJobID is returned when a worker reports finishing
	// (or failing) work under a reply channel that the queue did not
	// believe was the one currently processing.
	ErrUnexpectedJobID = errors.New("council: reply channel does not match the job currently processing")

	// ErrShouldNotBeProcessingByJob is returned when a worker reports a
	// node as processed under a reply channel that was not the one
	// holding the processing claim on that node.
	ErrShouldNotBeProcessingByJob = errors.New("council: reply channel does not hold the processing claim for this node")

	// ErrUnknownNodeID is returned when a request names a node id that
	// the change set's graph has no metadata for.
	ErrUnknownNodeID = errors.New("council: unknown node id for this change set")

	// ErrUnknownChangeSetID is returned when a request names a change
	// set id the coordinator has no graph for.
	ErrUnknownChangeSetID = errors.New("council: unknown change set id")
)

// CodecError wraps a failure to decode a frame read off the message
// bus. It is never a sentinel value: the transport layer logs it and
// drops the frame, it does not propagate to a caller.
type CodecError struct {
	Subject string
	Err     error
}

func (e *CodecError) Error() string {
	return "council: malformed frame on subject " + e.Subject + ": " + e.Err.Error()
}

func (e *CodecError) Unwrap() error {
	return e.Err
}

// TransportError wraps a failure to publish or subscribe on the
// message bus. Like CodecError, it is logged and swallowed at the
// transport boundary rather than propagated into the coordinator loop.
type TransportError struct {
	Subject string
	Op      string
	Err     error
}

func (e *TransportError) Error() string {
	return "council: transport " + e.Op + " failed on subject " + e.Subject + ": " + e.Err.Error()
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

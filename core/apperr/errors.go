// Package apperr holds the closed set of failures a transcoding job can end with.
package apperr

import (
	"errors"
	"fmt"
)

// Kind names a failure. The string value is what callers see as errorName.
type Kind string

const (
	KindPayload           Kind = "PayloadError"
	KindWorkerBusy        Kind = "WorkerBusyError"
	KindUnsupportedKind   Kind = "UnsupportedFileKindError"
	KindStorageFetch      Kind = "StorageFetchError"
	KindStorageService    Kind = "StorageServiceError"
	KindValidation        Kind = "ValidationError"
	KindNotFound          Kind = "NotFoundError"
	KindDecode            Kind = "DecodeError"
	KindTranscodingKilled Kind = "TranscodingKilledError"
	KindMerge             Kind = "MergeError"
	KindFilePath          Kind = "FilePathError"
	KindFileNotFound      Kind = "FileNotFoundError"
	KindJobID             Kind = "JobIdError"
	KindUploadService     Kind = "UploadServiceError"
	KindSave              Kind = "SaveError"
	KindCatalogService    Kind = "CatalogServiceError"
)

// StatusClientClosed marks a job cancelled by its requester.
const StatusClientClosed = 499

var defaultCodes = map[Kind]int{
	KindPayload:           400,
	KindWorkerBusy:        429,
	KindUnsupportedKind:   422,
	KindStorageFetch:      424,
	KindStorageService:    424,
	KindValidation:        400,
	KindNotFound:          404,
	KindDecode:            422,
	KindTranscodingKilled: StatusClientClosed,
	KindMerge:             500,
	KindFilePath:          400,
	KindFileNotFound:      400,
	KindJobID:             400,
	KindUploadService:     417,
	KindSave:              500,
	KindCatalogService:    502,
}

// DefaultCode returns the acknowledgement code used for k.
func DefaultCode(k Kind) int {
	if code, ok := defaultCodes[k]; ok {
		return code
	}
	return 500
}

// Error is a typed job failure.
type Error struct {
	Kind    Kind
	Message string
	Code    int
	// Upstream is the HTTP status a collaborator answered with, 0 when none.
	Upstream int
	Cause    error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches another *Error of the same kind, so sentinel-style checks work.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind && t.Message == ""
}

// New builds an error of kind k with its default code.
func New(k Kind, message string) *Error {
	return &Error{Kind: k, Message: message, Code: DefaultCode(k)}
}

// Wrap builds an error of kind k around cause.
func Wrap(k Kind, message string, cause error) *Error {
	return &Error{Kind: k, Message: message, Code: DefaultCode(k), Cause: cause}
}

// WithUpstream records the collaborator status on e.
func (e *Error) WithUpstream(status int) *Error {
	e.Upstream = status
	return e
}

// As extracts the first *Error in err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsKind reports whether err carries kind k.
func IsKind(err error, k Kind) bool {
	e, ok := As(err)
	return ok && e.Kind == k
}

// Sentinels for errors.Is comparisons.
var (
	ErrWorkerBusy        = &Error{Kind: KindWorkerBusy}
	ErrTranscodingKilled = &Error{Kind: KindTranscodingKilled}
)

// Payload reports a malformed job request.
func Payload(message string) *Error {
	return New(KindPayload, message)
}

// Validation reports a merge precondition failure.
func Validation(message string) *Error {
	return New(KindValidation, message)
}

// WorkerBusy rejects a job while another one holds the gate.
func WorkerBusy() *Error {
	return New(KindWorkerBusy, "Worker is busy with another job")
}

// UnsupportedKind rejects a file reference with no resolution path.
func UnsupportedKind(kind string) *Error {
	return New(KindUnsupportedKind, fmt.Sprintf("file kind %q cannot be resolved", kind))
}

// StorageFetch reports a failed source download.
func StorageFetch(id string, status int, cause error) *Error {
	return Wrap(KindStorageFetch, fmt.Sprintf("failed to fetch file %q", id), cause).WithUpstream(status)
}

// StorageService is the caller-facing form of any fetch failure.
func StorageService(cause error) *Error {
	e := Wrap(KindStorageService, "Failed to fetch a file from storage service", cause)
	if inner, ok := As(cause); ok {
		e.Upstream = inner.Upstream
	}
	return e
}

// NotFound reports a missing local audio file.
func NotFound(path string) *Error {
	return New(KindNotFound, fmt.Sprintf("file %q does not exist", path))
}

// Decode reports an unreadable or unsupported audio stream.
func Decode(path string, cause error) *Error {
	return Wrap(KindDecode, fmt.Sprintf("cannot decode audio in %q", path), cause)
}

// TranscodingKilled reports a job cancelled mid-merge.
func TranscodingKilled(jobID string) *Error {
	return New(KindTranscodingKilled, fmt.Sprintf("Transcoding job %s was killed", jobID))
}

// Merge reports a failed media process.
func Merge(cause error) *Error {
	return Wrap(KindMerge, "Failed to merge audio files", cause)
}

// UploadService reports a failed hand-off to object storage.
func UploadService(status int, cause error) *Error {
	return Wrap(KindUploadService, "Failed to upload file to storage service", cause).WithUpstream(status)
}

// Save reports an upload that produced no usable descriptor.
func Save() *Error {
	return New(KindSave, "Storage service returned an empty descriptor")
}

// CatalogService reports a failed craft registration.
func CatalogService(status int, cause error) *Error {
	e := Wrap(KindCatalogService, "Failed to register craft in catalog service", cause).WithUpstream(status)
	if status >= 400 && status < 600 {
		e.Code = status
	}
	return e
}

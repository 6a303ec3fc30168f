package errors

import "net/http"

// Code represents an error code with HTTP status and message
type Code struct {
	Code    int    // Business error code
	Status  int    // HTTP status code
	Message string // Error message
}

// Error codes for different modules
const (
	// Success
	Success = 0

	// Common errors (1000-1999)
	ErrInternalServer = 1000
	ErrInvalidParams  = 1001
	ErrNotFound       = 1002
	ErrConflict       = 1003
	ErrBadRequest     = 1004

	// Scan errors (2000-2999)
	ErrScanInProgress  = 2000
	ErrScanStateStale  = 2001
	ErrScanPersistence = 2002

	// Reference errors (3000-3999)
	ErrReferenceNotFound       = 3000
	ErrReferenceSourceNotFound = 3001

	// Duplicate errors (4000-4999)
	ErrDuplicateGroupNotFound = 4000

	// Asset errors (5000-5999)
	ErrAssetNotFound = 5000
)

// codeMap maps error codes to their details
var codeMap = map[int]Code{
	Success: {Success, http.StatusOK, "Success"},

	// Common errors
	ErrInternalServer: {ErrInternalServer, http.StatusInternalServerError, "Internal server error"},
	ErrInvalidParams:  {ErrInvalidParams, http.StatusBadRequest, "Invalid parameters"},
	ErrNotFound:       {ErrNotFound, http.StatusNotFound, "Resource not found"},
	ErrConflict:       {ErrConflict, http.StatusConflict, "Resource conflict"},
	ErrBadRequest:     {ErrBadRequest, http.StatusBadRequest, "Bad request"},

	// Scan errors
	ErrScanInProgress:  {ErrScanInProgress, http.StatusConflict, "A scan is already in progress"},
	ErrScanStateStale:  {ErrScanStateStale, http.StatusConflict, "Scan state was modified concurrently"},
	ErrScanPersistence: {ErrScanPersistence, http.StatusInternalServerError, "Failed to persist scan state"},

	// Reference errors
	ErrReferenceNotFound:       {ErrReferenceNotFound, http.StatusNotFound, "Attachment reference not found"},
	ErrReferenceSourceNotFound: {ErrReferenceSourceNotFound, http.StatusNotFound, "Reference source not found"},

	// Duplicate errors
	ErrDuplicateGroupNotFound: {ErrDuplicateGroupNotFound, http.StatusNotFound, "Duplicate group not found"},

	// Asset errors
	ErrAssetNotFound: {ErrAssetNotFound, http.StatusNotFound, "Attachment not found"},
}

// GetCode returns the Code for a given error code
func GetCode(code int) Code {
	if c, ok := codeMap[code]; ok {
		return c
	}
	return codeMap[ErrInternalServer]
}

// GetHTTPStatus returns HTTP status for a given error code
func GetHTTPStatus(code int) int {
	return GetCode(code).Status
}

// GetMessage returns the message for a given error code
func GetMessage(code int) string {
	return GetCode(code).Message
}

// FormatError formats an error message with optional details
func FormatError(code int, details ...string) string {
	msg := GetMessage(code)
	if len(details) > 0 && details[0] != "" {
		return msg + ": " + details[0]
	}
	return msg
}

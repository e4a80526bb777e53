package errors

import "errors"

// Local board errors.
var (
	ErrValidation = errors.New("validation failed")
	ErrNotFound   = errors.New("not found")
	ErrNoConflict = errors.New("no merge conflict pending")
	ErrOffline    = errors.New("client is offline")
	ErrSyncBusy   = errors.New("sync already in progress")
)

// Server/transport errors.
var (
	ErrConflict    = errors.New("version conflict")
	ErrAPIRequest  = errors.New("API request failed")
	ErrAPIResponse = errors.New("unexpected API response")
)

package sentinel

import "errors"

// Sentinel errors for infrastructure facts. The transport and store layers
// return these (optionally wrapped) so callers can branch on the fact rather
// than on status codes or message text.
//
// - ErrNotFound: the remote resource does not exist. Benign in some contexts
//   (tile reads past the pyramid edge) and fatal in others (project load).
// - ErrUnavailable: the remote server could not be reached or answered with
//   a server-side failure.
// - ErrUnauthorized: the server rejected the request's credentials outright.
//
// Decisions that are a normal part of the sync protocol (no write access,
// needs fork, needs login) are not errors and have no sentinel here.
var (
	ErrNotFound     = errors.New("not found")
	ErrUnavailable  = errors.New("unavailable")
	ErrUnauthorized = errors.New("unauthorized")
)

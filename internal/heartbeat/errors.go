package heartbeat

import "errors"

var (
	// ErrMissingStoreID is returned by Validate when store_id is empty.
	ErrMissingStoreID = errors.New("heartbeat: missing store_id")
	// ErrBadCameraCounts is returned when active_cameras is negative or exceeds total_cameras.
	ErrBadCameraCounts = errors.New("heartbeat: active_cameras out of range")
	// ErrBadPercent is returned when a percentage field falls outside [0,100].
	ErrBadPercent = errors.New("heartbeat: percentage out of range")
)

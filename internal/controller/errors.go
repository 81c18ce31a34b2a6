package controller

import "errors"

// Protocol errors surface to the initiator of a request; resource errors
// are fatal at the controller level and propagate.
var (
	ErrTimeout            = errors.New("controller: request timed out")
	ErrDeliveryFailed     = errors.New("controller: delivery failed")
	ErrInvalidResponse    = errors.New("controller: invalid response")
	ErrRadioUnavailable   = errors.New("controller: radio unavailable")
	ErrNetworkFormFailed  = errors.New("controller: network formation failed")
	ErrNotInitialized     = errors.New("controller: not started")
	ErrBackupIncompatible = errors.New("controller: backup incompatible with this network")

	ErrAttributeNotSupported = errors.New("controller: attribute not supported")
	ErrUnsupportedCluster    = errors.New("controller: unsupported cluster")
	ErrBadArgument           = errors.New("controller: bad argument")
)

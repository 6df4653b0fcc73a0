package logic

import "errors"

// ErrMissingZone is returned when a request does not name both a site and a zone.
var ErrMissingZone = errors.New("site_id and zone_id are required")

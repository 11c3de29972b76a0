package http

import "errors"

var (
	errBadRequest       = errors.New("bad request")
	errTooLarge         = errors.New("request body too large")
	errUnsupportedMedia = errors.New("unsupported media type")
)

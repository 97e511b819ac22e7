package rest

import "fmt"

// InvalidContentError reports a torrent-add payload that cannot become a fetch
// request: bad base64, oversized or malformed metainfo.
type InvalidContentError struct {
	Filename string
	Reason   string
	Err      error
}

func (e *InvalidContentError) Error() string {
	return fmt.Sprintf("invalid torrent content in %s: %s", e.Filename, e.Reason)
}

func (e *InvalidContentError) Unwrap() error {
	return e.Err
}

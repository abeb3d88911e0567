package llm

import "errors"

// The upstream is a billed external call: failures are surfaced once,
// never retried inside the adapter.
var (
	ErrUpstream        = errors.New("completion upstream failed")
	ErrUpstreamTimeout = errors.New("completion upstream timed out")
	ErrRefused         = errors.New("completion request refused")
)

package exception

import "errors"

var (
	ErrExchangeEmptyCredentials   = errors.New("exchange: empty api credentials")
	ErrExchangeResponseCode       = errors.New("exchange: response code is not zero")
	ErrExchangeDecodeResponseBody = errors.New("exchange: decode response body")
)

// Package proxy serves /image requests: it resolves the query parameters of a
// request, delegates to the group's fetcher and writes the image back with
// cache diagnostics headers.
package proxy

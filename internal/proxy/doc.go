// Package proxy is the caching forward proxy itself.
//
// A Server accepts client connections and runs each one in its own goroutine
// through a single request: GET is answered from the cache when possible and
// revalidated or fetched otherwise, POST is passed through untouched, and
// CONNECT becomes an opaque byte tunnel that lives until either side closes
// or both go quiet for the idle window. Every path closes the client
// connection when it is done.
package proxy

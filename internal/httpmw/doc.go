// Package httpmw provides HTTP middleware shared by the app and admin servers.
//
// httpserver composes them outermost first: recover, request ID, OTel
// tracing, trace response headers, API headers, metrics, request logger,
// access log, then the chi router.
//
// Query strings, user agents and other client-supplied headers stay out of
// the logs; a login backend sees credentials in all of them.
package httpmw

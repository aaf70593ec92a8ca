// Package server hosts the Fiber HTTP service in front of the image loader.
// It wires the request-ID and recover middlewares, the synchronous /image
// endpoint, named display slots under /-/slots, and the admin cache routes.
// Diagnostics live in the routes subpackage so the core router keeps a narrow
// dependency surface; callers inject the loader through ImageService.
package server

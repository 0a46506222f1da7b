// Package server hosts the Fiber HTTP service, the request id middleware and
// the group registry that turns [[Group]] config entries into live cache
// stores, loaders and sweepers. Handlers (proxy) and diagnostics routes
// (server/routes) receive a resolved *GroupRoute and never touch config
// directly, so keep exports narrow and accept explicit dependencies.
package server

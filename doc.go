// Package hound is a service-discovery client for etcd. It registers a
// process as a named node under a service namespace with a lease-bound
// lifetime, lists peers under that namespace, and watches membership
// changes.
//
// The etcd client is treated as the only external collaborator: no HTTP
// handlers, session state, or transport configuration belong here, only
// the registration state machine and the thin query/watch helpers built
// on top of it.
package hound

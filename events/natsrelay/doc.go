// Package natsrelay shares auth lifecycle events between processes signed
// in as the same user over NATS.
//
// Local provider events are published on <prefix>.<subject_id>. Events
// received from other nodes are delivered as TokenRefreshed, so a remote
// event only ever triggers a fresh server-verified resolution and never
// decides the local state by itself.
package natsrelay

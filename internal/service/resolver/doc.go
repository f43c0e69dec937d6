// Package resolver queries the upstream release manifest and selects the
// release the single fixed channel designates as current: the one with the
// highest dotted-numeric version. Transport failures are retried with
// bounded exponential backoff; a manifest that cannot be decoded or that
// lacks required fields surfaces immediately as malformed.
package resolver

// Package installer orchestrates the update pipeline: resolve the latest
// release, fetch and verify its archive, extract it into staging, then
// atomically repoint the install's current link at the new versioned
// directory. The previous version is retained for rollback until the
// operator prunes it. A single advisory lock file scopes each run; a second
// run against the same install root fails fast instead of queueing.
package installer

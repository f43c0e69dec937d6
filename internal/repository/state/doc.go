// Package state owns the install record: the single persisted statement of
// which version is active, where it lives, and which previous version is
// retained for rollback. Writes are atomic (temp file + rename) so the
// record can never be observed half-written.
package state

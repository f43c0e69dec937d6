// Package selfupdate keeps the tool itself current. When the release
// manifest publishes an updater entry newer than the running build, the
// downloaded payload is verified against its checksum and applied over the
// running executable in place.
package selfupdate

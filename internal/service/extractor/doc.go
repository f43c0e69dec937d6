// Package extractor unpacks verified release archives (gzip or bzip2
// compressed tarballs) into unique staging directories. Entries and symlink
// targets resolving outside the staging directory abort the extraction, and
// the archive must contain exactly one top-level application directory.
package extractor

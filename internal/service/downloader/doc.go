// Package downloader fetches release archives into a local cache. Bytes are
// streamed to a temporary file while a running digest is computed; only an
// archive whose size and checksum match the manifest is renamed into its
// digest-named cache entry, which later runs may reuse without downloading.
package downloader

// Package release defines the immutable value types describing one
// publishable version of the managed application, plus the dotted-numeric
// version ordering used to decide whether an update is due.
package release

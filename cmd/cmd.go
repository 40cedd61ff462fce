// Package cmd contains helpers shared by the command line binaries.
package cmd

import "log"

// GetOrPanic returns v, and panics if err is not nil.
func GetOrPanic[T any](v T, err error) T {
	OrPanic(err)
	return v
}

// OrPanic panics if err is not nil.
func OrPanic(err error) {
	if err != nil {
		log.Panic(err)
	}
}

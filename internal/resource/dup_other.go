//go:build !unix

package resource

import "os"

// Without dup(2) the closest equivalent is a second open of the same name.
func duplicate(f *os.File) (*os.File, error) {
	return os.Open(f.Name())
}

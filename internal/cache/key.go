package cache

import (
	"fmt"

	"github.com/cespare/xxhash/v2"
)

// Fingerprint digests key parts into a fixed-width hex string. Parts are
// separated so ("ab","c") and ("a","bc") differ.
func Fingerprint(parts ...string) string {
	d := xxhash.New()
	for i, part := range parts {
		if i > 0 {
			_, _ = d.Write([]byte{0})
		}
		_, _ = d.WriteString(part)
	}
	return fmt.Sprintf("%016x", d.Sum64())
}

package jsonrpc2

import "math/rand/v2"

const idCharset = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// genID draws an 8-character request id uniformly from idCharset. The
// generator is deliberately CSPRNG-free (spec §4.1): collisions are
// acceptable at the scale this library targets (a single process juggling
// hundreds of in-flight requests), and math/rand/v2's top-level functions
// are already safe for concurrent use without a package-level mutex.
func genID() string {
	b := make([]byte, 8)
	for i := range b {
		b[i] = idCharset[rand.IntN(len(idCharset))]
	}
	return string(b)
}

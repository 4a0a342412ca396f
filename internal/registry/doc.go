// Package registry implements the public key directory: an immutable,
// versioned table keyed by account with a latest-version pointer. Rotation
// appends; nothing is ever edited in place, which keeps concurrent
// rotations race-free and historical envelope decryption possible.
package registry

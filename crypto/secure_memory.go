package crypto

import (
	"crypto/subtle"
	"runtime"
)

// Wipe overwrites data with zeros. It is a no-op for nil slices.
func Wipe(data []byte) {
	if data == nil {
		return
	}
	zeros := make([]byte, len(data))
	// The constant-time compare keeps the compiler from proving the copy dead.
	subtle.ConstantTimeCompare(data, zeros)
	copy(data, zeros)
	runtime.KeepAlive(data)
}

// Wipe erases the private halves of the identity. The identity must not be
// used afterwards.
func (id *Identity) Wipe() {
	if id == nil {
		return
	}
	if id.Box != nil {
		Wipe(id.Box.Private[:])
	}
	Wipe(id.SigningSeed[:])
}

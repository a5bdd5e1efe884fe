// Package guest is what a wasmbox guest imports: the guest-side counterpart
// to host.Instance, plus the ABI glue that backs the
// wasmbox_malloc/wasmbox_free/wasmbox_send/wasmbox_initialize exports every
// guest module must have. It is meant to be compiled with TinyGo, targeting
// wasm; nothing in this repository builds it.
package guest

// Emit sends one output value to the host, synchronously: the underlying
// wasmbox_callback import returns only once the host has finished decoding
// and delivering it, so outputs a Responder emits are visible to the host
// in the exact order Emit was called.
type Emit[O any] func(O)

// Responder is the synchronous guest implementer option, for a guest whose
// whole reaction to one input fits in a single call with no suspension.
// Initialize runs once, before any Handle call.
type Responder[I, O any] interface {
	Initialize() error
	Handle(input I, emit Emit[O]) error
}

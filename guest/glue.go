package guest

import (
	"unsafe"

	"github.com/jamsocket/wasmbox/codec"
)

//go:wasmimport env wasmbox_callback
func hostCallback(ptr, length uint32)

// keepAlive pins the backing array of every buffer the host can still see
// by pointer, so the Go garbage collector never reclaims it between a
// wasmbox_malloc and the matching wasmbox_free: once only a bare uint32
// pointer crosses the ABI, Go's GC has no reference to the slice it points
// into, and without this map it would be free to collect it early.
var keepAlive = map[uint32][]byte{}

// Glue wires a Responder or a RunAsync driver to the five required ABI
// exports. Exactly one Glue per guest module; its exported methods are
// what a //export-annotated package-level function in the guest's main
// package should call.
type Glue[I, O any] struct {
	codecIn  codec.Codec[I]
	codecOut codec.Codec[O]

	responder Responder[I, O]
	async     *driver[I, O]
}

// NewSyncGlue wires a Responder (the synchronous guest implementer option).
func NewSyncGlue[I, O any](codecIn codec.Codec[I], codecOut codec.Codec[O], r Responder[I, O]) *Glue[I, O] {
	return &Glue[I, O]{codecIn: codecIn, codecOut: codecOut, responder: r}
}

// NewAsyncGlue wires a RunAsync body (the asynchronous guest implementer
// option).
func NewAsyncGlue[I, O any](codecIn codec.Codec[I], codecOut codec.Codec[O], run func(*Context[I, O]) error) *Glue[I, O] {
	g := &Glue[I, O]{codecIn: codecIn, codecOut: codecOut}
	g.async = RunAsync(run, g.emit)
	return g
}

func (g *Glue[I, O]) emit(v O) {
	encoded, err := g.codecOut.Encode(v)
	if err != nil {
		panic(err)
	}
	ptr := g.Malloc(uint32(len(encoded)))
	buf := unsafe.Slice((*byte)(unsafe.Pointer(uintptr(ptr))), len(encoded))
	copy(buf, encoded)
	hostCallback(ptr, uint32(len(encoded)))
	g.Free(ptr, uint32(len(encoded)))
}

// Malloc is the wasmbox_malloc export: it allocates length bytes and
// registers them in keepAlive so the allocation survives until Free. A
// zero-length request is backed by a 1-byte buffer so it still gets a
// distinct pointer of its own.
func (g *Glue[I, O]) Malloc(length uint32) uint32 {
	size := length
	if size == 0 {
		size = 1
	}
	buf := make([]byte, size)
	ptr := uint32(uintptr(unsafe.Pointer(unsafe.SliceData(buf))))
	keepAlive[ptr] = buf
	return ptr
}

// Free is the wasmbox_free export: it drops the keepAlive entry so the
// allocation becomes collectible again. length is accepted to match the
// host-side call signature but is not otherwise needed, since keepAlive is
// keyed by pointer alone.
func (g *Glue[I, O]) Free(ptr, _ uint32) {
	delete(keepAlive, ptr)
}

// Initialize is the wasmbox_initialize export. A failure here traps the
// call, the same as any other guest-side error: there is no host-visible
// return value to carry it instead.
func (g *Glue[I, O]) Initialize() {
	if g.responder != nil {
		if err := g.responder.Initialize(); err != nil {
			panic(err)
		}
	}
}

// Send is the wasmbox_send export: it decodes the bytes at ptr/length as
// one Input value and hands it to whichever guest implementer option this
// Glue was constructed with. A decode or handler error panics, trapping the
// enclosing wasmbox_send call, since wasmbox_send has no return value for
// the host to inspect.
func (g *Glue[I, O]) Send(ptr, length uint32) {
	buf := unsafe.Slice((*byte)(unsafe.Pointer(uintptr(ptr))), length)
	input, err := g.codecIn.Decode(buf)
	if err != nil {
		panic(err)
	}

	if g.async != nil {
		if err := g.async.Deliver(input); err != nil {
			panic(err)
		}
		return
	}

	if err := g.responder.Handle(input, g.emit); err != nil {
		panic(err)
	}
}

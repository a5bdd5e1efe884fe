package host

// The fixed ABI names every guest module must export (and the one it must
// import). Every Engine implementation wires these same names regardless of
// which underlying wasm runtime it uses.
const (
	// EnvModule is the import module name the host's callback lives under.
	EnvModule = "env"

	// ExportMemory is the name of the guest's one linear memory.
	ExportMemory = "memory"
	// ExportMalloc allocates a buffer inside guest memory.
	ExportMalloc = "wasmbox_malloc"
	// ExportFree frees a buffer previously returned by ExportMalloc.
	ExportFree = "wasmbox_free"
	// ExportSend delivers one encoded input message to the guest.
	ExportSend = "wasmbox_send"
	// ExportInitialize constructs the guest's state; called exactly once,
	// before any ExportSend call.
	ExportInitialize = "wasmbox_initialize"

	// ImportCallback is the host function the guest calls zero or more
	// times per ExportSend to emit an encoded output message.
	ImportCallback = "wasmbox_callback"
)

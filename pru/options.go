package pru

// ChunkObserver is called by the transfer core after each chunk is copied,
// with the chunk index within the frame and its destination offset.
type ChunkObserver func(index, offset int)

type coreOptions struct {
	warmup   int
	mode     AddressMode
	observer ChunkObserver
}

// CoreOption configures a [CaptureCore] or [TransferCore].
type CoreOption func(*coreOptions)

// WithWarmup makes the capture core wait n pixel clock cycles before
// looking for its first frame boundary after Run starts. Later frames
// start immediately. Some sensors need this to settle after the bus output
// enable is asserted.
func WithWarmup(n int) CoreOption {
	return func(o *coreOptions) { o.warmup = max(n, 0) }
}

// WithAddressMode sets when the transfer core reads the frame buffer
// address. The default is [AddressPerCapture].
func WithAddressMode(m AddressMode) CoreOption {
	return func(o *coreOptions) { o.mode = m }
}

// WithChunkObserver installs a per-chunk callback on the transfer core.
func WithChunkObserver(fn ChunkObserver) CoreOption {
	return func(o *coreOptions) { o.observer = fn }
}

func applyOptions(opts []CoreOption) coreOptions {
	var o coreOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// CoreStats counts the work done by a core.
type CoreStats struct {
	Frames uint64 // frames completed
	Chunks uint64 // chunks sampled or relayed
	Aborts uint64 // frames abandoned on abort
	Faults uint64 // triggers ignored because the address did not resolve
}

// Package pru models the two PRU-ICSS co-processors of the prucam capture
// pipeline and the shared state they coordinate through.
//
// The pipeline has three parties. The host publishes a frame buffer address
// into the shared [Region] and raises the trigger [Event]. The
// [TransferCore] observes the trigger, re-reads the address, and starts the
// [CaptureCore], which samples the parallel pixel bus one byte per rising
// pixel clock edge into the [ChunkRing]. Each filled chunk is announced
// with the chunk-ready event; the transfer core copies it into the frame
// buffer at offset index × chunk size. After the last chunk of the last
// line the transfer core raises the completion event for the host.
//
// Events follow INTC semantics: a raise sets the pending flag, the consumer
// clears it, and a raise while pending is lost. Chunks are never lost
// because the writer flags a slot full before raising and the reader clears
// the event before scanning the slots.
//
// Neither core has an error path. Faults and stalls surface to the host
// only as a missing completion. The host may raise the abort event, which
// both cores observe at chunk boundaries and while waiting on the bus.
package pru

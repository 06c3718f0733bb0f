// Package audiocore holds the shared data model of the capture, alignment and
// remix engine.
//
// # Architecture Overview
//
// Audio moves through the engine in one direction:
//
//   - Capture adapters (package capture) receive buffers from the OS or the
//     audio engine, copy them and hand them to a per-source serial queue
//   - Encoders (package encoder) retime buffers to a session that starts at
//     zero and write them into a container (package container)
//   - Finished per-source files and their SourceTimingInfo form a Manifest
//   - The remixer (package remix) re-reads every file and writes one
//     multi-track container aligned to the segment timeline
//
// # Timing
//
// Buffers carry host-clock timestamps. An encoder anchors its session to the
// first buffer it receives, so its container always starts at zero. The
// offset between the segment anchor and that first buffer is reported in
// SourceTimingInfo.StartOffset and is reapplied by the remixer.
//
// # Concurrency and Thread Safety
//
// Each source is processed on exactly one goroutine, which preserves arrival
// order within a source. No ordering is assumed between sources. Encoder
// state is guarded by a single mutex per encoder.
//
// # Error Handling
//
// Errors use the enhanced error system. Sentinels declared in this package
// can be matched with errors.Is through any amount of wrapping.
package audiocore

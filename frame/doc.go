// Package frame turns a captured buffer into files.
//
// A [Frame] carries the raw bytes of one capture together with its
// geometry and request details. It converts to a grayscale image (8-bit
// for one byte per pixel, 16-bit little-endian samples for two) and
// encodes to PNG, TIFF, WebP or TGA. A msgpack [Metadata] sidecar records
// where the bytes came from.
package frame

package frame

import (
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/ardnew/prucam/pru"
)

// Metadata describes a captured frame.
type Metadata struct {
	ID       uuid.UUID         `msgpack:"id"`
	Geometry pru.Geometry      `msgpack:"geometry"`
	Captured time.Time         `msgpack:"captured"`
	Elapsed  time.Duration     `msgpack:"elapsed"`
	Bytes    int               `msgpack:"bytes"`
	CRC32    uint32            `msgpack:"crc32"`
	Sensor   string            `msgpack:"sensor,omitempty"`
	Settings map[string]uint16 `msgpack:"settings,omitempty"`
	Files    []string          `msgpack:"files,omitempty"`
}

// Metadata returns the frame's metadata.
func (f *Frame) Metadata() Metadata {
	return Metadata{
		ID:       f.ID,
		Geometry: f.Geometry,
		Captured: f.Captured,
		Elapsed:  f.Elapsed,
		Bytes:    len(f.Data),
		CRC32:    f.Checksum(),
	}
}

// Verify reports whether data matches the recorded size and checksum.
func (m Metadata) Verify(data []byte) bool {
	f := Frame{Data: data}
	return len(data) == m.Bytes && f.Checksum() == m.CRC32
}

// WriteMetadata encodes m to w.
func WriteMetadata(w io.Writer, m Metadata) error {
	return msgpack.NewEncoder(w).Encode(&m)
}

// ReadMetadata decodes metadata from r.
func ReadMetadata(r io.Reader) (Metadata, error) {
	var m Metadata
	err := msgpack.NewDecoder(r).Decode(&m)
	return m, err
}

// SaveMetadata writes m to path.
func SaveMetadata(path string, m Metadata) error {
	return writeFile(path, func(w io.Writer) error { return WriteMetadata(w, m) })
}

// LoadMetadata reads metadata from path.
func LoadMetadata(path string) (Metadata, error) {
	file, err := os.Open(path)
	if err != nil {
		return Metadata{}, err
	}
	defer file.Close()
	return ReadMetadata(file)
}

// MetadataPath returns the sidecar path for a frame written into dir.
func MetadataPath(dir string, id uuid.UUID) string {
	return filepath.Join(dir, id.String()+".msgpack")
}

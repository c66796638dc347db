package client

import (
	"io"
	"mime"
	"net/http"
	"path/filepath"
)

// Chunk is one part of a file: a 1-based part number and the byte range it covers.
type Chunk struct {
	Number int32
	Offset int64
	Size   int64
}

// Split divides size bytes into chunks of partSize. The last chunk holds the
// remainder. An empty input still yields one empty chunk, since a multipart
// upload needs at least one part.
func Split(size, partSize int64) []Chunk {
	if partSize <= 0 {
		partSize = DefaultPartSize
	}
	n := size / partSize
	if size%partSize != 0 || n == 0 {
		n++
	}

	chunks := make([]Chunk, n)
	for i := int64(0); i < n; i++ {
		off := i * partSize
		limit := off + partSize
		// adjust limit for last chunk
		if i == n-1 {
			limit = size
		}
		chunks[i] = Chunk{Number: int32(i + 1), Offset: off, Size: limit - off}
	}
	return chunks
}

// readChunk reads the bytes of c from r.
func readChunk(r io.ReaderAt, c Chunk) ([]byte, error) {
	buf := make([]byte, c.Size)
	if _, err := io.ReadFull(io.NewSectionReader(r, c.Offset, c.Size), buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// ContentType guesses the MIME type of a file from its extension, falling
// back to sniffing the first 512 bytes.
func ContentType(name string, r io.ReaderAt) string {
	if ct := mime.TypeByExtension(filepath.Ext(name)); ct != "" {
		return ct
	}
	buf := make([]byte, 512)
	n, _ := r.ReadAt(buf, 0)
	if n == 0 {
		return "application/octet-stream"
	}
	return http.DetectContentType(buf[:n])
}

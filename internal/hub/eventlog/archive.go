package eventlog

import (
	"fmt"
	"os"

	"github.com/klauspost/compress/zstd"
)

// compressArchive replaces a rotated log segment with a
// zstd-compressed copy (<segment>.zst).
func compressArchive(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read segment: %w", err)
	}

	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return fmt.Errorf("init zstd encoder: %w", err)
	}
	compressed := enc.EncodeAll(data, make([]byte, 0, len(data)/2))
	_ = enc.Close()

	tmp := path + ".zst.tmp"
	if err := os.WriteFile(tmp, compressed, 0o640); err != nil {
		return fmt.Errorf("write compressed segment: %w", err)
	}
	if err := os.Rename(tmp, path+".zst"); err != nil {
		return fmt.Errorf("rename compressed segment: %w", err)
	}
	return os.Remove(path)
}

// ReadArchive decompresses an archived segment for offline
// inspection (swarmhub logs tooling, tests).
func ReadArchive(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read archive: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("init zstd decoder: %w", err)
	}
	defer dec.Close()
	out, err := dec.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("decompress archive: %w", err)
	}
	return out, nil
}

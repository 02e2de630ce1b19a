package provider

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
)

var errNotWav = errors.New("not a RIFF/WAVE file")

// wavDuration reads the fmt and data chunk headers of a WAV file and derives
// its duration in seconds. Synthesis engines emit plain PCM WAV, so the
// byte-rate field is sufficient.
func wavDuration(path string) (float64, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open wav: %w", err)
	}
	defer file.Close()

	header := make([]byte, 12)
	if _, err := io.ReadFull(file, header); err != nil {
		return 0, fmt.Errorf("read wav header: %w", err)
	}

	if string(header[0:4]) != "RIFF" || string(header[8:12]) != "WAVE" {
		return 0, errNotWav
	}

	var byteRate uint32

	// Walk the chunk list: the fmt chunk carries the byte rate, the data
	// chunk carries the sample payload length.
	for {
		chunkHeader := make([]byte, 8)
		if _, err := io.ReadFull(file, chunkHeader); err != nil {
			return 0, fmt.Errorf("read chunk header: %w", err)
		}

		chunkID := string(chunkHeader[0:4])
		chunkSize := binary.LittleEndian.Uint32(chunkHeader[4:8])

		switch chunkID {
		case "fmt ":
			fmtChunk := make([]byte, chunkSize)
			if _, err := io.ReadFull(file, fmtChunk); err != nil {
				return 0, fmt.Errorf("read fmt chunk: %w", err)
			}

			if len(fmtChunk) < 12 {
				return 0, errNotWav
			}

			byteRate = binary.LittleEndian.Uint32(fmtChunk[8:12])
		case "data":
			if byteRate == 0 {
				return 0, errNotWav
			}

			return float64(chunkSize) / float64(byteRate), nil
		default:
			if _, err := file.Seek(int64(chunkSize), io.SeekCurrent); err != nil {
				return 0, fmt.Errorf("skip chunk %q: %w", chunkID, err)
			}
		}

		// Odd-sized chunks are padded to an even byte boundary.
		if chunkSize%2 == 1 {
			if _, err := file.Seek(1, io.SeekCurrent); err != nil {
				return 0, fmt.Errorf("skip chunk padding: %w", err)
			}
		}
	}
}

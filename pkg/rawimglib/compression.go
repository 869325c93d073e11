package rawimglib

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/klauspost/pgzip"
	"github.com/ulikunitz/xz"

	"github.com/aosc-dev/mkrawimg/internal/file"
	"github.com/aosc-dev/mkrawimg/internal/logger"
)

// Compression selects the output format of the finished image.
type Compression string

const (
	CompressionXz   Compression = "xz"
	CompressionZstd Compression = "zstd"
	CompressionGzip Compression = "gzip"
	CompressionNone Compression = "none"
)

const compressBufferSize = 1 << 20

func (c Compression) IsValid() error {
	switch c {
	case CompressionXz, CompressionZstd, CompressionGzip, CompressionNone:
		return nil
	default:
		return fmt.Errorf("invalid compression value (%s)", c)
	}
}

func (c *Compression) UnmarshalText(text []byte) error {
	value := Compression(text)
	if err := value.IsValid(); err != nil {
		return err
	}
	*c = value
	return nil
}

// Extension returns the filename suffix the format appends after ".img".
func (c Compression) Extension() string {
	switch c {
	case CompressionXz:
		return ".xz"
	case CompressionZstd:
		return ".zst"
	case CompressionGzip:
		return ".gz"
	default:
		return ""
	}
}

func compressWorkers() int {
	workers := runtime.NumCPU()
	if workers < 1 {
		workers = 1
	}
	if workers > 32 {
		workers = 32
	}
	return workers
}

// CompressImage compresses (or plainly copies, for CompressionNone) the raw
// image into the output file.
func CompressImage(compression Compression, fromPath string, toPath string) error {
	if compression == CompressionNone {
		logger.Log.Infof("Not compressing the raw image as instructed, copying it to (%s)", toPath)
		err := file.Copy(fromPath, toPath)
		if err != nil {
			return fmt.Errorf("failed to copy the raw image:\n%w", err)
		}
		return nil
	}

	from, err := os.Open(fromPath)
	if err != nil {
		return fmt.Errorf("failed to open the raw image (%s):\n%w", fromPath, err)
	}
	defer from.Close()

	to, err := os.OpenFile(toPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("failed to create the output file (%s):\n%w", toPath, err)
	}
	defer to.Close()

	logger.Log.Infof("Compressing the raw image to (%s) using %s", toPath, compression)
	start := time.Now()
	err = compressStream(compression, from, to)
	if err != nil {
		return fmt.Errorf("failed to compress the raw image:\n%w", err)
	}
	logger.Log.Infof("Compression finished in %.2f seconds", time.Since(start).Seconds())
	return nil
}

func compressStream(compression Compression, from io.Reader, to io.Writer) error {
	workers := compressWorkers()

	switch compression {
	case CompressionXz:
		// The xz writer is single-stream; there is no worker pool to size.
		writer, err := xz.NewWriter(to)
		if err != nil {
			return err
		}
		_, err = io.Copy(writer, from)
		if err != nil {
			return err
		}
		return writer.Close()

	case CompressionZstd:
		logger.Log.Infof("Using %d workers for compression", workers)
		writer, err := zstd.NewWriter(to,
			zstd.WithEncoderLevel(zstd.SpeedBestCompression),
			zstd.WithEncoderConcurrency(workers))
		if err != nil {
			return err
		}
		_, err = io.Copy(writer, from)
		if err != nil {
			writer.Close()
			return err
		}
		return writer.Close()

	case CompressionGzip:
		logger.Log.Infof("Using %d workers for compression", workers)
		writer, err := pgzip.NewWriterLevel(to, pgzip.BestCompression)
		if err != nil {
			return err
		}
		err = writer.SetConcurrency(compressBufferSize, workers)
		if err != nil {
			return err
		}
		_, err = io.Copy(writer, from)
		if err != nil {
			writer.Close()
			return err
		}
		return writer.Close()

	default:
		return fmt.Errorf("invalid compression value (%s)", compression)
	}
}

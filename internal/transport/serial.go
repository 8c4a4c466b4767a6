package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/tarm/serial"
)

type SerialConfig struct {
	Device      string
	Baud        int
	ReadTimeout time.Duration
}

func DefaultSerialConfig() SerialConfig {
	return SerialConfig{
		Device: "/dev/ttyACM0",
		Baud:   115200,
	}
}

// OpenSerial returns a Stream whose Connect opens the serial device. The
// device path is the transport id.
func OpenSerial(cfg SerialConfig) (*Stream, error) {
	if strings.TrimSpace(cfg.Device) == "" {
		return nil, fmt.Errorf("transport: serial device required")
	}
	if cfg.Baud <= 0 {
		cfg.Baud = DefaultSerialConfig().Baud
	}
	open := func(ctx context.Context) (io.ReadWriteCloser, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		port, err := serial.OpenPort(&serial.Config{
			Name:        cfg.Device,
			Baud:        cfg.Baud,
			ReadTimeout: cfg.ReadTimeout,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to open serial port %s: %w", cfg.Device, err)
		}
		if cfg.ReadTimeout > 0 {
			return idleReader{port}, nil
		}
		return port, nil
	}
	return NewStream(cfg.Device, open), nil
}

// idleReader retries reads that expire without data. With a read timeout
// set, tarm/serial reports an idle line as (0, io.EOF); a closed or unplugged
// port fails with a different error.
type idleReader struct {
	io.ReadWriteCloser
}

func (r idleReader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	for {
		n, err := r.ReadWriteCloser.Read(p)
		if n == 0 && errors.Is(err, io.EOF) {
			continue
		}
		return n, err
	}
}

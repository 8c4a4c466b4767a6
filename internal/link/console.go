package link

import (
	"bytes"
	"strings"
	"sync"

	"github.com/danmuck/crtplink/internal/logging"
	"github.com/danmuck/crtplink/internal/protocol/crtp"
)

// maxConsoleBuffer bounds a line that never terminates.
const maxConsoleBuffer = 1024

// Console assembles the device's console text into lines.
type Console struct {
	mu     sync.Mutex
	buf    bytes.Buffer
	onLine func(line string)
}

func NewConsole(onLine func(line string)) *Console {
	return &Console{onLine: onLine}
}

func (c *Console) HandlePacket(p crtp.Packet) error {
	if p.Channel != 0 {
		return nil
	}
	c.mu.Lock()
	c.buf.Write(p.Payload)
	var lines []string
	for {
		i := bytes.IndexByte(c.buf.Bytes(), '\n')
		if i < 0 {
			break
		}
		line := string(c.buf.Next(i + 1))
		lines = append(lines, strings.TrimRight(line, "\r\n"))
	}
	if c.buf.Len() > maxConsoleBuffer {
		lines = append(lines, c.buf.String())
		c.buf.Reset()
	}
	if c.buf.Len() == 0 {
		c.buf.Reset()
	}
	onLine := c.onLine
	c.mu.Unlock()

	for _, line := range lines {
		logging.Infof("CF: %s", line)
		if onLine != nil {
			onLine(line)
		}
	}
	return nil
}

// Pending returns text received without a trailing newline.
func (c *Console) Pending() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buf.String()
}

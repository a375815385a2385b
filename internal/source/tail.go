package source

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

// DefaultPollInterval is the wait between two growth checks.
const DefaultPollInterval = 500 * time.Millisecond

// FileTail reads the existing content of a file once, then polls it for
// appended lines.
type FileTail struct {
	path     string
	interval time.Duration

	file    *os.File
	reader  *bufio.Reader
	offset  int64
	pending string
	started bool
}

func NewFileTail(path string, interval time.Duration) *FileTail {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &FileTail{path: path, interval: interval}
}

func (t *FileTail) Delay() time.Duration { return t.interval }

func (t *FileTail) Next(ctx context.Context) ([]Item, error) {
	if !t.started {
		return t.open()
	}

	info, err := os.Stat(t.path)
	if err != nil {
		return []Item{notice(fmt.Sprintf("[ERROR] Monitored file disappeared: %s", t.path))},
			fmt.Errorf("%w: %s: %v", ErrSourceGone, t.path, err)
	}

	var items []Item
	current, err := t.file.Stat()
	if err != nil || !os.SameFile(info, current) || info.Size() < t.offset {
		items = append(items, notice("[WARNING] Log file truncated. Restarting read."))
		if err := t.restart(); err != nil {
			return items, err
		}
	}

	if info.Size() > t.offset {
		lines, err := t.readAvailable(ctx, false)
		for _, l := range lines {
			items = append(items, line(l))
		}
		if err != nil {
			return items, err
		}
	}
	return items, nil
}

func (t *FileTail) open() ([]Item, error) {
	f, err := os.Open(t.path)
	if err != nil {
		if os.IsNotExist(err) {
			return []Item{notice(fmt.Sprintf("[ERROR] File not found: %s", t.path))},
				fmt.Errorf("%w: %s", ErrSourceGone, t.path)
		}
		return []Item{notice(fmt.Sprintf("[ERROR] Cannot open %s: %v", t.path, err))},
			fmt.Errorf("%w: %v", ErrSourceGone, err)
	}
	t.file = f
	t.reader = bufio.NewReader(f)
	t.started = true

	backlog, err := t.readAvailable(context.Background(), true)
	if err != nil {
		return nil, err
	}

	items := make([]Item, 0, len(backlog)+2)
	if len(backlog) > 0 {
		items = append(items, notice(fmt.Sprintf("[INFO] Processing %d historical lines...", len(backlog))))
		for _, l := range backlog {
			items = append(items, line(l))
		}
	}
	items = append(items, notice(fmt.Sprintf("[INFO] Monitoring %s started. Awaiting new entries.", t.path)))
	return items, nil
}

// readAvailable reads up to EOF. A trailing line without newline is held
// back until it is completed, except when flush is set.
func (t *FileTail) readAvailable(ctx context.Context, flush bool) ([]string, error) {
	var lines []string
	for {
		if ctx.Err() != nil {
			return lines, nil
		}
		chunk, err := t.reader.ReadString('\n')
		t.offset += int64(len(chunk))
		if err == nil {
			lines = appendLine(lines, t.pending+chunk)
			t.pending = ""
			continue
		}
		if err == io.EOF {
			t.pending += chunk
			if flush && t.pending != "" {
				lines = appendLine(lines, t.pending)
				t.pending = ""
			}
			return lines, nil
		}
		return lines, fmt.Errorf("%w: read %s: %v", ErrSourceGone, t.path, err)
	}
}

func (t *FileTail) restart() error {
	if t.file != nil {
		t.file.Close()
	}
	f, err := os.Open(t.path)
	if err != nil {
		return fmt.Errorf("%w: reopen %s: %v", ErrSourceGone, t.path, err)
	}
	t.file = f
	t.reader = bufio.NewReader(f)
	t.offset = 0
	t.pending = ""
	return nil
}

func (t *FileTail) Close() error {
	if t.file == nil {
		return nil
	}
	err := t.file.Close()
	t.file = nil
	return err
}

func appendLine(lines []string, raw string) []string {
	if s := strings.TrimSpace(raw); s != "" {
		return append(lines, s)
	}
	return lines
}

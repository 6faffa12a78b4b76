package cmd

import (
	"errors"
	"fmt"
	"io"
	"io/fs"

	"github.com/charmbracelet/lipgloss"

	"github.com/zjrosen/chunkrun/internal/output"
)

var (
	stderrStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF8787"))
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#BBBBBB"))
)

// recordPrinter writes decoded cache records to a terminal, styling stderr.
type recordPrinter struct {
	out     io.Writer
	printed int
}

func (p *recordPrinter) print(r output.Record) {
	if r.Kind == output.Stderr {
		_, _ = fmt.Fprint(p.out, stderrStyle.Render(r.Text))
		return
	}
	_, _ = fmt.Fprint(p.out, r.Text)
}

// catchUp prints every record of path not printed yet. A missing file has no
// records. A file shorter than what was printed was reset and is printed
// again from the start.
func (p *recordPrinter) catchUp(path string) error {
	records, err := output.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if len(records) < p.printed {
		p.printed = 0
	}
	for _, r := range records[p.printed:] {
		p.print(r)
	}
	p.printed = len(records)
	return nil
}

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"golang.org/x/term"
)

const (
	outputAuto  = "auto"
	outputTable = "table"
	outputJSON  = "json"
)

// jsonOutput reports whether results should be printed as JSON. In auto mode
// anything that is not an interactive terminal gets JSON.
func (c *cli) jsonOutput() (bool, error) {
	switch strings.ToLower(strings.TrimSpace(c.output)) {
	case outputJSON:
		return true, nil
	case outputTable:
		return false, nil
	case "", outputAuto:
		f, ok := c.out.(*os.File)
		return !ok || !term.IsTerminal(int(f.Fd())), nil
	default:
		return false, fmt.Errorf("unknown output format %q", c.output)
	}
}

// render prints v as JSON or hands a table writer to table.
func (c *cli) render(v any, table func(w io.Writer)) error {
	asJSON, err := c.jsonOutput()
	if err != nil {
		return err
	}
	if asJSON {
		enc := json.NewEncoder(c.out)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	tw := tabwriter.NewWriter(c.out, 0, 0, 2, ' ', 0)
	table(tw)
	return tw.Flush()
}

func row(w io.Writer, cells ...any) {
	parts := make([]string, len(cells))
	for i, cell := range cells {
		parts[i] = fmt.Sprint(cell)
	}
	fmt.Fprintln(w, strings.Join(parts, "\t"))
}

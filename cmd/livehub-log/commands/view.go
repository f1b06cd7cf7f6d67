// Package commands implements the livehub-log subcommands.
package commands

import (
	"fmt"
	"io"

	"github.com/opsboard/livehub-go/pkg/log"
)

// RunView prints the events of path that match filter, one per line.
func RunView(path string, filter log.Filter, w io.Writer) (int, error) {
	n, err := log.Scan(path, filter, func(event log.Event) error {
		_, err := fmt.Fprintln(w, log.Format(event))
		return err
	})
	if err != nil {
		return n, fmt.Errorf("view %s: %w", path, err)
	}
	return n, nil
}

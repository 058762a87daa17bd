// Command copilot serves the clinical analytics SQL copilot over HTTP.
package main

import (
	"fmt"
	"os"

	"github.com/kcmh-his/sql-copilot/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

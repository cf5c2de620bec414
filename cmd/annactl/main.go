// Command annactl is the command-line front-end for annad.
package main

import (
	"fmt"
	"os"

	"github.com/jjgarcianorway/anna/internal/annactl"
)

func main() {
	if err := annactl.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

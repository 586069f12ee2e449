// GiCOPS - peptide-spectrum matching search engine
package main

import (
	"fmt"
	"os"

	"github.com/pcdslab/gicops/cmd/gicops/cmd"
	pkgerrors "github.com/pcdslab/gicops/pkg/errors"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(pkgerrors.ExitCode(err))
	}
}

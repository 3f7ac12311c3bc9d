// Inspect verifies that an audit sink can be attached at a data directory,
// printing where audit records will land. Handy when debugging permission
// problems on deployed state directories.
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"trestle/pkg/logger"
	"trestle/pkg/state"
)

func main() {
	var dataDir string
	flag.StringVar(&dataDir, "data", "", "trestle data directory to check")
	flag.Parse()
	if dataDir == "" {
		fmt.Fprintln(os.Stderr, "--data required")
		os.Exit(2)
	}
	logger.Init()
	auditDir := state.AuditPath(dataDir)
	if err := logger.AttachAuditFileSink(auditDir); err != nil {
		fmt.Fprintf(os.Stdout, "audit sink attach failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Fprintf(os.Stdout, "audit sink ok; records land in %s\n", filepath.Join(auditDir, "audit.log"))
}

// Command fame-agent is the process that runs inside a disposable VM and
// answers the six-endpoint protocol: receive a module, run it against one
// staged target file, and report results.
package main

import (
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"

	"github.com/fame/core/internal/agent"
	"github.com/fame/core/internal/agentexec"
)

func main() {
	addr := flag.String("listen", ":8080", "address to listen on")
	scratchDir := flag.String("scratch-dir", "", "directory for staged target files and module binaries (defaults to a temp dir)")
	flag.Parse()

	dir := *scratchDir
	if dir == "" {
		d, err := os.MkdirTemp("", "fame-agent-")
		if err != nil {
			log.Fatalf("fame-agent: create scratch dir: %v", err)
		}
		dir = d
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		log.Fatalf("fame-agent: scratch dir %s: %v", dir, err)
	}

	runner := agentexec.NewRunner(dir)
	srv := agent.NewServer(filepath.Join(dir, "tasks"), runner)

	fmt.Printf("fame-agent listening on %s (scratch: %s)\n", *addr, dir)
	if err := http.ListenAndServe(*addr, srv); err != nil {
		log.Fatalf("fame-agent: %v", err)
	}
}

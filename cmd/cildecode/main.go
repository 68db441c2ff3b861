// cildecode rewrites the encoded string constants of a protected CIL
// module back into literal loads.
//
// Usage: cildecode [path]
//
// Without a path it prompts for one on standard input. The decoded module
// is written next to the input with "-decoded" inserted before the
// extension unless cildecode.toml says otherwise.
package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/chazu/cildecode/deobf"
	"github.com/chazu/cildecode/manifest"
	"github.com/chazu/cildecode/pkg/image"
	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"
)

func main() {
	if err := run(os.Args[1:], os.Stdin, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, stdin io.Reader, stdout io.Writer) error {
	path, err := inputPath(args, stdin, stdout)
	if err != nil {
		return err
	}

	m, err := manifest.FindAndLoad(filepath.Dir(path))
	if err != nil {
		return err
	}
	commonlog.Configure(m.Log.Verbosity, nil)

	opts, err := m.Options()
	if err != nil {
		return err
	}

	mod, err := image.ReadFile(path)
	if err != nil {
		return err
	}
	report, err := deobf.Run(mod, opts)
	if err != nil {
		return err
	}

	out := m.OutputPath(path)
	if err := image.WriteFile(out, mod); err != nil {
		return err
	}

	for _, site := range report.Sites {
		if !site.Patched() {
			fmt.Fprintf(stdout, "skipped %s\n", site)
		}
	}
	fmt.Fprintf(stdout, "Decoded %d of %d constants (%d skipped) -> %s\n",
		report.Patched, report.Matches, report.Skipped, out)
	return nil
}

// inputPath takes the first argument or, failing that, one line read
// after a "Path: " prompt.
func inputPath(args []string, stdin io.Reader, stdout io.Writer) (string, error) {
	if len(args) > 0 {
		return args[0], nil
	}
	fmt.Fprint(stdout, "Path: ")
	line, err := bufio.NewReader(stdin).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	// Paths dropped onto a terminal arrive quoted.
	path := strings.Trim(strings.TrimSpace(line), `"'`)
	if path == "" {
		return "", errors.New("no input path given")
	}
	return path, nil
}

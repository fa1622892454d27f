package main

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"

	"github.com/0xRadioAc7iv/go-akvdb/internal"
	"github.com/0xRadioAc7iv/go-akvdb/internal/utils"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

// run returns instead of exiting so the deferred Close always syncs the
// data file.
func run(args []string, in io.Reader, out, errOut io.Writer) int {
	cfg := internal.DefaultConfig()

	fs := flag.NewFlagSet("akvdb-cli", flag.ContinueOnError)
	fs.SetOutput(errOut)
	fs.StringVar(&cfg.Path, "file", internal.DEFAULT_PATH, "Data file to open (created if missing)")
	cfg.BindFlags(fs)
	if err := fs.Parse(args); err != nil {
		return 2
	}

	logger, err := utils.NewLogger(cfg.Verbose)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	defer logger.Sync()

	existed := utils.PathExists(cfg.Path)

	store, err := cfg.OpenStore(logger)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	defer store.Close()

	if err := store.Load(); err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}

	if existed {
		fmt.Fprintf(out, "Opened %s (%d keys)\n", cfg.Path, store.Len())
	} else {
		fmt.Fprintf(out, "Created %s\n", cfg.Path)
	}
	fmt.Fprintln(out, "Type commands. 'help' for information or 'exit' to quit.")

	repl(&shell{store: store}, in, out)

	if err := store.Close(); err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	return 0
}

func repl(sh *shell, in io.Reader, out io.Writer) {
	reader := bufio.NewReader(in)

	for {
		fmt.Fprint(out, "> ")

		line, err := reader.ReadString('\n')
		if err != nil {
			if !errors.Is(err, io.EOF) {
				fmt.Fprintln(out, "input error:", err)
			}
			return
		}

		line = strings.TrimSpace(line)

		if line == "" {
			continue
		}

		if line == "exit" {
			return
		}

		cmd, args, err := utils.SplitStringIntoCommandAndArguments(line)
		if err != nil {
			color.New(color.FgRed).Fprintln(out, "parse error:", err)
			continue
		}

		resp, err := sh.Execute(cmd, args)
		if err != nil {
			color.New(color.FgRed).Fprintln(out, "error:", err)
			continue
		}

		fmt.Fprintln(out, resp)
	}
}

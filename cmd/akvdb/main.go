// Command akvdb runs a single operation against an encrypted store file.
//
// Mutations save a snapshot of the index under the "+index" key, so a
// following get can restore it instead of scanning the whole file.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"go.uber.org/zap"

	"github.com/0xRadioAc7iv/go-akvdb/core"
	"github.com/0xRadioAc7iv/go-akvdb/internal"
	"github.com/0xRadioAc7iv/go-akvdb/internal/secret"
	"github.com/0xRadioAc7iv/go-akvdb/internal/utils"
)

const usage = `Usage:
    akvdb [flags] FILE get KEY
    akvdb [flags] FILE find KEY
    akvdb [flags] FILE delete KEY
    akvdb [flags] FILE insert KEY VALUE
    akvdb [flags] FILE update KEY VALUE
    akvdb keygen

Flags:
`

var (
	errorColor    = color.New(color.FgRed)
	notFoundColor = color.New(color.FgYellow)
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// run executes one command and returns the process exit code: 0 on
// success, 1 when the key is not found or the operation fails, 2 on bad
// usage.
func run(args []string, stdout, stderr io.Writer) int {
	cfg := internal.DefaultConfig()

	fs := flag.NewFlagSet("akvdb", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprint(stderr, usage)
		fs.PrintDefaults()
	}
	cfg.BindFlags(fs)

	if err := fs.Parse(args); err != nil {
		return 2
	}
	args = fs.Args()

	if len(args) == 1 && args[0] == "keygen" {
		_, text, err := secret.GenerateKey()
		if err != nil {
			errorColor.Fprintln(stderr, "error:", err)
			return 1
		}
		fmt.Fprintln(stdout, text)
		return 0
	}

	if len(args) < 3 {
		fs.Usage()
		return 2
	}
	cfg.Path = args[0]
	action, key := args[1], []byte(args[2])

	var value []byte
	switch action {
	case "insert", "update":
		if len(args) < 4 {
			fs.Usage()
			return 2
		}
		value = []byte(args[3])
	case "get", "find", "delete":
	default:
		fs.Usage()
		return 2
	}

	logger, err := utils.NewLogger(cfg.Verbose)
	if err != nil {
		errorColor.Fprintln(stderr, "error:", err)
		return 1
	}
	defer logger.Sync()

	store, err := cfg.OpenStore(logger)
	if err != nil {
		errorColor.Fprintln(stderr, "unable to open file:", err)
		return 1
	}
	defer store.Close()

	switch action {
	case "get":
		value, ok, err := get(store, key, cfg.RecoverTornTail)
		if err != nil {
			errorColor.Fprintln(stderr, "error:", err)
			return 1
		}
		if !ok {
			notFoundColor.Fprintf(stderr, "%q not found\n", key)
			return 1
		}
		fmt.Fprintf(stdout, "%q\n", value)

	case "find":
		offset, value, ok, err := store.Find(key)
		if err != nil {
			errorColor.Fprintln(stderr, "error:", err)
			return 1
		}
		if !ok {
			notFoundColor.Fprintf(stderr, "%q not found\n", key)
			return 1
		}
		fmt.Fprintf(stdout, "%d\t%q\n", offset, value)

	default:
		if err := mutate(store, action, key, value, logger); err != nil {
			errorColor.Fprintln(stderr, "error:", err)
			return 1
		}
	}

	if err := store.Close(); err != nil {
		errorColor.Fprintln(stderr, "error:", err)
		return 1
	}
	return 0
}

// get answers from the saved index snapshot when one exists and falls
// back to a full load otherwise. The snapshot only covers records written
// before it, so everything from the sentinel on is replayed over it.
func get(store *core.Store, key []byte, recoverTornTail bool) ([]byte, bool, error) {
	offset, snapshot, ok, err := store.Find([]byte(core.IndexKey))
	if err != nil {
		// a torn tail hides the snapshot; Load knows how to repair it
		if !recoverTornTail || !errors.Is(err, core.ErrTruncated) {
			return nil, false, err
		}
		ok = false
	}

	if ok {
		kd, err := core.UnmarshalKeyDir(snapshot)
		if err != nil {
			return nil, false, fmt.Errorf("reading %s: %w", core.IndexKey, err)
		}
		store.RestoreKeyDir(kd)
		if err := store.LoadFrom(offset); err != nil {
			return nil, false, fmt.Errorf("unable to load data: %w", err)
		}
	} else if err := store.Load(); err != nil {
		return nil, false, fmt.Errorf("unable to load data: %w", err)
	}

	return store.Get(key)
}

func mutate(store *core.Store, action string, key, value []byte, logger *zap.Logger) error {
	if err := store.Load(); err != nil {
		return fmt.Errorf("unable to load data: %w", err)
	}

	var offset int64
	var err error
	switch action {
	case "insert":
		offset, err = store.Insert(key, value)
	case "update":
		offset, err = store.Update(key, value)
	case "delete":
		offset, err = store.Delete(key)
	default:
		err = errors.New("unknown action " + action)
	}
	if err != nil {
		return err
	}
	logger.Debug("appended record", zap.String("action", action), zap.Int64("offset", offset))

	return storeIndexOnDisk(store)
}

// storeIndexOnDisk appends the current index, minus its own entry, as the
// value of core.IndexKey.
func storeIndexOnDisk(store *core.Store) error {
	kd := store.KeyDir()
	kd.Remove([]byte(core.IndexKey))

	snapshot, err := kd.MarshalBinary()
	if err != nil {
		return err
	}

	store.RestoreKeyDir(core.KeyDir{})
	_, err = store.Insert([]byte(core.IndexKey), snapshot)
	return err
}

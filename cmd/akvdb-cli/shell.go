package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/fatih/color"

	"github.com/0xRadioAc7iv/go-akvdb/core"
)

const helpText = `Commands:
  get KEY             value from the index
  set KEY VALUE       append a new value (alias: insert)
  update KEY VALUE    append a new value
  delete KEY          append an empty value
  exists KEY          whether KEY is indexed
  count               number of indexed keys
  list                all indexed keys
  find KEY            scan the whole file for KEY, ignoring the index
  load                rebuild the index from the file
  help                this text
  exit                quit
Quote keys or values containing spaces: set "my key" "my value"`

func nilReply() string {
	return color.New(color.FgYellow).Sprint("(nil)")
}

type shell struct {
	store *core.Store
}

type command struct {
	args int
	run  func(sh *shell, args []string) (string, error)
}

var commands = map[string]command{
	"get":    {1, (*shell).get},
	"set":    {2, (*shell).insert},
	"insert": {2, (*shell).insert},
	"update": {2, (*shell).update},
	"delete": {1, (*shell).delete},
	"exists": {1, (*shell).exists},
	"count":  {0, (*shell).count},
	"list":   {0, (*shell).list},
	"find":   {1, (*shell).find},
	"load":   {0, (*shell).load},
	"help":   {0, (*shell).help},
}

// Execute runs one shell command and returns its reply.
func (sh *shell) Execute(cmd string, args []string) (string, error) {
	c, ok := commands[cmd]
	if !ok {
		return "", fmt.Errorf("unknown command %q, try 'help'", cmd)
	}
	if len(args) != c.args {
		return "", fmt.Errorf("%s takes %d argument(s), got %d", cmd, c.args, len(args))
	}
	return c.run(sh, args)
}

func (sh *shell) get(args []string) (string, error) {
	value, ok, err := sh.store.Get([]byte(args[0]))
	if err != nil {
		return "", err
	}
	if !ok {
		return nilReply(), nil
	}
	return strconv.Quote(string(value)), nil
}

func (sh *shell) insert(args []string) (string, error) {
	if _, err := sh.store.Insert([]byte(args[0]), []byte(args[1])); err != nil {
		return "", err
	}
	return "OK", nil
}

func (sh *shell) update(args []string) (string, error) {
	if _, err := sh.store.Update([]byte(args[0]), []byte(args[1])); err != nil {
		return "", err
	}
	return "OK", nil
}

func (sh *shell) delete(args []string) (string, error) {
	if _, err := sh.store.Delete([]byte(args[0])); err != nil {
		return "", err
	}
	return "OK", nil
}

func (sh *shell) exists(args []string) (string, error) {
	_, ok := sh.store.KeyDir().Lookup([]byte(args[0]))
	return strconv.FormatBool(ok), nil
}

func (sh *shell) count([]string) (string, error) {
	return strconv.Itoa(sh.store.Len()), nil
}

func (sh *shell) list([]string) (string, error) {
	keys := sh.store.KeyDir().Keys()
	if len(keys) == 0 {
		return "(empty)", nil
	}

	var b strings.Builder
	for i, key := range keys {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%d) %q", i+1, key)
	}
	return b.String(), nil
}

func (sh *shell) find(args []string) (string, error) {
	offset, value, ok, err := sh.store.Find([]byte(args[0]))
	if err != nil {
		return "", err
	}
	if !ok {
		return nilReply(), nil
	}
	return fmt.Sprintf("%q (offset %d)", value, offset), nil
}

func (sh *shell) load([]string) (string, error) {
	if err := sh.store.Load(); err != nil {
		if errors.Is(err, core.ErrTruncated) {
			return "", fmt.Errorf("%w (restart with -recover to drop the partial record)", err)
		}
		return "", err
	}
	return fmt.Sprintf("OK (%d keys)", sh.store.Len()), nil
}

func (sh *shell) help([]string) (string, error) {
	return helpText, nil
}

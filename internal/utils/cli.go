package utils

import (
	"errors"
	"strings"

	"github.com/kballard/go-shellquote"
)

var ErrEmptyCommand = errors.New("empty command")

// SplitStringIntoCommandAndArguments splits a shell line into a lowercase
// command and its arguments. Quoting and escaping follow POSIX sh, so keys
// and values may contain spaces: set "my key" 'a value'.
func SplitStringIntoCommandAndArguments(line string) (string, []string, error) {
	words, err := shellquote.Split(line)
	if err != nil {
		return "", nil, err
	}
	if len(words) == 0 {
		return "", nil, ErrEmptyCommand
	}
	return strings.ToLower(words[0]), words[1:], nil
}

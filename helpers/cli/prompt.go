package cli

import (
	"bufio"
	"context"
	"io"
	"os"
	"strings"

	"github.com/c-bata/go-prompt"
	"github.com/mattn/go-isatty"
)

// MainLoop feeds lines to exec until input ends or ctx is done.
// Interactive terminal gets go-prompt with completion, pipes are read line by line.
func MainLoop(ctx context.Context, tag string, exec func(line string), complete func(d prompt.Document) []prompt.Suggest) error {
	if isatty.IsTerminal(os.Stdin.Fd()) {
		done := make(chan struct{})
		go func() {
			defer close(done)
			prompt.New(exec, complete,
				prompt.OptionTitle(tag),
				prompt.OptionPrefix(tag+"> "),
			).Run()
		}()
		select {
		case <-ctx.Done():
		case <-done:
		}
		return nil
	}
	return ReadLines(ctx, os.Stdin, exec)
}

func ReadLines(ctx context.Context, r io.Reader, exec func(line string)) error {
	scanner := bufio.NewScanner(r)
	for ctx.Err() == nil && scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			exec(line)
		}
	}
	return scanner.Err()
}

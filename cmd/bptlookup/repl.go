package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/chzyer/readline"
	"github.com/fatih/color"

	"github.com/KevoDB/bpt/pkg/bpt"
)

// Command completer for readline
var completer = readline.NewPrefixCompleter(
	readline.PcItem(".help"),
	readline.PcItem(".open"),
	readline.PcItem(".close"),
	readline.PcItem(".info"),
	readline.PcItem(".exit"),
	readline.PcItem("GET"),
	readline.PcItem("MULTI"),
	readline.PcItem("AT"),
	readline.PcItem("SCAN"),
)

const helpText = `
bptlookup - interactive B+ tree index shell

Commands:
  .help                   - Show this help message
  .open PATH              - Open the index at PATH
  .close                  - Close the current index
  .info                   - Show the index header and lookup statistics
  .exit                   - Exit the program

  GET key                 - Look up the first value stored under key
  MULTI key               - Look up every value stored under key
  AT pos                  - Show the key at position pos (0-based)
  SCAN [limit]            - List keys and values in order, up to limit
`

var errScanLimit = errors.New("scan limit reached")

var (
	okColor   = color.New(color.FgGreen)
	warnColor = color.New(color.FgYellow)
	errColor  = color.New(color.FgRed)
)

// shell holds the state of an interactive session
type shell struct {
	idx     *bpt.Index
	path    string
	valSize int // 0 uses the file's value size
	opts    []bpt.Option
	out     io.Writer
	errOut  io.Writer
}

func newShell(valSize int, opts []bpt.Option, out, errOut io.Writer) *shell {
	return &shell{
		valSize: valSize,
		opts:    opts,
		out:     out,
		errOut:  errOut,
	}
}

func (s *shell) prompt() string {
	if s.path != "" {
		return fmt.Sprintf("bpt:%s> ", filepath.Base(s.path))
	}
	return "bpt> "
}

func (s *shell) close() {
	if s.idx != nil {
		s.idx.Close()
		s.idx = nil
		s.path = ""
	}
}

func (s *shell) lookupSize() int {
	if s.valSize > 0 {
		return s.valSize
	}
	return s.idx.ValSize()
}

func (s *shell) errorf(format string, args ...interface{}) {
	errColor.Fprintf(s.errOut, "Error: "+format+"\n", args...)
}

// execute runs one command line and reports whether the session should end
func (s *shell) execute(line string) bool {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return false
	}
	cmd := strings.ToUpper(parts[0])

	// Special dot commands
	if strings.HasPrefix(cmd, ".") {
		switch strings.ToLower(cmd) {
		case ".help":
			fmt.Fprint(s.out, helpText)

		case ".open":
			if len(parts) < 2 {
				s.errorf("Missing path argument")
				return false
			}
			s.close()

			idx, err := bpt.Open(parts[1], s.opts...)
			if err != nil {
				s.errorf("opening index: %v", err)
				return false
			}
			s.idx = idx
			s.path = parts[1]
			okColor.Fprintf(s.out, "Index opened at %s (%d items)\n", s.path, idx.ItemCount())

		case ".close":
			if s.idx == nil {
				fmt.Fprintln(s.out, "No index open")
				return false
			}
			path := s.path
			s.close()
			fmt.Fprintf(s.out, "Index %s closed\n", path)

		case ".info":
			if s.idx == nil {
				fmt.Fprintln(s.out, "No index open")
				return false
			}
			if err := printInfo(s.out, s.idx); err != nil {
				s.errorf("%v", err)
			}

		case ".exit":
			s.close()
			fmt.Fprintln(s.out, "Goodbye!")
			return true

		default:
			s.errorf("Unknown command %s", parts[0])
		}
		return false
	}

	if s.idx == nil {
		s.errorf("No index open, use .open PATH")
		return false
	}

	switch cmd {
	case "GET":
		if len(parts) != 2 {
			s.errorf("GET requires a key")
			return false
		}
		val, found, err := s.idx.Find([]byte(parts[1]), s.lookupSize())
		if err != nil {
			s.errorf("%v", err)
			return false
		}
		if !found {
			warnColor.Fprintf(s.out, "%s not found\n", parts[1])
			return false
		}
		fmt.Fprintln(s.out, formatValue(s.idx, val))

	case "MULTI":
		if len(parts) != 2 {
			s.errorf("MULTI requires a key")
			return false
		}
		vals, err := s.idx.FindMultiple([]byte(parts[1]), s.lookupSize())
		if err != nil {
			s.errorf("%v", err)
			return false
		}
		if len(vals) == 0 {
			warnColor.Fprintf(s.out, "%s not found\n", parts[1])
			return false
		}
		for _, val := range vals {
			fmt.Fprintln(s.out, formatValue(s.idx, val))
		}
		okColor.Fprintf(s.out, "%d values\n", len(vals))

	case "AT":
		if len(parts) != 2 {
			s.errorf("AT requires a position")
			return false
		}
		pos, err := strconv.ParseUint(parts[1], 10, 64)
		if err != nil {
			s.errorf("invalid position %q", parts[1])
			return false
		}
		key, err := s.idx.KeyAtPos(pos)
		if err != nil {
			s.errorf("%v", err)
			return false
		}
		fmt.Fprintln(s.out, formatKey(key))

	case "SCAN":
		limit := -1
		if len(parts) > 1 {
			n, err := strconv.Atoi(parts[1])
			if err != nil || n < 0 {
				s.errorf("invalid limit %q", parts[1])
				return false
			}
			limit = n
		}
		s.scan(limit)

	default:
		s.errorf("Unknown command %s", parts[0])
	}
	return false
}

func (s *shell) scan(limit int) {
	count := 0
	err := s.idx.Traverse(func(key, val []byte) error {
		if limit >= 0 && count >= limit {
			return errScanLimit
		}
		fmt.Fprintf(s.out, "%s\t%s\n", formatKey(key), formatValue(s.idx, val))
		count++
		return nil
	})
	if err != nil && !errors.Is(err, errScanLimit) {
		s.errorf("%v", err)
		return
	}
	okColor.Fprintf(s.out, "%d entries\n", count)
}

// runInteractive reads commands until .exit or end of input
func runInteractive(sh *shell, stdin io.Reader) error {
	fmt.Fprintln(sh.out, "Enter .help for usage hints.")

	historyFile := filepath.Join(os.TempDir(), ".bptlookup_history")
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          sh.prompt(),
		HistoryFile:     historyFile,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
		AutoComplete:    completer,
		Stdin:           io.NopCloser(stdin),
		Stdout:          sh.out,
		Stderr:          sh.errOut,
	})
	if err != nil {
		return fmt.Errorf("initializing readline: %w", err)
	}
	defer rl.Close()

	for {
		rl.SetPrompt(sh.prompt())

		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			if len(line) == 0 {
				return nil
			}
			continue
		}
		if err == io.EOF {
			fmt.Fprintln(sh.out, "Goodbye!")
			return nil
		}
		if err != nil {
			return fmt.Errorf("reading input: %w", err)
		}

		if sh.execute(line) {
			return nil
		}
	}
}

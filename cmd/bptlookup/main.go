package main

import (
	"bufio"
	"context"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"
	"unicode"

	"github.com/fatih/color"

	"github.com/KevoDB/bpt/pkg/bpt"
	"github.com/KevoDB/bpt/pkg/common/log"
	"github.com/KevoDB/bpt/pkg/config"
	"github.com/KevoDB/bpt/pkg/storage"
	"github.com/KevoDB/bpt/pkg/telemetry"
)

// Process exit codes
const (
	exitFound      = 0
	exitError      = 1
	exitNotFound   = 2
	exitFormat     = 3
	exitSizeMisfit = 4
)

// defaultValSize is the value width the one-shot lookup decodes as a number
const defaultValSize = 8

const usageText = `bptlookup - look up keys in a B+ tree index file

Usage:
  bptlookup [options] index.bpt searchString   - Print the value stored under searchString
  bptlookup [options] -dump index.bpt          - Print every key and value in order
  bptlookup [options] -info index.bpt          - Print the index header and checksum
  bptlookup [options] -batch keys.txt index.bpt
  bptlookup [options] -i [index.bpt]           - Start an interactive shell
  bptlookup [options] -server index.bpt        - Serve the index over gRPC

Exit status is 0 when the key is found, 2 when it is not, 3 for a
corrupt index, 4 when -val-size does not match the file and 1 otherwise.

Options:
`

// Options holds the parsed command line
type Options struct {
	ConfigFile  string
	ValSize     int
	Mmap        bool
	Multi       bool
	Dump        bool
	Info        bool
	BatchFile   string
	Concurrency int
	Interactive bool
	ServerMode  bool
	ListenAddr  string
	LogLevel    string
	LogFile     string

	Args []string

	// set records which flags were given explicitly
	set map[string]bool
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

// run executes the command line and returns the process exit code
func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	opts, err := parseFlags(args, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitFound
		}
		return exitError
	}

	cfg, err := loadConfig(opts)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitError
	}

	logger := log.NewStandardLogger(append(cfg.LoggerOptions(), log.WithOutput(stderr))...)
	defer logger.Sync()
	log.SetDefaultLogger(logger)

	tel, err := telemetry.New(cfg.Telemetry)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitError
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		tel.Shutdown(ctx)
	}()

	indexOpts := []bpt.Option{
		bpt.WithMode(cfg.Mode()),
		bpt.WithLogger(logger),
		bpt.WithTelemetry(tel),
	}

	if opts.Interactive {
		sh := newShell(cfg.ValSize, indexOpts, stdout, stderr)
		defer sh.close()
		if cfg.IndexPath != "" {
			sh.execute(".open " + cfg.IndexPath)
		}
		if err := runInteractive(sh, stdin); err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return exitError
		}
		return exitFound
	}

	if cfg.IndexPath == "" {
		fmt.Fprintln(stderr, "Error: an index file is required")
		return exitError
	}

	idx, err := bpt.Open(cfg.IndexPath, indexOpts...)
	if err != nil {
		fmt.Fprintf(stderr, "Error opening index: %v\n", err)
		return exitCode(err)
	}
	defer idx.Close()

	switch {
	case opts.ServerMode:
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		if err := runServer(ctx, cfg, idx, tel, logger, stdout); err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return exitError
		}
		return exitFound

	case opts.Info:
		if err := printInfo(stdout, idx); err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return exitCode(err)
		}
		return exitFound

	case opts.Dump:
		return dump(idx, stdout, stderr)

	case opts.BatchFile != "":
		return batch(idx, opts.BatchFile, valSizeFor(cfg), cfg.Concurrency, stdout, stderr)
	}

	if len(opts.Args) != 2 {
		fmt.Fprintln(stderr, "Error: expected index file and search string")
		return exitError
	}
	key := []byte(opts.Args[1])
	valSize := valSizeFor(cfg)

	if opts.Multi {
		vals, err := idx.FindMultiple(key, valSize)
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return exitCode(err)
		}
		if len(vals) == 0 {
			fmt.Fprintf(stderr, "%s not found\n", key)
			return exitNotFound
		}
		for _, val := range vals {
			fmt.Fprintln(stdout, formatValue(idx, val))
		}
		return exitFound
	}

	val, found, err := idx.Find(key, valSize)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitCode(err)
	}
	if !found {
		fmt.Fprintf(stderr, "%s not found\n", key)
		return exitNotFound
	}
	fmt.Fprintln(stdout, formatValue(idx, val))
	return exitFound
}

// parseFlags parses args into Options
func parseFlags(args []string, stderr io.Writer) (*Options, error) {
	fs := flag.NewFlagSet("bptlookup", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprint(fs.Output(), usageText)
		fs.PrintDefaults()
	}

	opts := &Options{}
	fs.StringVar(&opts.ConfigFile, "config", "", "Configuration file (JSON or YAML)")
	fs.IntVar(&opts.ValSize, "val-size", defaultValSize, "Expected value size in bytes; values not 8 bytes wide print as hex")
	fs.BoolVar(&opts.Mmap, "mmap", false, "Memory-map the index file")
	fs.BoolVar(&opts.Multi, "multi", false, "Print every value stored under the key")
	fs.BoolVar(&opts.Dump, "dump", false, "Print all keys and values in order")
	fs.BoolVar(&opts.Info, "info", false, "Print the index header")
	fs.StringVar(&opts.BatchFile, "batch", "", "Look up each key in file, one per line")
	fs.IntVar(&opts.Concurrency, "concurrency", 8, "Concurrent lookups in batch mode")
	fs.BoolVar(&opts.Interactive, "i", false, "Start an interactive shell")
	fs.BoolVar(&opts.ServerMode, "server", false, "Serve the index over gRPC")
	fs.StringVar(&opts.ListenAddr, "address", "localhost:50051", "Address to listen on in server mode")
	fs.StringVar(&opts.LogLevel, "log-level", "warn", "Log level (debug, info, warn, error)")
	fs.StringVar(&opts.LogFile, "log-file", "", "Write logs to a rotating file")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	opts.Args = fs.Args()
	opts.set = make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { opts.set[f.Name] = true })
	return opts, nil
}

// loadConfig builds the effective configuration: defaults, then the config
// file, then BPT_* variables, then explicit flags.
func loadConfig(opts *Options) (*config.Config, error) {
	cfg := config.NewDefaultConfig("")
	if opts.ConfigFile != "" {
		loaded, err := config.Load(opts.ConfigFile)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	} else {
		// Lookups are quiet unless asked otherwise
		cfg.LogLevel = opts.LogLevel
	}
	cfg.LoadFromEnv()

	if len(opts.Args) > 0 {
		cfg.IndexPath = opts.Args[0]
	}
	if opts.set["val-size"] {
		cfg.ValSize = opts.ValSize
	}
	if opts.Mmap {
		cfg.StorageMode = string(storage.ModeMmap)
	}
	if opts.set["concurrency"] {
		cfg.Concurrency = opts.Concurrency
	}
	if opts.set["address"] {
		cfg.ListenAddr = opts.ListenAddr
	}
	if opts.set["log-level"] {
		cfg.LogLevel = opts.LogLevel
	}
	if opts.set["log-file"] {
		cfg.LogFile = opts.LogFile
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// valSizeFor returns the value size one-shot lookups ask for
func valSizeFor(cfg *config.Config) int {
	if cfg.ValSize > 0 {
		return cfg.ValSize
	}
	return defaultValSize
}

// exitCode maps an error to the process exit status
func exitCode(err error) int {
	switch {
	case err == nil:
		return exitFound
	case errors.Is(err, bpt.ErrFormat):
		return exitFormat
	case errors.Is(err, bpt.ErrSizeMismatch):
		return exitSizeMisfit
	default:
		return exitError
	}
}

// formatValue prints 8-byte values as numbers and anything else as hex
func formatValue(idx *bpt.Index, val []byte) string {
	if n, err := idx.Uint64(val); err == nil {
		return fmt.Sprintf("%d", n)
	}
	return hex.EncodeToString(val)
}

// formatKey trims padding and falls back to hex for binary keys
func formatKey(key []byte) string {
	s := strings.TrimRight(string(key), "\x00")
	for _, r := range s {
		if !unicode.IsPrint(r) {
			return hex.EncodeToString(key)
		}
	}
	return s
}

func printInfo(w io.Writer, idx *bpt.Index) error {
	sum, err := idx.Checksum()
	if err != nil {
		return err
	}

	hdr := idx.Header()
	fmt.Fprintf(w, "Index:      %s\n", idx.Name())
	fmt.Fprintf(w, "Byte order: %s\n", hdr.Order)
	fmt.Fprintf(w, "Block size: %d\n", hdr.BlockSize)
	fmt.Fprintf(w, "Key size:   %d\n", hdr.KeySize)
	fmt.Fprintf(w, "Value size: %d\n", hdr.ValSize)
	fmt.Fprintf(w, "Items:      %d\n", hdr.ItemCount)
	fmt.Fprintf(w, "Checksum:   %016x\n", sum)

	stats := idx.Stats()
	names := make([]string, 0, len(stats))
	for name, v := range stats {
		if _, ok := v.(uint64); ok {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return nil
	}
	sort.Strings(names)

	fmt.Fprintln(w, "Stats:")
	for _, name := range names {
		fmt.Fprintf(w, "  %s: %d\n", name, stats[name])
	}
	return nil
}

func dump(idx *bpt.Index, stdout, stderr io.Writer) int {
	w := bufio.NewWriter(stdout)
	err := idx.Traverse(func(key, val []byte) error {
		_, err := fmt.Fprintf(w, "%s\t%s\n", formatKey(key), formatValue(idx, val))
		return err
	})
	if flushErr := w.Flush(); err == nil {
		err = flushErr
	}
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitCode(err)
	}
	return exitFound
}

// batch looks up every key in path. Missing keys are reported on stderr
// and make the exit status 2.
func batch(idx *bpt.Index, path string, valSize, concurrency int, stdout, stderr io.Writer) int {
	keys, err := readKeys(path)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitError
	}

	results, err := bpt.FindAll(context.Background(), idx, keys, valSize, concurrency)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitCode(err)
	}

	missing := color.New(color.FgYellow)
	code := exitFound
	for _, r := range results {
		if !r.Found {
			missing.Fprintf(stderr, "%s not found\n", r.Key)
			code = exitNotFound
			continue
		}
		fmt.Fprintf(stdout, "%s\t%s\n", r.Key, formatValue(idx, r.Value))
	}
	return code
}

// readKeys reads one key per line, skipping blank lines
func readKeys(path string) ([][]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open key file: %w", err)
	}
	defer f.Close()

	var keys [][]byte
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		keys = append(keys, []byte(line))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read key file: %w", err)
	}
	return keys, nil
}

package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/chzyer/readline"

	"github.com/KevoDB/jstore/pkg/common/log"
	"github.com/KevoDB/jstore/pkg/config"
	"github.com/KevoDB/jstore/pkg/store"
	"github.com/KevoDB/jstore/pkg/telemetry"
)

// Command completer for readline
var completer = readline.NewPrefixCompleter(
	readline.PcItem(".help"),
	readline.PcItem(".exit"),
	readline.PcItem(".stats"),
	readline.PcItem(".stores"),
	readline.PcItem(".use"),
	readline.PcItem(".create",
		readline.PcItem("memory"),
		readline.PcItem("persisted"),
	),
	readline.PcItem(".drop"),
	readline.PcItem(".sync"),
	readline.PcItem(".recover"),
	readline.PcItem("PUT"),
	readline.PcItem("GET"),
	readline.PcItem("REMOVE"),
	readline.PcItem("KEYS"),
	readline.PcItem("SCAN"),
)

const helpText = `
jstore - A journal-based embedded key-value store.

Usage:
  jstore [options] [database_path]  - Start with an optional database path

Options:
  -demo                   - Run the demo scenario and exit
  -log-level string       - Log level: debug, info, warn, error (default "warn")
  -telemetry              - Enable telemetry (exporters from JSTORE_TELEMETRY_EXPORTERS)

Commands (interactive mode only):
  .help                         - Show this help message
  .exit                         - Exit the program
  .stores                       - List stores
  .create NAME [STORAGE] [MB]   - Create a store (STORAGE: memory or persisted)
  .use NAME                     - Select the current store
  .drop NAME                    - Delete a store and its files
  .stats                        - Show statistics of the current store
  .sync                         - Flush the current store
  .recover                      - Rebuild the free-space index of the current store

  PUT key type value      - Store a value (type: short, int, long, float, double,
                            char, text, bytes; bytes values are hex)
  GET key [type]          - Retrieve a value, with its stored type by default
  REMOVE key              - Remove a key
  KEYS                    - List keys with their offsets and types
  SCAN                    - Walk every record of the journal

Quote text values that contain spaces: PUT greeting text "hello world"
`

const demoStore = "MyTestDataStore"

// Config holds the application configuration
type Config struct {
	DBPath    string
	Demo      bool
	LogLevel  string
	Telemetry bool
}

func main() {
	cfg := parseFlags()

	level, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
	logger := log.NewStandardLogger(log.WithLevel(level), log.WithOutput(os.Stderr))
	log.SetDefaultLogger(logger)

	tel, err := setupTelemetry(cfg.Telemetry)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing telemetry: %s\n", err)
		os.Exit(1)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Error shutting down telemetry: %s\n", err)
		}
	}()

	dbPath := cfg.DBPath
	if dbPath == "" {
		if cfg.Demo {
			dbPath, err = os.MkdirTemp("", "jstore-demo-")
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error creating demo directory: %s\n", err)
				os.Exit(1)
			}
			defer os.RemoveAll(dbPath)
		} else {
			dbPath = "jstore-data"
		}
	}

	db, err := openDB(dbPath, logger, tel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening database: %s\n", err)
		os.Exit(1)
	}
	defer db.Close()

	if cfg.Demo {
		if err := runDemo(db, os.Stdout); err != nil {
			fmt.Fprintf(os.Stderr, "Demo failed: %s\n", err)
			os.Exit(1)
		}
		return
	}

	runInteractive(newSession(db, tel), dbPath)
}

// parseFlags parses command line flags and returns a Config
func parseFlags() Config {
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "jstore - A journal-based embedded key-value store\n\n")
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: jstore [options] [database_path]\n\n")
		fmt.Fprintf(flag.CommandLine.Output(), "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(flag.CommandLine.Output(), "\nFor more details, start jstore and type .help\n")
	}

	demo := flag.Bool("demo", false, "Run the demo scenario and exit")
	logLevel := flag.String("log-level", "warn", "Log level: debug, info, warn, error")
	enableTelemetry := flag.Bool("telemetry", false, "Enable telemetry")

	flag.Parse()

	var dbPath string
	if flag.NArg() > 0 {
		dbPath = flag.Arg(0)
	}

	return Config{
		DBPath:    dbPath,
		Demo:      *demo,
		LogLevel:  *logLevel,
		Telemetry: *enableTelemetry,
	}
}

// setupTelemetry builds the telemetry provider from JSTORE_TELEMETRY_* variables
func setupTelemetry(enabled bool) (telemetry.Telemetry, error) {
	cfg := telemetry.DefaultConfig()
	cfg.LoadFromEnv()
	if enabled {
		cfg.Enabled = true
	}
	return telemetry.New(cfg)
}

// openDB opens the database and applies JSTORE_* overrides to its configuration
func openDB(dir string, logger log.Logger, tel telemetry.Telemetry) (*store.DB, error) {
	db, err := store.Open(dir, store.WithLogger(logger), store.WithTelemetry(tel))
	if err != nil {
		return nil, err
	}
	if !hasConfigOverrides() {
		return db, nil
	}

	var envErr error
	err = db.UpdateConfig(func(c *config.Config) { envErr = c.LoadFromEnv() })
	if envErr != nil {
		err = envErr
	}
	if err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// hasConfigOverrides reports whether any store configuration variable is set
func hasConfigOverrides() bool {
	for _, kv := range os.Environ() {
		if strings.HasPrefix(kv, "JSTORE_") && !strings.HasPrefix(kv, telemetry.EnvPrefix) {
			return true
		}
	}
	return false
}

// runDemo runs the put/put/put/remove/get sequence on a persisted store
func runDemo(db *store.DB, out io.Writer) error {
	s, err := db.Store(demoStore)
	if err != nil {
		s, err = db.CreateStore(demoStore, config.StoragePersisted, 10)
		if err != nil {
			return err
		}
	}

	if err := s.PutShort("Test", 34); err != nil {
		return err
	}
	if err := s.PutShort("Test2", 44); err != nil {
		return err
	}
	if err := s.PutShort("Test3", 100); err != nil {
		return err
	}
	if _, err := s.Remove("Test2"); err != nil {
		return err
	}

	v, err := s.GetShort("Test")
	if err != nil {
		return err
	}
	fmt.Fprintln(out, v)
	return nil
}

// runInteractive starts the interactive CLI mode
func runInteractive(sess *session, dbPath string) {
	fmt.Println("jstore version 1.0.0")
	fmt.Println("Enter .help for usage hints.")

	historyFile := filepath.Join(os.TempDir(), ".jstore_history")
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "jstore> ",
		HistoryFile:     historyFile,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
		AutoComplete:    completer,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing readline: %s\n", err)
		os.Exit(1)
	}
	defer rl.Close()

	for {
		if sess.current != nil {
			rl.SetPrompt(fmt.Sprintf("jstore:%s/%s> ", dbPath, sess.current.Name()))
		} else {
			rl.SetPrompt(fmt.Sprintf("jstore:%s> ", dbPath))
		}

		line, readErr := rl.Readline()
		if readErr != nil {
			if readErr == readline.ErrInterrupt {
				if len(line) == 0 {
					break
				}
				continue
			} else if readErr == io.EOF {
				fmt.Println("Goodbye!")
				break
			}
			fmt.Fprintf(os.Stderr, "Error reading input: %s\n", readErr)
			continue
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if err := sess.execute(line, os.Stdout); err != nil {
			if err == errExit {
				fmt.Println("Goodbye!")
				return
			}
			fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		}
	}
}

package main

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/kballard/go-shellquote"
	"go.opentelemetry.io/otel/attribute"

	"github.com/KevoDB/jstore/pkg/config"
	"github.com/KevoDB/jstore/pkg/record"
	"github.com/KevoDB/jstore/pkg/store"
	"github.com/KevoDB/jstore/pkg/telemetry"
)

var (
	errExit         = errors.New("exit")
	errNoStore      = errors.New("no store selected, use .use NAME or .create NAME")
	errMissingUsage = errors.New("missing arguments")
)

// session is the state of one interactive shell
type session struct {
	db      *store.DB
	tel     telemetry.Telemetry
	current *store.Store
}

func newSession(db *store.DB, tel telemetry.Telemetry) *session {
	return &session{db: db, tel: tel}
}

// execute runs one command line and writes its output to out
func (s *session) execute(line string, out io.Writer) error {
	parts, err := shellquote.Split(line)
	if err != nil {
		return fmt.Errorf("failed to parse command: %w", err)
	}
	if len(parts) == 0 {
		return nil
	}

	start := time.Now()
	cmd := strings.ToUpper(parts[0])
	args := parts[1:]

	if strings.HasPrefix(cmd, ".") {
		cmd = strings.ToLower(cmd)
	}

	err = s.dispatch(cmd, args, out)

	status := telemetry.StatusSuccess
	if err != nil && err != errExit {
		status = telemetry.StatusError
	}
	telemetry.RecordDuration(context.Background(), s.tel, "jstore.cli.command.duration", start,
		attribute.String(telemetry.AttrOperationType, strings.ToLower(strings.TrimPrefix(cmd, "."))),
		attribute.String(telemetry.AttrStatus, status),
	)
	return err
}

func (s *session) dispatch(cmd string, args []string, out io.Writer) error {
	switch cmd {
	case ".help":
		fmt.Fprint(out, helpText)
		return nil
	case ".exit", ".quit":
		return errExit
	case ".stores":
		return s.listStores(out)
	case ".create":
		return s.createStore(args, out)
	case ".use":
		return s.useStore(args, out)
	case ".drop":
		return s.dropStore(args, out)
	case ".stats":
		return s.stats(out)
	case ".sync":
		return s.sync(out)
	case ".recover":
		return s.recover(out)
	case "PUT":
		return s.put(args, out)
	case "GET":
		return s.get(args, out)
	case "REMOVE", "DELETE":
		return s.remove(args, out)
	case "KEYS":
		return s.keys(out)
	case "SCAN":
		return s.scan(out)
	default:
		return fmt.Errorf("unknown command %q, enter .help for usage hints", cmd)
	}
}

func (s *session) listStores(out io.Writer) error {
	names := s.db.Stores()
	if len(names) == 0 {
		fmt.Fprintln(out, "No stores")
		return nil
	}
	for _, name := range names {
		st, err := s.db.Store(name)
		if err != nil {
			return err
		}
		stats := st.Stats()
		fmt.Fprintf(out, "%s (%s, %d records, %d/%d bytes)\n", name, st.Storage(), stats.Records, stats.End, stats.Capacity)
	}
	return nil
}

func (s *session) createStore(args []string, out io.Writer) error {
	if len(args) < 1 {
		return fmt.Errorf("%w: .create NAME [memory|persisted] [MB]", errMissingUsage)
	}

	var storage config.StorageKind
	if len(args) > 1 {
		kind, err := config.ParseStorageKind(args[1])
		if err != nil {
			return err
		}
		storage = kind
	}

	var sizeMB int64
	if len(args) > 2 {
		size, err := strconv.ParseInt(args[2], 10, 64)
		if err != nil || size <= 0 {
			return fmt.Errorf("invalid size %q: must be a positive number of megabytes", args[2])
		}
		sizeMB = size
	}

	st, err := s.db.CreateStore(args[0], storage, sizeMB)
	if err != nil {
		return err
	}
	s.current = st
	fmt.Fprintf(out, "Created %s store %s\n", st.Storage(), st.Name())
	return nil
}

func (s *session) useStore(args []string, out io.Writer) error {
	if len(args) < 1 {
		return fmt.Errorf("%w: .use NAME", errMissingUsage)
	}
	st, err := s.db.Store(args[0])
	if err != nil {
		return err
	}
	s.current = st
	fmt.Fprintf(out, "Using store %s\n", st.Name())
	return nil
}

func (s *session) dropStore(args []string, out io.Writer) error {
	if len(args) < 1 {
		return fmt.Errorf("%w: .drop NAME", errMissingUsage)
	}
	if err := s.db.DeleteStore(args[0]); err != nil {
		return err
	}
	if s.current != nil && s.current.Name() == args[0] {
		s.current = nil
	}
	fmt.Fprintf(out, "Store %s deleted\n", args[0])
	return nil
}

func (s *session) store() (*store.Store, error) {
	if s.current == nil {
		return nil, errNoStore
	}
	return s.current, nil
}

func (s *session) put(args []string, out io.Writer) error {
	st, err := s.store()
	if err != nil {
		return err
	}
	if len(args) != 3 {
		return fmt.Errorf("%w: PUT key type value", errMissingUsage)
	}

	t, err := record.ParseType(strings.ToLower(args[1]))
	if err != nil {
		return err
	}
	payload, err := parseValue(t, args[2])
	if err != nil {
		return err
	}

	if err := st.Journal().Put(args[0], t, payload); err != nil {
		return err
	}
	fmt.Fprintln(out, "Value stored")
	return nil
}

func (s *session) get(args []string, out io.Writer) error {
	st, err := s.store()
	if err != nil {
		return err
	}
	if len(args) < 1 {
		return fmt.Errorf("%w: GET key [type]", errMissingUsage)
	}

	var t record.Type
	if len(args) > 1 {
		if t, err = record.ParseType(strings.ToLower(args[1])); err != nil {
			return err
		}
	} else {
		entry, err := st.Journal().Lookup(args[0])
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				fmt.Fprintln(out, "Key not found")
				return nil
			}
			return err
		}
		t = entry.Header.Type
	}

	payload, err := st.Journal().Get(args[0], t)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			fmt.Fprintln(out, "Key not found")
			return nil
		}
		return err
	}

	value, err := formatValue(t, payload)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, value)
	return nil
}

func (s *session) remove(args []string, out io.Writer) error {
	st, err := s.store()
	if err != nil {
		return err
	}
	if len(args) != 1 {
		return fmt.Errorf("%w: REMOVE key", errMissingUsage)
	}

	removed, err := st.Remove(args[0])
	if err != nil {
		return err
	}
	if removed {
		fmt.Fprintln(out, "Key removed")
	} else {
		fmt.Fprintln(out, "Key not found")
	}
	return nil
}

func (s *session) keys(out io.Writer) error {
	st, err := s.store()
	if err != nil {
		return err
	}

	entries, err := st.Entries()
	if err != nil {
		return err
	}
	for _, e := range entries {
		fmt.Fprintf(out, "%s @%d %s(%d)\n", e.Key, e.Offset, e.Header.Type, e.Header.Length)
	}
	fmt.Fprintf(out, "%d keys\n", len(entries))
	return nil
}

func (s *session) scan(out io.Writer) error {
	st, err := s.store()
	if err != nil {
		return err
	}

	var active, inactive int
	err = st.Journal().Scan(func(offset int64, h record.Header) error {
		state := "free"
		if h.Active {
			state = "live"
			active++
		} else {
			inactive++
		}
		fmt.Fprintf(out, "%8d %s %-9s %d\n", offset, state, h.Type, h.Length)
		return nil
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "%d live, %d free records\n", active, inactive)
	return nil
}

func (s *session) sync(out io.Writer) error {
	st, err := s.store()
	if err != nil {
		return err
	}
	if err := st.Sync(); err != nil {
		return err
	}
	fmt.Fprintln(out, "Store synced")
	return nil
}

func (s *session) recover(out io.Writer) error {
	st, err := s.store()
	if err != nil {
		return err
	}
	result, err := st.Recover()
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Scanned %d records, %d free (%d bytes), %d keys dropped, %d records reclaimed\n",
		result.RecordsScanned, result.InactiveRecords, result.FreeBytes, result.DroppedKeys, result.ReclaimedRecords)
	return nil
}

func (s *session) stats(out io.Writer) error {
	st, err := s.store()
	if err != nil {
		return err
	}

	js := st.Stats()
	fmt.Fprintf(out, "Store %s (%s)\n", st.Name(), st.Storage())
	fmt.Fprintf(out, "  Records: %d\n", js.Records)
	fmt.Fprintf(out, "  Journal: %d of %d bytes\n", js.End, js.Capacity)
	fmt.Fprintf(out, "  Free: %d bytes in %d blocks\n", js.FreeBytes, js.FreeBlocks)
	for _, b := range js.Buckets {
		fmt.Fprintf(out, "    %d bytes x %d\n", b.Size, b.Blocks)
	}

	collected := st.Collector().GetStats()

	fmt.Fprintln(out, "  Operations:")
	for _, op := range []string{"put", "get", "remove", "scan", "recover", "sync", "snapshot"} {
		if n := getUint64(collected, op+"_ops"); n > 0 {
			fmt.Fprintf(out, "    %s: %d\n", op, n)
		}
	}

	fmt.Fprintln(out, "  Placements:")
	fmt.Fprintf(out, "    exact: %d, split: %d, append: %d, grown: %d\n",
		getUint64(collected, "placement_exact"),
		getUint64(collected, "placement_split"),
		getUint64(collected, "placement_append"),
		getUint64(collected, "grow_count"),
	)

	if errs, ok := collected["errors"].(map[string]uint64); ok && len(errs) > 0 {
		fmt.Fprintln(out, "  Errors:")
		kinds := make([]string, 0, len(errs))
		for kind := range errs {
			kinds = append(kinds, kind)
		}
		sort.Strings(kinds)
		for _, kind := range kinds {
			fmt.Fprintf(out, "    %s: %d\n", kind, errs[kind])
		}
	}
	return nil
}

// getUint64 safely reads a counter from a stats map
func getUint64(m map[string]interface{}, key string) uint64 {
	switch v := m[key].(type) {
	case uint64:
		return v
	case int64:
		return uint64(v)
	case int:
		return uint64(v)
	default:
		return 0
	}
}

// parseValue converts the textual form of a value into its payload
func parseValue(t record.Type, s string) ([]byte, error) {
	switch t {
	case record.TypeShort:
		v, err := strconv.ParseInt(s, 10, 16)
		if err != nil {
			return nil, fmt.Errorf("invalid short %q: %w", s, err)
		}
		return record.EncodeShort(int16(v)), nil
	case record.TypeInt:
		v, err := strconv.ParseInt(s, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid int %q: %w", s, err)
		}
		return record.EncodeInt(int32(v)), nil
	case record.TypeLong:
		v, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid long %q: %w", s, err)
		}
		return record.EncodeLong(v), nil
	case record.TypeFloat:
		v, err := strconv.ParseFloat(s, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid float %q: %w", s, err)
		}
		return record.EncodeFloat(float32(v)), nil
	case record.TypeDouble:
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid double %q: %w", s, err)
		}
		return record.EncodeDouble(v), nil
	case record.TypeChar:
		if utf8.RuneCountInString(s) != 1 {
			return nil, fmt.Errorf("invalid char %q: expected a single character", s)
		}
		r, _ := utf8.DecodeRuneInString(s)
		return record.EncodeChar(r)
	case record.TypeText:
		return record.EncodeText(s), nil
	case record.TypeByteArray:
		b, err := hex.DecodeString(s)
		if err != nil {
			return nil, fmt.Errorf("invalid hex bytes %q: %w", s, err)
		}
		return b, nil
	default:
		return nil, fmt.Errorf("%w: %s", record.ErrUnsupportedType, t)
	}
}

// formatValue renders a payload for display
func formatValue(t record.Type, payload []byte) (string, error) {
	switch t {
	case record.TypeShort:
		v, err := record.DecodeShort(payload)
		return strconv.FormatInt(int64(v), 10), err
	case record.TypeInt:
		v, err := record.DecodeInt(payload)
		return strconv.FormatInt(int64(v), 10), err
	case record.TypeLong:
		v, err := record.DecodeLong(payload)
		return strconv.FormatInt(v, 10), err
	case record.TypeFloat:
		v, err := record.DecodeFloat(payload)
		return strconv.FormatFloat(float64(v), 'g', -1, 32), err
	case record.TypeDouble:
		v, err := record.DecodeDouble(payload)
		return strconv.FormatFloat(v, 'g', -1, 64), err
	case record.TypeChar:
		v, err := record.DecodeChar(payload)
		return string(v), err
	case record.TypeText:
		v, err := record.DecodeText(payload)
		return strconv.Quote(v), err
	case record.TypeByteArray:
		return hex.EncodeToString(payload), nil
	default:
		return "", fmt.Errorf("%w: %s", record.ErrUnsupportedType, t)
	}
}

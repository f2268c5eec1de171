package cli

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/roach88/tessera/internal/addr"
	"github.com/roach88/tessera/internal/nf"
	"github.com/roach88/tessera/internal/tilestore"
	"github.com/roach88/tessera/internal/world"
)

// AppendOptions holds flags for the append command.
type AppendOptions struct {
	*RootOptions
	NoFlush bool
}

// AppendResult is the append command's output.
type AppendResult struct {
	Tile     world.TileKey `json:"tile"`
	Appended int           `json:"appended"`
	Flushed  bool          `json:"flushed"`
	Tip      *world.Index  `json:"tip,omitempty"`
}

// NewAppendCommand creates the append command.
func NewAppendCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &AppendOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "append <space> <tile> [events-file]",
		Short: "Append events to a tile",
		Long: `Append events to a tile and flush them into a segment.

Events are read from the file, or from stdin when no file (or "-") is
given, as a JSON array, a {"events": [...]} object, or one JSON event per
line. Events without an event_id get a fresh UUIDv7. The batch is
validated as a whole: one bad event rejects every event.

Examples:
  tessera append world t-001 events.json
  cat events.jsonl | tessera append world t-001
  tessera append world t-001 events.json --no-flush --backend file`,
		Args:          cobra.RangeArgs(2, 3),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAppend(opts, args, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.NoFlush, "no-flush", false, "leave events buffered (they are lost when the command exits)")

	return cmd
}

func runAppend(opts *AppendOptions, args []string, cmd *cobra.Command) error {
	ctx := commandContext(cmd)
	f := opts.formatter(cmd)

	key, err := tileArgs(args)
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeInvalidInput, "invalid tile", err)
	}

	src := "-"
	if len(args) == 3 {
		src = args[2]
	}
	data, err := readInput(cmd, src)
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeInvalidInput, "failed to read events", err)
	}
	events, err := parseEvents(data)
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeInvalidInput, "failed to parse events", err)
	}
	f.VerboseLog("parsed %d event(s)", len(events))

	st, _, err := opts.openStore(cmd, f)
	if err != nil {
		return err
	}
	defer st.Close()

	n, err := st.Append(ctx, key, events)
	if err != nil {
		return storeFailure(f, "append rejected", err)
	}

	result := AppendResult{Tile: key, Appended: n}
	if !opts.NoFlush {
		flushed, err := st.Flush(ctx, key)
		if err != nil {
			return storeFailure(f, "flush failed", err)
		}
		result.Flushed = flushed
		if ix, err := st.TileTip(ctx, key); err == nil {
			result.Tip = &ix
		}
	}

	return f.Success(result, func(w io.Writer) {
		fmt.Fprintf(w, "Appended %d event(s) to %s\n", result.Appended, key)
		if result.Tip != nil {
			fmt.Fprintf(w, "  tip_event:   %s\n", result.Tip.TipEvent)
			fmt.Fprintf(w, "  tip_segment: %s\n", result.Tip.TipSegment)
		}
	})
}

// parseEvents accepts a JSON array of events, an object with an "events"
// array, or newline-delimited events.
func parseEvents(data []byte) ([]*world.Event, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("no events")
	}

	var values addr.Array
	v, err := addr.ParseJSON(trimmed)
	switch {
	case err == nil:
		switch doc := v.(type) {
		case addr.Array:
			values = doc
		case addr.Object:
			if evs, ok := doc["events"].(addr.Array); ok {
				values = evs
			} else {
				values = addr.Array{doc}
			}
		default:
			return nil, fmt.Errorf("expected events, got %T", v)
		}
	default:
		sc := bufio.NewScanner(bytes.NewReader(trimmed))
		sc.Buffer(make([]byte, 0, 64*1024), 8<<20)
		line := 0
		for sc.Scan() {
			line++
			if len(bytes.TrimSpace(sc.Bytes())) == 0 {
				continue
			}
			lv, lerr := addr.ParseJSON(sc.Bytes())
			if lerr != nil {
				return nil, fmt.Errorf("line %d: %w", line, lerr)
			}
			values = append(values, lv)
		}
		if err := sc.Err(); err != nil {
			return nil, err
		}
	}

	events := make([]*world.Event, 0, len(values))
	for i, v := range values {
		if obj, ok := v.(addr.Object); ok {
			if _, has := obj["event_id"]; !has {
				obj["event_id"] = addr.String(uuid.Must(uuid.NewV7()).String())
			}
		}
		ev, err := world.EventFromValue(v)
		if err != nil {
			return nil, fmt.Errorf("event %d: %w", i, err)
		}
		events = append(events, ev)
	}
	return events, nil
}

// NewTipCommand creates the tip command.
func NewTipCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "tip <space> <tile>",
		Short:         "Show a tile's index",
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := rootOpts.formatter(cmd)
			key, err := tileArgs(args)
			if err != nil {
				return f.Fail(ExitCommandError, ErrCodeInvalidInput, "invalid tile", err)
			}
			st, _, err := rootOpts.openStore(cmd, f)
			if err != nil {
				return err
			}
			defer st.Close()

			ix, err := st.TileTip(commandContext(cmd), key)
			if err != nil {
				return storeFailure(f, "no tip", err)
			}
			return f.Success(ix, func(w io.Writer) { printIndex(w, key, ix) })
		},
	}
}

func printIndex(w io.Writer, key world.TileKey, ix world.Index) {
	fmt.Fprintf(w, "Tile %s\n", key)
	fmt.Fprintf(w, "  tip_event:      %s\n", ix.TipEvent)
	fmt.Fprintf(w, "  tip_segment:    %s\n", ix.TipSegment)
	fmt.Fprintf(w, "  segments:       %d\n", ix.Segments)
	if ix.HasSnapshot() {
		fmt.Fprintf(w, "  last_snapshot:  %s\n", ix.LastSnapshot)
		fmt.Fprintf(w, "  snapshot_event: %s (%d segment(s) since)\n", ix.SnapshotEvent, ix.SinceSnapshot())
	}
}

// NewSegmentsCommand creates the segments command.
func NewSegmentsCommand(rootOpts *RootOptions) *cobra.Command {
	var after string

	cmd := &cobra.Command{
		Use:           "segments <space> <tile>",
		Short:         "List a tile's segments",
		Long:          "List manifest entries after the segment ending in --after, or all of them.",
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := rootOpts.formatter(cmd)
			key, err := tileArgs(args)
			if err != nil {
				return f.Fail(ExitCommandError, ErrCodeInvalidInput, "invalid tile", err)
			}
			st, _, err := rootOpts.openStore(cmd, f)
			if err != nil {
				return err
			}
			defer st.Close()

			entries, err := st.SegmentsSince(commandContext(cmd), key, after)
			if err != nil {
				return storeFailure(f, "failed to read manifest", err)
			}
			return f.Success(entries, func(w io.Writer) {
				if len(entries) == 0 {
					fmt.Fprintln(w, "No segments.")
					return
				}
				for _, e := range entries {
					fmt.Fprintf(w, "%s  %s..%s  %d event(s)  ts=%d\n", e.Hash, e.FromEvent, e.ToEvent, e.Count, e.TS)
				}
			})
		},
	}

	cmd.Flags().StringVar(&after, "after", "", "only segments after the one ending in this event")

	return cmd
}

// NewObjectCommand creates the object command.
func NewObjectCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "object <hash>",
		Short:         "Print a stored segment or snapshot",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := rootOpts.formatter(cmd)
			st, _, err := rootOpts.openStore(cmd, f)
			if err != nil {
				return err
			}
			defer st.Close()

			ref := addr.HashRef(args[0])
			data, err := st.GetObject(commandContext(cmd), ref)
			if err != nil {
				return storeFailure(f, "failed to read object", err)
			}
			out := map[string]any{"hash": ref, "size": len(data), "data": string(data)}
			return f.Success(out, func(w io.Writer) { _, _ = w.Write(data) })
		},
	}
}

// StateResult is the state command's output.
type StateResult struct {
	Tile      world.TileKey  `json:"tile"`
	StateHash addr.HashRef   `json:"state_hash"`
	State     nf.NormalState `json:"state"`
}

// NewStateCommand creates the state command.
func NewStateCommand(rootOpts *RootOptions) *cobra.Command {
	var full bool

	cmd := &cobra.Command{
		Use:   "state <space> <tile>",
		Short: "Materialize a tile's normal state",
		Long: `Materialize a tile from its latest snapshot plus later segments, or
from the empty state with --full, and print the normal state and its
hash. Buffered events are not included.`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := rootOpts.formatter(cmd)
			key, err := tileArgs(args)
			if err != nil {
				return f.Fail(ExitCommandError, ErrCodeInvalidInput, "invalid tile", err)
			}
			st, _, err := rootOpts.openStore(cmd, f)
			if err != nil {
				return err
			}
			defer st.Close()

			materialize := st.Materialize
			if full {
				materialize = st.MaterializeFull
			}
			r, err := materialize(commandContext(cmd), key)
			if err != nil {
				return storeFailure(f, "failed to materialize", err)
			}
			hash, err := nf.StateHash(r)
			if err != nil {
				return f.Fail(ExitCommandError, ErrCodeGeneric, "failed to hash state", err)
			}
			result := StateResult{Tile: key, StateHash: hash, State: r.Normal()}
			return f.Success(result, func(w io.Writer) {
				body, _ := addr.Canonicalize(result.State)
				fmt.Fprintf(w, "state_hash: %s\n%s\n", hash, body)
			})
		},
	}

	cmd.Flags().BoolVar(&full, "full", false, "replay from the empty state, ignoring snapshots")

	return cmd
}

// NewVerifyCommand creates the verify command.
func NewVerifyCommand(rootOpts *RootOptions) *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "verify [<space> <tile>]",
		Short: "Verify a tile's stored history",
		Long: `Verify that every segment decodes and matches its manifest entry,
every snapshot equals a replay of the segments it covers, and snapshot
materialization equals full replay.

Exit codes:
  0 - History is consistent
  1 - Verification found problems
  2 - Command error (unknown tile, storage unavailable, etc.)`,
		Args: func(cmd *cobra.Command, args []string) error {
			if all {
				return cobra.NoArgs(cmd, args)
			}
			return cobra.ExactArgs(2)(cmd, args)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVerify(rootOpts, args, all, cmd)
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "verify every stored tile")

	return cmd
}

func runVerify(opts *RootOptions, args []string, all bool, cmd *cobra.Command) error {
	ctx := commandContext(cmd)
	f := opts.formatter(cmd)

	var keys []world.TileKey
	if !all {
		key, err := tileArgs(args)
		if err != nil {
			return f.Fail(ExitCommandError, ErrCodeInvalidInput, "invalid tile", err)
		}
		keys = []world.TileKey{key}
	}

	st, _, err := opts.openStore(cmd, f)
	if err != nil {
		return err
	}
	defer st.Close()

	if all {
		if keys, err = st.Tiles(ctx); err != nil {
			return storeFailure(f, "failed to list tiles", err)
		}
	}

	reports := make([]tilestore.VerifyReport, 0, len(keys))
	ok := true
	for _, key := range keys {
		rep, err := st.Verify(ctx, key)
		if err != nil {
			return storeFailure(f, fmt.Sprintf("failed to verify %s", key), err)
		}
		ok = ok && rep.OK()
		reports = append(reports, rep)
	}

	text := func(w io.Writer) { printReports(w, reports) }
	if !ok {
		return f.Reject(ExitFailure, ErrCodeVerifyFailed, "verification failed", reports, text)
	}
	return f.Success(reports, text)
}

func printReports(w io.Writer, reports []tilestore.VerifyReport) {
	if len(reports) == 0 {
		fmt.Fprintln(w, "No tiles found.")
		return
	}
	for _, rep := range reports {
		status := "OK"
		if !rep.OK() {
			status = "FAIL"
		}
		fmt.Fprintf(w, "%s  %s  segments=%d events=%d snapshots=%d\n",
			status, rep.Tile, rep.Segments, rep.Events, rep.Snapshots)
		fmt.Fprintf(w, "  state_hash: %s\n", rep.StateHash)
		for _, p := range rep.Problems {
			fmt.Fprintf(w, "  problem: %s\n", p)
		}
	}
}

// NewSnapshotCommand creates the snapshot command.
func NewSnapshotCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "snapshot <space> <tile>",
		Short:         "Write a snapshot of a tile now",
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := rootOpts.formatter(cmd)
			key, err := tileArgs(args)
			if err != nil {
				return f.Fail(ExitCommandError, ErrCodeInvalidInput, "invalid tile", err)
			}
			st, _, err := rootOpts.openStore(cmd, f)
			if err != nil {
				return err
			}
			defer st.Close()

			ix, err := st.Snapshot(commandContext(cmd), key)
			if err != nil {
				return storeFailure(f, "snapshot failed", err)
			}
			return f.Success(ix, func(w io.Writer) { printIndex(w, key, ix) })
		},
	}
}

// NewReindexCommand creates the reindex command.
func NewReindexCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "reindex <space> <tile>",
		Short:         "Rebuild a tile's index from its manifest and snapshots",
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := rootOpts.formatter(cmd)
			key, err := tileArgs(args)
			if err != nil {
				return f.Fail(ExitCommandError, ErrCodeInvalidInput, "invalid tile", err)
			}
			st, _, err := rootOpts.openStore(cmd, f)
			if err != nil {
				return err
			}
			defer st.Close()

			ix, err := st.RebuildIndex(commandContext(cmd), key)
			if err != nil {
				return storeFailure(f, "reindex failed", err)
			}
			return f.Success(ix, func(w io.Writer) { printIndex(w, key, ix) })
		},
	}
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// readInput reads a file, or stdin for "-".
func readInput(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	return os.ReadFile(path)
}

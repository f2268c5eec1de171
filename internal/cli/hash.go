package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/tessera/internal/addr"
)

// HashResult is the hash command's output.
type HashResult struct {
	Hash      addr.HashRef `json:"hash"`
	Canonical string       `json:"canonical,omitempty"`
}

// NewHashCommand creates the hash command.
func NewHashCommand(rootOpts *RootOptions) *cobra.Command {
	var showCanonical bool

	cmd := &cobra.Command{
		Use:   "hash [file]",
		Short: "Print the content id of a JSON document",
		Long: `Canonicalize a JSON document (RFC 8785) and print its sha256 content id.
Reads stdin when no file (or "-") is given.

Example:
  tessera hash event.json
  echo '{"b":1,"a":[true,null]}' | tessera hash --canonical`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := rootOpts.formatter(cmd)

			src := "-"
			if len(args) == 1 {
				src = args[0]
			}
			data, err := readInput(cmd, src)
			if err != nil {
				return f.Fail(ExitCommandError, ErrCodeInvalidInput, "failed to read input", err)
			}
			v, err := addr.ParseJSON(data)
			if err != nil {
				return f.Fail(ExitCommandError, ErrCodeInvalidInput, "invalid JSON", err)
			}
			canonical, err := addr.Canonicalize(v)
			if err != nil {
				return f.Fail(ExitCommandError, ErrCodeInvalidInput, "cannot canonicalize", err)
			}

			result := HashResult{Hash: addr.Hash(canonical)}
			if showCanonical {
				result.Canonical = string(canonical)
			}
			return f.Success(result, func(w io.Writer) {
				if showCanonical {
					fmt.Fprintf(w, "%s\n", canonical)
				}
				fmt.Fprintln(w, result.Hash)
			})
		},
	}

	cmd.Flags().BoolVar(&showCanonical, "canonical", false, "also print the canonical bytes")

	return cmd
}

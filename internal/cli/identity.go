package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/tessera/internal/addr"
	"github.com/roach88/tessera/internal/pf16"
	"github.com/roach88/tessera/internal/world"
)

// IdentityResult is the output of the identity subcommands.
type IdentityResult struct {
	Hash      addr.HashRef  `json:"hash"`
	Identity  pf16.Identity `json:"identity"`
	Conflicts []string      `json:"conflicts"`
}

// NewIdentityCommand creates the identity command group.
func NewIdentityCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "identity",
		Short: "Create and merge sixteen-slot identities",
	}
	cmd.AddCommand(newIdentityCreateCommand(rootOpts))
	cmd.AddCommand(newIdentityMergeCommand(rootOpts))
	return cmd
}

func newIdentityCreateCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		seed      pf16.Seed
		authority string
		scope     string
		boundary  string
		policy    string
	)

	cmd := &cobra.Command{
		Use:   "create --self <id>",
		Short: "Create an identity from a seed",
		Long: `Create a complete identity. Unset slots take their defaults: authority
source, scope personal, boundary interior, policy private, version "1".

Example:
  tessera identity create --self user:ada --scope team --witness peer:7`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := rootOpts.formatter(cmd)
			seed.Authority = world.Authority(authority)
			seed.Scope = world.Realm(scope)
			seed.Boundary = world.Boundary(boundary)
			seed.Policy = pf16.Policy(policy)

			id, err := pf16.Create(seed)
			if err != nil {
				return f.Fail(ExitCommandError, ErrCodeInvalidInput, "invalid seed", err)
			}
			return writeIdentity(f, id, false)
		},
	}

	cmd.Flags().StringVar(&seed.Self, "self", "", "self id (required)")
	cmd.Flags().StringVar(&authority, "authority", "", "source|derived")
	cmd.Flags().StringVar(&scope, "scope", "", "personal|team|public")
	cmd.Flags().StringVar(&boundary, "boundary", "", "exterior|boundary|interior")
	cmd.Flags().StringVar(&policy, "policy", "", "private|redacted|public")
	cmd.Flags().Int64Var(&seed.Time, "time", 0, "time slot, unix milliseconds")
	cmd.Flags().StringVar(&seed.Version, "version", "", "version slot")
	cmd.Flags().StringArrayVar(&seed.Sources, "source", nil, "source id (repeatable)")
	cmd.Flags().StringArrayVar(&seed.Witnesses, "witness", nil, "witness id (repeatable)")
	cmd.Flags().StringArrayVar(&seed.Relations, "relation", nil, "relation id (repeatable)")
	cmd.Flags().StringArrayVar(&seed.Federation, "federation", nil, "federation peer (repeatable)")
	_ = cmd.MarkFlagRequired("self")

	return cmd
}

func newIdentityMergeCommand(rootOpts *RootOptions) *cobra.Command {
	var strict bool

	cmd := &cobra.Command{
		Use:   "merge <identity.json>...",
		Short: "Merge identities slot by slot",
		Long: `Merge identity files left to right and print the result with its hash.
Slots that cannot be reconciled become conflict values.

Exit codes:
  0 - Merged (conflicts are reported, not fatal)
  1 - Merged with conflicts and --strict was given
  2 - Command error (unreadable or invalid identity file)`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := rootOpts.formatter(cmd)

			ids := make([]pf16.Identity, 0, len(args))
			for _, path := range args {
				data, err := readInput(cmd, path)
				if err != nil {
					return f.Fail(ExitCommandError, ErrCodeInvalidInput, "failed to read identity", err)
				}
				var id pf16.Identity
				if err := json.Unmarshal(data, &id); err != nil {
					return f.Fail(ExitCommandError, ErrCodeInvalidInput, fmt.Sprintf("invalid identity %s", path), err)
				}
				ids = append(ids, id)
			}

			merged, _ := pf16.MergeAll(ids...)
			return writeIdentity(f, merged, strict)
		},
	}

	cmd.Flags().BoolVar(&strict, "strict", false, "exit 1 when the merge leaves conflicts")

	return cmd
}

func writeIdentity(f *OutputFormatter, id pf16.Identity, strict bool) error {
	hash, err := pf16.Hash(id)
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeInvalidInput, "cannot hash identity", err)
	}
	conflicts := pf16.Conflicts(id)
	if conflicts == nil {
		conflicts = []string{}
	}
	result := IdentityResult{Hash: hash, Identity: id, Conflicts: conflicts}
	text := func(w io.Writer) {
		body, _ := addr.Canonicalize(id)
		fmt.Fprintf(w, "hash: %s\n%s\n", hash, body)
		for _, c := range conflicts {
			fmt.Fprintf(w, "conflict: %s\n", c)
		}
	}
	if strict && len(conflicts) > 0 {
		msg := "merged identity has conflicts: " + strings.Join(conflicts, ", ")
		return f.Reject(ExitFailure, ErrCodeConflict, msg, result, text)
	}
	return f.Success(result, text)
}

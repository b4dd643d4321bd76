// cmd/sod/main.go
package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"sod/internal/auxstore"
	"sod/internal/commit"
	"sod/internal/digest"
	"sod/internal/errs"
	"sod/internal/history"
	"sod/internal/objstore"
	"sod/internal/repo"
	"sod/internal/restore"
	"sod/internal/scanner"
	"sod/internal/sodconfig"
	"sod/internal/treediff"
)

var debugFlag bool

var rootCmd = &cobra.Command{
	Use:   "sod",
	Short: "Sod tracks digests of large, mostly-immutable file collections",
	Long: `Sod is a special-purpose revision control system for large, mostly-immutable
file collections such as photo and video archives. Unlike conventional VCSes
it does not store file contents; it tracks only the cryptographic digests of
working-tree files, together with their paths, commit history, and rename
relationships. Rollback is delegated to external auxiliary data stores.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	debugFlag = os.Getenv("SOD_DEBUG") == "1"
	rootCmd.PersistentFlags().BoolVar(&debugFlag, "debug", debugFlag, "verbose diagnostics")
	rootCmd.AddCommand(
		newInitCmd(),
		newStatusCmd(),
		newAddCmd(),
		newResetCmd(),
		newCommitCmd(),
		newLogCmd(),
		newDiffCmd(),
		newRestoreCmd(),
		newConfigCmd(),
		newAuxCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "sod:", err)
		os.Exit(exitCodeFor(err))
	}
}

func exitCodeFor(err error) int {
	if se, ok := errs.As(err); ok {
		return se.Kind.ExitCode()
	}
	return 2
}

func openRepo() (*repo.Repository, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("getting current directory: %w", err)
	}
	return repo.Open(cwd, debugFlag)
}

func newInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create an empty sod repository",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := os.Getwd()
			if err != nil {
				return err
			}
			if err := repo.Initialize(dir); err != nil {
				return err
			}
			fmt.Println("Initialized empty sod repository in", dir)
			return nil
		},
	}
}

func headFlat(r *repo.Repository) (objstore.Commit, map[string]objstore.FlatEntry, error) {
	headDigest, hasHead, err := r.Store.ReadRef(commit.RefName)
	if err != nil {
		return objstore.Commit{}, nil, err
	}
	if !hasHead {
		return objstore.Commit{}, map[string]objstore.FlatEntry{}, nil
	}
	c, err := r.Store.GetCommit(headDigest)
	if err != nil {
		return objstore.Commit{}, nil, err
	}
	flat, err := r.Store.Flatten(c.TreeDigest)
	if err != nil {
		return objstore.Commit{}, nil, err
	}
	return c, flat, nil
}

func scanWorking(r *repo.Repository, rehash, includeIgnored bool) (scanner.Result, error) {
	return scanner.Scan(r.Root, r.Cache, scanner.Options{
		IncludeIgnored: includeIgnored,
		Rehash:         rehash,
	})
}

// reportScanErrors prints the per-file I/O errors the scanner collected
// instead of aborting the walk (spec.md §7 "per-file I/O errors during
// scan are aggregated and reported at the end").
func reportScanErrors(scanResult scanner.Result) {
	for _, f := range scanResult.Files {
		if f.Err != nil {
			fmt.Fprintf(os.Stderr, "sod: warning: %s: %v\n", f.Path, f.Err)
		}
	}
}

func newStatusCmd() *cobra.Command {
	var rehash, ignored, stagedOnly bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the working tree status",
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := openRepo()
			if err != nil {
				return err
			}
			defer r.Close()

			_, head, err := headFlat(r)
			if err != nil {
				return err
			}
			staged := r.Index.StagedFlat(head)

			e := treediff.NewEngine(treediff.Options{Filter: treediff.AllFilter})
			green := color.New(color.FgGreen).SprintFunc()
			stagedVsHead := e.Diff(head, staged)

			if stagedOnly {
				if len(stagedVsHead.Entries) == 0 {
					fmt.Println("nothing staged for commit")
					return nil
				}
				fmt.Println("Changes staged for commit:")
				for _, en := range stagedVsHead.Entries {
					fmt.Printf("\t%s %s\n", green(string(en.Status)), pathLabel(en))
				}
				return nil
			}

			scanResult, err := scanWorking(r, rehash, ignored)
			if err != nil {
				return err
			}
			reportScanErrors(scanResult)
			workingFlat := make(map[string]objstore.FlatEntry, len(scanResult.Files))
			for _, f := range scanResult.Files {
				if f.Err != nil {
					continue
				}
				workingFlat[f.Path] = objstore.FlatEntry{Digest: f.Digest, Mode: f.Mode, Symlink: f.Symlink}
			}
			workingVsStaged := e.Diff(staged, workingFlat)

			yellow := color.New(color.FgYellow).SprintFunc()
			blue := color.New(color.FgBlue).SprintFunc()
			red := color.New(color.FgRed).SprintFunc()

			if len(stagedVsHead.Entries) == 0 && len(workingVsStaged.Entries) == 0 {
				fmt.Println("nothing to commit, working tree clean")
				return nil
			}

			if len(stagedVsHead.Entries) > 0 {
				fmt.Println("Changes staged for commit:")
				for _, en := range stagedVsHead.Entries {
					fmt.Printf("\t%s %s\n", green(string(en.Status)), pathLabel(en))
				}
				fmt.Println()
			}
			if len(workingVsStaged.Entries) > 0 {
				fmt.Println("Changes not staged:")
				for _, en := range workingVsStaged.Entries {
					label := yellow(string(en.Status))
					if en.Status == treediff.StatusAdded {
						label = blue(string(en.Status))
					} else if en.Status == treediff.StatusDeleted {
						label = red(string(en.Status))
					}
					fmt.Printf("\t%s %s\n", label, pathLabel(en))
				}
			}

			if len(scanResult.Ignored) > 0 && ignored {
				fmt.Println("\nIgnored paths:")
				for _, p := range scanResult.Ignored {
					fmt.Printf("\t%s\n", p)
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&rehash, "rehash", false, "bypass the digest cache and rehash every file")
	cmd.Flags().BoolVar(&ignored, "ignored", false, "also list ignored paths")
	cmd.Flags().BoolVar(&stagedOnly, "staged", false, "report only the HEAD-vs-STAGED diff, skipping the working-tree scan")
	return cmd
}

func pathLabel(e treediff.Entry) string {
	if e.NewPath != "" {
		return e.OldPath + " -> " + e.NewPath
	}
	return e.OldPath
}

func newAddCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "add PATTERNS...",
		Short: "Stage paths matching the given glob patterns",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := openRepo()
			if err != nil {
				return err
			}
			defer r.Close()

			_, head, err := headFlat(r)
			if err != nil {
				return err
			}
			scanResult, err := scanWorking(r, false, false)
			if err != nil {
				return err
			}
			reportScanErrors(scanResult)
			matched := r.Index.Add(args, head, scanResult.Files)
			if matched == 0 {
				return errs.NoMatch(strings.Join(args, " "))
			}
			return r.Index.Save()
		},
	}
}

func newResetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset PATTERNS...",
		Short: "Unstage paths matching the given glob patterns",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := openRepo()
			if err != nil {
				return err
			}
			defer r.Close()

			matched := r.Index.Reset(args)
			if matched == 0 {
				return errs.NoMatch(strings.Join(args, " "))
			}
			return r.Index.Save()
		},
	}
}

func newCommitCmd() *cobra.Command {
	var message string
	var noSnapshot bool
	cmd := &cobra.Command{
		Use:   "commit",
		Short: "Record the staged tree as a new commit",
		RunE: func(cmd *cobra.Command, args []string) error {
			if message == "" {
				return errs.BadArgument("commit message must not be empty (use -m)")
			}
			r, err := openRepo()
			if err != nil {
				return err
			}
			defer r.Close()

			snapshotCmd, _ := r.Config.Get(sodconfig.KeySnapshotCommand)
			authorName, _ := r.Config.Get(sodconfig.KeyUserName)

			res, err := commit.Commit(r.Store, r.Index, commit.Options{
				Message:            message,
				AuthorName:         authorName,
				NoSnapshot:         noSnapshot,
				SnapshotCommand:    snapshotCmd,
				CommitDateOverride: os.Getenv(commit.CommitDateEnvVar),
			}, r.Logger)
			if err != nil {
				return err
			}
			if err := r.Index.Save(); err != nil {
				return err
			}

			fmt.Printf("[%s] %s\n", digest.Digest(res.CommitDigest).String(), message)
			if res.HookRan && res.HookErr != nil {
				fmt.Fprintln(os.Stderr, "warning:", res.HookErr)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&message, "message", "m", "", "commit message")
	cmd.Flags().BoolVar(&noSnapshot, "no-snapshot", false, "do not invoke the configured snapshot.command")
	return cmd
}

func newLogCmd() *cobra.Command {
	var abbrevWidth int
	cmd := &cobra.Command{
		Use:   "log",
		Short: "Show commit history",
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := openRepo()
			if err != nil {
				return err
			}
			defer r.Close()

			headDigest, hasHead, err := r.Store.ReadRef(commit.RefName)
			if err != nil {
				return err
			}

			var matcher history.SnapshotMatcher = history.NoMatcher
			if reg, err := r.AuxRegistry(); err == nil {
				matcher = reg
			}

			entries, err := history.Walk(r.Store, headDigest, hasHead, matcher)
			if err != nil {
				return err
			}
			yellow := color.New(color.FgYellow).SprintFunc()
			for _, e := range entries {
				fmt.Print(strings.Replace(e.Format(abbrevWidth), "commit ", yellow("commit "), 1))
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&abbrevWidth, "abbrev", digest.AbbrevMinWidth, "abbreviated digest width (0 for full digests)")
	return cmd
}

func newDiffCmd() *cobra.Command {
	var abbrev, noAbbrev, raw, nullTerminated bool
	var filterLetters string
	var renameLimit int
	cmd := &cobra.Command{
		Use:   "diff [OLD [NEW]]",
		Short: "Show changes between two trees",
		Args:  cobra.RangeArgs(0, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := openRepo()
			if err != nil {
				return err
			}
			defer r.Close()

			if nullTerminated {
				raw = true
			}
			if raw {
				noAbbrev = true
			}

			old := "HEAD"
			newRef := "STAGED"
			if len(args) >= 1 {
				old = args[0]
			}
			if len(args) == 2 {
				newRef = args[1]
			}

			oldFlat, err := resolveFlat(r, old)
			if err != nil {
				return err
			}
			newFlat, err := resolveFlat(r, newRef)
			if err != nil {
				return err
			}

			filter := treediff.AllFilter
			if filterLetters != "" {
				filter, err = treediff.ParseFilter(filterLetters)
				if err != nil {
					return errs.BadArgument("%v", err)
				}
			}
			limit := treediff.DefaultRenameLimit
			if v, ok := r.Config.Get(sodconfig.KeyDiffRenameLimit); ok {
				if n, err := strconv.Atoi(v); err == nil {
					limit = n
				}
			}
			if renameLimit > 0 {
				limit = renameLimit
			}

			e := treediff.NewEngine(treediff.Options{
				RenameLimit:  limit,
				DetectCopies: treediff.RequestsCopies(filterLetters),
				Filter:       filter,
			})
			result := e.Diff(oldFlat, newFlat)

			if raw {
				fmt.Print(result.FormatRaw(nullTerminated))
				return nil
			}
			width := digest.AbbrevMinWidth
			if noAbbrev && !abbrev {
				width = 0
			}
			fmt.Print(result.Format(width))
			return nil
		},
	}
	cmd.Flags().BoolVar(&abbrev, "abbrev", false, "force abbreviated digests")
	cmd.Flags().BoolVar(&noAbbrev, "no-abbrev", false, "show full digests")
	cmd.Flags().BoolVar(&raw, "raw", false, "machine-readable output (implies --no-abbrev)")
	cmd.Flags().BoolVar(&nullTerminated, "null-terminated", false, "NUL-separated raw records (implies --raw)")
	cmd.Flags().StringVar(&filterLetters, "filter", "", "status-letter filter, e.g. AD or ad")
	cmd.Flags().IntVar(&renameLimit, "rename-limit", 0, "override diff.renameLimit for this invocation")
	return cmd
}

// resolveFlat resolves a diff endpoint: the literal names
// "HEAD"/"STAGED"/"WORKING", or a (possibly abbreviated) commit
// digest looked up against HEAD's ancestry.
func resolveFlat(r *repo.Repository, ref string) (map[string]objstore.FlatEntry, error) {
	_, head, err := headFlat(r)
	if err != nil {
		return nil, err
	}

	switch strings.ToUpper(ref) {
	case "HEAD":
		return head, nil
	case "STAGED":
		return r.Index.StagedFlat(head), nil
	case "WORKING":
		scanResult, err := scanWorking(r, false, false)
		if err != nil {
			return nil, err
		}
		flat := make(map[string]objstore.FlatEntry, len(scanResult.Files))
		for _, f := range scanResult.Files {
			if f.Err == nil {
				flat[f.Path] = objstore.FlatEntry{Digest: f.Digest, Mode: f.Mode, Symlink: f.Symlink}
			}
		}
		return flat, nil
	}

	c, err := resolveCommit(r, ref)
	if err != nil {
		return nil, err
	}
	return r.Store.Flatten(c.TreeDigest)
}

// resolveCommit looks ref up as a full or abbreviated commit digest
// among HEAD's ancestors.
func resolveCommit(r *repo.Repository, ref string) (objstore.Commit, error) {
	headDigest, hasHead, err := r.Store.ReadRef(commit.RefName)
	if err != nil {
		return objstore.Commit{}, err
	}
	if !hasHead {
		return objstore.Commit{}, errs.BadArgument("no commit found")
	}
	entries, err := history.Walk(r.Store, headDigest, true, history.NoMatcher)
	if err != nil {
		return objstore.Commit{}, err
	}
	lower := strings.ToLower(ref)
	for _, e := range entries {
		if strings.HasPrefix(e.Digest.String(), lower) {
			return e.Commit, nil
		}
	}
	return objstore.Commit{}, errs.BadArgument("unknown revision: %s", ref)
}

func newRestoreCmd() *cobra.Command {
	var at, from string
	cmd := &cobra.Command{
		Use:   "restore PATH",
		Short: "Restore a path from an auxiliary store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := openRepo()
			if err != nil {
				return err
			}
			defer r.Close()

			c := objstore.Commit{}
			var flat map[string]objstore.FlatEntry
			if at == "" {
				c, flat, err = headFlat(r)
			} else {
				c, err = resolveCommit(r, at)
				if err == nil {
					flat, err = r.Store.Flatten(c.TreeDigest)
				}
			}
			if err != nil {
				return err
			}

			reg, err := r.AuxRegistry()
			if err != nil {
				return err
			}

			results, err := restore.Restore(reg, c, flat, args[0], r.Root, restore.Options{AuxStoreName: from})
			if err != nil {
				return err
			}
			for _, res := range results {
				fmt.Printf("restored %s from %s\n", res.Path, res.RestoredFrom)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&at, "at", "", "commit to restore from (default: HEAD)")
	cmd.Flags().StringVar(&from, "from", "", "restrict restoration to this auxiliary store")
	return cmd
}

func newConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config [NAME[=VALUE]]",
		Short: "Get or set sod configuration",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := openRepo()
			if err != nil {
				return err
			}
			defer r.Close()

			if len(args) == 0 {
				for _, kv := range r.Config.All() {
					fmt.Printf("%s=%s\n", kv.Key, kv.Value)
				}
				return nil
			}

			arg := args[0]
			if eq := strings.IndexByte(arg, '='); eq >= 0 {
				name, value := arg[:eq], arg[eq+1:]
				if err := r.Config.Set(name, value); err != nil {
					return err
				}
				return r.Config.Save()
			}

			v, ok := r.Config.Get(arg)
			if !ok {
				return errs.BadArgument("no such configuration option: %s", arg)
			}
			fmt.Println(v)
			return nil
		},
	}
}

func newAuxCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "aux",
		Short: "Manage auxiliary data stores",
	}

	var storeType string
	addCmd := &cobra.Command{
		Use:   "add NAME URL",
		Short: "Register an auxiliary store",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := openRepo()
			if err != nil {
				return err
			}
			defer r.Close()

			s, err := aux.Add(args[0], args[1])
			if err != nil {
				return err
			}
			if err := r.Config.Set("aux."+s.Name+".url", s.URL); err != nil {
				return err
			}
			if err := r.Config.Set("aux."+s.Name+".type", s.Kind); err != nil {
				return err
			}
			return r.Config.Save()
		},
	}
	addCmd.Flags().StringVar(&storeType, "type", "plain", "store kind (only \"plain\" is supported)")

	updateCmd := &cobra.Command{
		Use:   "update [NAMES...]",
		Short: "Refresh the reverse digest index for one, several, or all stores",
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := openRepo()
			if err != nil {
				return err
			}
			defer r.Close()

			reg, err := r.AuxRegistry()
			if err != nil {
				return err
			}
			return reg.Update(args)
		},
	}
	updateCmd.Flags().Bool("all", true, "update every configured store (default)")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List configured auxiliary stores",
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := openRepo()
			if err != nil {
				return err
			}
			defer r.Close()

			for _, s := range r.ConfiguredAuxStores() {
				fmt.Printf("%s %s (%s)\n", s.Name, s.URL, s.Kind)
			}
			return nil
		},
	}

	removeCmd := &cobra.Command{
		Use:   "remove NAME",
		Short: "Remove an auxiliary store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := openRepo()
			if err != nil {
				return err
			}
			defer r.Close()

			if err := r.Config.Clear("aux." + args[0] + ".url"); err != nil {
				return err
			}
			if err := r.Config.Clear("aux." + args[0] + ".type"); err != nil {
				return err
			}
			return r.Config.Save()
		},
	}

	cmd.AddCommand(addCmd, updateCmd, listCmd, removeCmd)
	return cmd
}

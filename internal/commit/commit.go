// Package commit implements the commit engine of spec.md §4.H:
// materializing STAGED into a tree, writing the commit object,
// atomically updating the ref, and invoking the configured external
// snapshot hook when new content was introduced. Grounded on
// original_source/sod/repository.py's commit/maybe_create_snapshot
// (author/timestamp defaults, SOD_COMMIT_DATE override, post-commit
// hook semantics) and the teacher's atomic-rename idiom for refs.
package commit

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"regexp"
	"strconv"
	"time"

	"sod/internal/errs"
	"sod/internal/objstore"
	"sod/internal/sodlog"
	"sod/internal/stage"
	"sod/internal/treediff"

	"go.uber.org/zap"
)

// RefName is the single ref Sod maintains (spec.md §3 "Ref": "the sole
// ref used for history is the main branch pointer").
const RefName = "master"

// CommitDateEnvVar allows tests and scripted imports to pin a commit
// timestamp, matching original_source's SOD_COMMIT_DATE.
const CommitDateEnvVar = "SOD_COMMIT_DATE"

var commitDatePattern = regexp.MustCompile(`^([0-9]+) ([-+][0-9]{2})([0-9]{2})$`)

// Options configures a single commit.
type Options struct {
	Message    string
	AuthorName string
	NoSnapshot bool
	// SnapshotCommand is the configured snapshot.command shell line; empty
	// disables the hook regardless of NoSnapshot.
	SnapshotCommand string
	// HookTimeout bounds the snapshot command; zero means no timeout
	// (spec.md §5 default).
	HookTimeout time.Duration
	// CommitDateOverride, if non-empty, is the raw SOD_COMMIT_DATE value.
	CommitDateOverride string
}

// Result reports what Commit did.
type Result struct {
	Digest       objstore.Commit
	CommitDigest [32]byte
	HookRan      bool
	HookErr      error
}

// Commit performs the four steps of spec.md §4.H. It returns
// *errs.Error (KindNothingToCommit) when STAGED equals HEAD.
func Commit(store *objstore.Store, idx *stage.Index, opts Options, logger *sodlog.Logger) (Result, error) {
	if logger == nil {
		logger = sodlog.Nop()
	}

	headDigest, hasHead, err := store.ReadRef(RefName)
	if err != nil {
		return Result{}, errs.IOFailure(".sod/refs/heads/"+RefName, err)
	}

	var headTreeDigest objstore.Commit
	if hasHead {
		hc, err := store.GetCommit(headDigest)
		if err != nil {
			return Result{}, errs.ObjectStoreCorruption(headDigest.String(), err)
		}
		headTreeDigest = hc
	}

	headFlat, err := store.Flatten(headTreeDigest.TreeDigest)
	if err != nil {
		return Result{}, errs.ObjectStoreCorruption(headTreeDigest.TreeDigest.String(), err)
	}

	if idx.IsEmpty() {
		return Result{}, errs.NothingToCommit()
	}
	stagedFlat := idx.StagedFlat(headFlat)

	newTreeDigest, err := store.BuildTree(stagedFlat)
	if err != nil {
		return Result{}, errs.IOFailure(".sod/objects", err)
	}
	if hasHead && newTreeDigest == headTreeDigest.TreeDigest {
		return Result{}, errs.NothingToCommit()
	}

	ts, tz, err := resolveCommitTime(opts.CommitDateOverride)
	if err != nil {
		return Result{}, errs.BadArgument("%s: %v", CommitDateEnvVar, err)
	}

	c := objstore.Commit{
		TreeDigest:   newTreeDigest,
		ParentDigest: headDigest,
		HasParent:    hasHead,
		AuthorName:   opts.AuthorName,
		TimestampSec: ts,
		TZOffsetMin:  tz,
		Message:      opts.Message,
	}
	commitDigest, err := store.PutCommit(c)
	if err != nil {
		return Result{}, errs.IOFailure(".sod/objects", err)
	}

	if err := store.WriteRef(RefName, commitDigest); err != nil {
		return Result{}, errs.IOFailure(".sod/refs/heads/"+RefName, err)
	}
	idx.Clear()

	res := Result{Digest: c, CommitDigest: commitDigest}

	introducesNew := treediff.IntroducesNewContent(headFlat, stagedFlat)
	if !opts.NoSnapshot && opts.SnapshotCommand != "" && introducesNew {
		res.HookRan = true
		res.HookErr = runSnapshotHook(opts.SnapshotCommand, commitDigest.String(), opts.HookTimeout, logger)
	}

	return res, nil
}

// runSnapshotHook invokes the configured snapshot.command with the
// new commit's digest as its single argument, inheriting
// stdout/stderr, per spec.md §6. Failure is a warning, not fatal
// (spec.md §4.H step 4 / §7 HookFailure).
func runSnapshotHook(command, commitDigest string, timeout time.Duration, logger *sodlog.Logger) error {
	ctx := context.Background()
	var cancel context.CancelFunc
	if timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, "/bin/sh", "-c", command, "sod-snapshot", commitDigest)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		hookErr := errs.HookFailure(command, err)
		logger.Warn("snapshot command failed", zap.String("command", command), zap.Error(err))
		return hookErr
	}
	return nil
}

func resolveCommitTime(override string) (sec int64, tzOffsetMin int, err error) {
	if override == "" {
		now := time.Now()
		_, offsetSec := now.Zone()
		return now.Unix(), offsetSec / 60, nil
	}
	m := commitDatePattern.FindStringSubmatch(override)
	if m == nil {
		return 0, 0, errors.New("expected format \"<epoch seconds> <+-HHMM>\"")
	}
	sec, _ = strconv.ParseInt(m[1], 10, 64)
	hh, _ := strconv.Atoi(m[2][1:])
	mm, _ := strconv.Atoi(m[3])
	tz := hh*60 + mm
	if m[2][0] == '-' {
		tz = -tz
	}
	return sec, tz, nil
}

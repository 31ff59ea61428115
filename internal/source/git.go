// SPDX-License-Identifier: MPL-2.0

package source

import (
	"errors"
	"fmt"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
)

// shortHashLen is the number of hex digits kept from the HEAD commit hash.
const shortHashLen = 12

// dirtySuffix is appended to the revision when the worktree has changes.
const dirtySuffix = "-dirty"

// GitRevision returns the abbreviated HEAD commit of the repository that
// contains dir, with "-dirty" appended when the worktree has uncommitted
// changes. It returns "" and no error when dir is not inside a repository or
// the repository has no commits yet.
func GitRevision(dir string) (string, error) {
	repo, err := git.PlainOpenWithOptions(dir, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		if errors.Is(err, git.ErrRepositoryNotExists) {
			return "", nil
		}
		return "", fmt.Errorf("open git repository: %w", err)
	}

	head, err := repo.Head()
	if err != nil {
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			return "", nil
		}
		return "", fmt.Errorf("resolve HEAD: %w", err)
	}
	rev := head.Hash().String()[:shortHashLen]

	wt, err := repo.Worktree()
	if err != nil {
		// Bare repositories have no worktree to be dirty.
		if errors.Is(err, git.ErrIsBareRepository) {
			return rev, nil
		}
		return "", fmt.Errorf("open worktree: %w", err)
	}
	status, err := wt.Status()
	if err != nil {
		return "", fmt.Errorf("worktree status: %w", err)
	}
	if !status.IsClean() {
		rev += dirtySuffix
	}
	return rev, nil
}

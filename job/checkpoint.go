package job

import (
	"fmt"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/b00t-dev/acs/acserr"
)

// Checkpointer commits the working tree and optionally tags it, recording a
// real commit SHA. commands/job.rs's create_checkpoint shells out to `git
// add -A`, `git commit --allow-empty`, and `git tag -a`; this reimplements
// the same three steps via go-git so the commit SHA is available in-process
// instead of having to reparse `git log` output, and job_state.rs's
// add_checkpoint TODO ("Get from git") is no longer a TODO.
type Checkpointer struct {
	repoPath string
	author   string
	email    string
}

func NewCheckpointer(repoPath, author, email string) *Checkpointer {
	if author == "" {
		author = "acs"
	}
	if email == "" {
		email = "acs@localhost"
	}
	return &Checkpointer{repoPath: repoPath, author: author, email: email}
}

// Create stages every change, commits it (allowing an empty commit, same as
// the original's --allow-empty), and tags job/<jobName>/<checkpointName> if
// createTag is set. Returns the resulting CheckpointInfo.
func (cp *Checkpointer) Create(jobName, stepName, checkpointName string, createTag bool) (CheckpointInfo, error) {
	repo, err := git.PlainOpen(cp.repoPath)
	if err != nil {
		return CheckpointInfo{}, acserr.New(acserr.External, "job.Checkpointer.Create", err)
	}

	wt, err := repo.Worktree()
	if err != nil {
		return CheckpointInfo{}, acserr.New(acserr.External, "job.Checkpointer.Create", err)
	}
	if err := wt.AddWithOptions(&git.AddOptions{All: true}); err != nil {
		return CheckpointInfo{}, acserr.New(acserr.External, "job.Checkpointer.Create", err)
	}

	commitMsg := fmt.Sprintf("Job checkpoint: %s - %s", jobName, checkpointName)
	now := time.Now().UTC()
	sig := &object.Signature{Name: cp.author, Email: cp.email, When: now}

	commitHash, err := wt.Commit(commitMsg, &git.CommitOptions{
		Author:            sig,
		Committer:          sig,
		AllowEmptyCommits: true,
	})
	if err != nil {
		return CheckpointInfo{}, acserr.New(acserr.External, "job.Checkpointer.Create", err)
	}

	info := CheckpointInfo{
		StepName:       stepName,
		CheckpointName: checkpointName,
		GitCommit:      commitHash.String(),
		CreatedAt:      now,
	}

	if createTag {
		tagName := fmt.Sprintf("job/%s/%s", jobName, checkpointName)
		_, err := repo.CreateTag(tagName, commitHash, &git.CreateTagOptions{
			Tagger:  sig,
			Message: commitMsg,
		})
		if err != nil {
			return info, acserr.New(acserr.External, "job.Checkpointer.Create", err)
		}
		info.GitTag = tagName
	}

	return info, nil
}

// ListCheckpointTags returns every job checkpoint tag, optionally filtered
// to one job name (commands/job.rs's checkpoints_job, via `git tag -l`).
func (cp *Checkpointer) ListCheckpointTags(jobName string) ([]string, error) {
	repo, err := git.PlainOpen(cp.repoPath)
	if err != nil {
		return nil, acserr.New(acserr.External, "job.Checkpointer.ListCheckpointTags", err)
	}
	refs, err := repo.Tags()
	if err != nil {
		return nil, acserr.New(acserr.External, "job.Checkpointer.ListCheckpointTags", err)
	}

	prefix := "refs/tags/job/"
	if jobName != "" {
		prefix = "refs/tags/job/" + jobName + "/"
	}

	var tags []string
	err = refs.ForEach(func(ref *plumbing.Reference) error {
		name := ref.Name().String()
		if len(name) >= len(prefix) && name[:len(prefix)] == prefix {
			tags = append(tags, name[len("refs/tags/"):])
		}
		return nil
	})
	if err != nil {
		return nil, acserr.New(acserr.External, "job.Checkpointer.ListCheckpointTags", err)
	}
	return tags, nil
}

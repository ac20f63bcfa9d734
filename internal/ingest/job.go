// internal/ingest/job.go
package ingest

import (
	"context"
	"errors"
	"fmt"

	custom_errors "github.com/Lucky43620/OdooDevLogs/internal/errors"
	"github.com/Lucky43620/OdooDevLogs/internal/model"
	"github.com/Lucky43620/OdooDevLogs/internal/module"
)

// JobSpec describes one ingestion job: the cross product of repositories
// and branches, walked sequentially in request order.
type JobSpec struct {
	Mode         Mode     `json:"mode"`
	Repositories []string `json:"repositories"`
	Branches     []string `json:"branches"`
}

// RunJob ingests every (repository, branch) pair of the job spec
// sequentially. An ordinary failure is scoped to its pair and the job
// continues; storage exhaustion and cancellation abort the remaining pairs.
func (ing *Ingestor) RunJob(ctx context.Context, spec JobSpec, progress ProgressLog) error {
	if progress == nil {
		progress = nopProgress{}
	}
	progress.Append(fmt.Sprintf("job started: mode=%s repositories=%d branches=%d",
		spec.Mode, len(spec.Repositories), len(spec.Branches)))

	for _, repo := range spec.Repositories {
		for _, branch := range spec.Branches {
			if err := ctx.Err(); err != nil {
				progress.Append("job cancelled")
				return err
			}

			_, err := ing.Run(ctx, repo, branch, spec.Mode, progress)
			if err != nil {
				if errors.Is(err, custom_errors.ErrStorageExhausted) {
					progress.Append("job aborted: storage exhausted, free disk space before retrying")
					return err
				}
				if errors.Is(err, context.Canceled) {
					progress.Append("job cancelled")
					return err
				}
				// Scoped to this pair; already recorded in the import log.
				ing.logger.Error("Branch run failed", "repo", repo, "branch", branch, "error", err)
				continue
			}
		}
	}

	progress.Append("job finished")
	return nil
}

// RegisterRepository upserts a repository's metadata and branch list from
// the remote API, making it eligible for ingestion runs.
func (ing *Ingestor) RegisterRepository(ctx context.Context, fullName string) (model.Repository, error) {
	owner, name, err := SplitFullName(fullName)
	if err != nil {
		return model.Repository{}, err
	}

	remoteRepo, err := ing.remote.GetRepository(ctx, owner, name)
	if err != nil {
		return model.Repository{}, &custom_errors.RemoteAPIError{Op: "get repository " + fullName, Err: err}
	}

	repo, err := ing.store.UpsertRepository(ctx, remoteRepo)
	if err != nil {
		return model.Repository{}, classifyWriteError(err)
	}

	branches, err := ing.remote.ListBranches(ctx, owner, name)
	if err != nil {
		return model.Repository{}, &custom_errors.RemoteAPIError{Op: "list branches of " + fullName, Err: err}
	}

	for _, b := range branches {
		_, err := ing.store.UpsertBranch(ctx, model.Branch{
			RepoID:        repo.ID,
			Name:          b.Name,
			IsDefault:     b.Name == remoteRepo.DefaultBranch,
			LastCommitSHA: b.CommitSHA,
		})
		if err != nil {
			return model.Repository{}, classifyWriteError(err)
		}
	}

	ing.logger.Info("Repository registered", "repo", fullName, "branches", len(branches))
	return repo, nil
}

// BackfillModules re-derives the modules table from the changed-file paths
// already stored for a repository. Existing module rows are untouched
// (first writer wins).
func (ing *Ingestor) BackfillModules(ctx context.Context, fullName string) (int, error) {
	repo, err := ing.store.GetRepositoryByFullName(ctx, fullName)
	if err != nil {
		return 0, err
	}

	filenames, err := ing.store.ListChangedFilenames(ctx, repo.ID)
	if err != nil {
		return 0, err
	}

	names := module.DetectAll(filenames)
	for _, name := range names {
		if err := ing.store.InsertModule(ctx, repo.ID, name, module.PathPrefix(name)); err != nil {
			return 0, classifyWriteError(err)
		}
	}

	ing.logger.Info("Module backfill finished", "repo", fullName, "modules", len(names))
	return len(names), nil
}

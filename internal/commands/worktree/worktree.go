// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package worktree implements `cook worktree`: list and reclaim orphaned
// worktrees, whether recorded in the orphan registry (destroy failed) or
// merely unreconciled on disk (no registry entry at all).
package worktree

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/cookflow/cook/internal/commands/shared"
	"github.com/cookflow/cook/internal/config"
	"github.com/cookflow/cook/internal/process"
	"github.com/cookflow/cook/internal/storage"
	wt "github.com/cookflow/cook/internal/worktree"
	"github.com/spf13/cobra"
)

var (
	repoFlag       string
	projectDirFlag string
	staleAfterFlag time.Duration
	jobIDFlag      string
	dryRunFlag     bool
	forceFlag      bool
)

// NewCommand builds the `cook worktree` command group.
func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "worktree",
		Short: "List and reclaim orphaned worktrees",
	}
	cmd.PersistentFlags().StringVar(&repoFlag, "repo", "default", "repository identifier under which state is namespaced")
	cmd.PersistentFlags().StringVar(&projectDirFlag, "project-dir", ".", "host repository working copy")
	cmd.PersistentFlags().DurationVar(&staleAfterFlag, "stale-after", time.Hour, "minimum age before an on-disk worktree with no registry entry counts as orphaned")

	cmd.AddCommand(newListCommand())
	cmd.AddCommand(newCleanOrphanedCommand())
	return cmd
}

func openManager() (*storage.Store, *wt.Manager, error) {
	cfg := config.FromEnv()
	store, err := storage.Open(cfg.StorageDir)
	if err != nil {
		return nil, nil, err
	}
	mgr := wt.NewManager(projectDirFlag, process.NewOSRunner(), store, repoFlag, "worktree-cli")
	return store, mgr, nil
}

// combinedOrphan merges a registry record (recorded when destroy failed)
// with the disk-scan heuristic (recorded when nothing ever tried to
// destroy it) into one display shape.
type combinedOrphan struct {
	JobID  string `json:"job_id,omitempty"`
	Path   string `json:"path"`
	Branch string `json:"branch,omitempty"`
	Reason string `json:"reason,omitempty"`
}

func listOrphans(cmd *cobra.Command, store *storage.Store, mgr *wt.Manager) ([]combinedOrphan, error) {
	var combined []combinedOrphan

	registered, err := store.Orphaned.ListAll(cmd.Context(), repoFlag)
	if err != nil {
		return nil, fmt.Errorf("reading orphan registry: %w", err)
	}
	for _, r := range registered {
		if jobIDFlag != "" && r.JobID != jobIDFlag {
			continue
		}
		combined = append(combined, combinedOrphan{JobID: r.JobID, Path: r.Path, Branch: r.Branch, Reason: r.Reason})
	}

	if jobIDFlag == "" {
		unregistered, err := mgr.ListOrphaned(cmd.Context(), staleAfterFlag)
		if err != nil {
			return nil, fmt.Errorf("scanning disk for orphaned worktrees: %w", err)
		}
		for _, h := range unregistered {
			combined = append(combined, combinedOrphan{Path: h.Path, Branch: h.Branch, Reason: "no registry entry, not reconciled"})
		}
	}
	return combined, nil
}

func newListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List orphaned worktrees: registry entries plus unreconciled disk state",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, mgr, err := openManager()
			if err != nil {
				return shared.NewExecutionError("opening storage", err)
			}
			defer store.Close()

			orphans, err := listOrphans(cmd, store, mgr)
			if err != nil {
				return shared.NewExecutionError("listing orphaned worktrees", err)
			}

			if shared.GetJSON() {
				type response struct {
					shared.JSONResponse
					Orphaned []combinedOrphan `json:"orphaned"`
				}
				resp := response{
					JSONResponse: shared.JSONResponse{Version: "1.0", Command: "worktree", Success: true},
					Orphaned:     orphans,
				}
				data, err := json.MarshalIndent(resp, "", "  ")
				if err != nil {
					return shared.NewExecutionError("marshaling orphan list", err)
				}
				fmt.Println(string(data))
				return nil
			}

			if len(orphans) == 0 {
				cmd.Println("no orphaned worktrees")
				return nil
			}
			for _, o := range orphans {
				cmd.Printf("%s\t%s\t%s\t%s\n", o.JobID, o.Branch, o.Path, o.Reason)
			}
			return nil
		},
	}
}

func newCleanOrphanedCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "clean-orphaned",
		Short: "Reclaim orphaned worktrees and clear their registry entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, mgr, err := openManager()
			if err != nil {
				return shared.NewExecutionError("opening storage", err)
			}
			defer store.Close()

			orphans, err := listOrphans(cmd, store, mgr)
			if err != nil {
				return shared.NewExecutionError("listing orphaned worktrees", err)
			}
			if len(orphans) == 0 {
				cmd.Println("no orphaned worktrees")
				return nil
			}

			if dryRunFlag {
				for _, o := range orphans {
					cmd.Printf("would remove %s (%s)\n", o.Path, o.Reason)
				}
				cmd.Printf("%d orphaned worktrees would be removed\n", len(orphans))
				return nil
			}

			if !forceFlag {
				cmd.Printf("about to remove %d orphaned worktrees; rerun with --force to proceed\n", len(orphans))
				for _, o := range orphans {
					cmd.Printf("  %s (%s)\n", o.Path, o.Reason)
				}
				return nil
			}

			var removed, failed int
			for _, o := range orphans {
				handle := &wt.Handle{Path: o.Path, Branch: o.Branch, ProjectDir: projectDirFlag}
				if err := mgr.Destroy(cmd.Context(), handle, true); err != nil {
					failed++
					continue
				}
				if o.JobID != "" {
					_ = store.Orphaned.Remove(cmd.Context(), repoFlag, o.JobID, o.Path)
				}
				removed++
			}

			cmd.Printf("removed %d of %d orphaned worktrees\n", removed, len(orphans))
			if failed > 0 {
				return shared.NewExecutionError(fmt.Sprintf("%d orphaned worktrees could not be removed and remain registered", failed), nil)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&jobIDFlag, "job-id", "", "restrict to one job's registry entries")
	cmd.Flags().BoolVar(&dryRunFlag, "dry-run", false, "report what would be removed without touching disk or the registry")
	cmd.Flags().BoolVar(&forceFlag, "force", false, "actually remove the worktrees instead of only reporting them")
	return cmd
}

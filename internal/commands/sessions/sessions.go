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

// Package sessions implements `cook sessions`: list and inspect persisted
// agent sessions.
package sessions

import (
	"encoding/json"
	"fmt"

	"github.com/cookflow/cook/internal/commands/shared"
	"github.com/cookflow/cook/internal/config"
	"github.com/cookflow/cook/internal/storage"
	"github.com/spf13/cobra"
)

var repoFlag string

// NewCommand builds the `cook sessions` command group.
func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List and inspect agent sessions",
	}
	cmd.PersistentFlags().StringVar(&repoFlag, "repo", "default", "repository identifier under which state is namespaced")

	cmd.AddCommand(newListCommand())
	cmd.AddCommand(newShowCommand())
	return cmd
}

func openStore() (*storage.Store, error) {
	cfg := config.FromEnv()
	return storage.Open(cfg.StorageDir)
}

func newListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List sessions recorded for a repository",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return shared.NewExecutionError("opening storage", err)
			}
			defer store.Close()

			list, err := store.Sessions.List(cmd.Context(), repoFlag)
			if err != nil {
				return shared.NewExecutionError("listing sessions", err)
			}

			if shared.GetJSON() {
				return emitSessionsJSON(list)
			}
			if len(list) == 0 {
				cmd.Println("no sessions recorded")
				return nil
			}
			for _, s := range list {
				cmd.Printf("%s\t%s\t%s\n", s.ID, s.Status, s.Branch)
			}
			return nil
		},
	}
}

func newShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show <session-id>",
		Short: "Show one session's stored state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return shared.NewExecutionError("opening storage", err)
			}
			defer store.Close()

			session, err := store.Sessions.Load(cmd.Context(), repoFlag, args[0])
			if err != nil {
				return shared.NewExecutionError("loading session", err)
			}
			if session == nil {
				return shared.NewArgumentError(fmt.Sprintf("session %q not found", args[0]), nil)
			}

			if shared.GetJSON() {
				return emitSessionsJSON([]*storage.Session{session})
			}
			cmd.Printf("id:          %s\n", session.ID)
			cmd.Printf("status:      %s\n", session.Status)
			cmd.Printf("workflow:    %s\n", session.WorkflowPath)
			cmd.Printf("branch:      %s\n", session.Branch)
			cmd.Printf("worktree:    %s\n", session.WorktreeDir)
			cmd.Printf("iterations:  %d\n", session.IterationsCompleted)
			cmd.Printf("files:       %d\n", session.FilesChanged)
			cmd.Printf("created_at:  %s\n", session.CreatedAt)
			cmd.Printf("updated_at:  %s\n", session.UpdatedAt)
			return nil
		},
	}
}

func emitSessionsJSON(list []*storage.Session) error {
	type response struct {
		shared.JSONResponse
		Sessions []*storage.Session `json:"sessions"`
	}
	resp := response{
		JSONResponse: shared.JSONResponse{Version: "1.0", Command: "sessions", Success: true},
		Sessions:     list,
	}
	data, err := json.MarshalIndent(resp, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

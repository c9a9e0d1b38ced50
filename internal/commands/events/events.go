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

// Package events implements `cook events`: tail the append-only event log
// recorded for a job.
package events

import (
	"encoding/json"
	"fmt"

	"github.com/cookflow/cook/internal/commands/shared"
	"github.com/cookflow/cook/internal/config"
	"github.com/cookflow/cook/internal/storage"
	"github.com/spf13/cobra"
)

var repoFlag string

// NewCommand builds the `cook events` command.
func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events <job-id>",
		Short: "Tail the event log recorded for a job",
		Args:  cobra.ExactArgs(1),
		RunE:  runEvents,
	}
	cmd.Flags().StringVar(&repoFlag, "repo", "default", "repository identifier under which state is namespaced")
	return cmd
}

func runEvents(cmd *cobra.Command, args []string) error {
	jobID := args[0]

	cfg := config.FromEnv()
	store, err := storage.Open(cfg.StorageDir)
	if err != nil {
		return shared.NewExecutionError("opening storage", err)
	}
	defer store.Close()

	eventList, err := store.Events.Tail(cmd.Context(), repoFlag, jobID)
	if err != nil {
		return shared.NewExecutionError("reading event log", err)
	}

	if shared.GetJSON() {
		type response struct {
			shared.JSONResponse
			Events []storage.Event `json:"events"`
		}
		resp := response{
			JSONResponse: shared.JSONResponse{Version: "1.0", Command: "events", Success: true},
			Events:       eventList,
		}
		data, err := json.MarshalIndent(resp, "", "  ")
		if err != nil {
			return shared.NewExecutionError("marshaling event log", err)
		}
		fmt.Println(string(data))
		return nil
	}

	for _, e := range eventList {
		cmd.Printf("%s  %-14s step=%s item=%s\n", e.Timestamp.Format("15:04:05.000"), e.Type, e.StepID, e.ItemID)
	}
	return nil
}

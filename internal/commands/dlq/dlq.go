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

// Package dlq implements `cook dlq`: inspect and requeue map-phase items
// that exhausted their retries.
package dlq

import (
	"encoding/json"
	"fmt"

	"github.com/cookflow/cook/internal/commands/shared"
	"github.com/cookflow/cook/internal/config"
	"github.com/cookflow/cook/internal/storage"
	"github.com/spf13/cobra"
)

var repoFlag string

// NewCommand builds the `cook dlq` command group.
func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dlq",
		Short: "Inspect and requeue dead-lettered map items",
	}
	cmd.PersistentFlags().StringVar(&repoFlag, "repo", "default", "repository identifier under which state is namespaced")

	cmd.AddCommand(newListCommand())
	cmd.AddCommand(newRetryCommand())
	return cmd
}

func openStore() (*storage.Store, error) {
	cfg := config.FromEnv()
	return storage.Open(cfg.StorageDir)
}

func newListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list <job-id>",
		Short: "List items a job's map phase gave up on",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return shared.NewExecutionError("opening storage", err)
			}
			defer store.Close()

			items, err := store.DLQ.List(cmd.Context(), repoFlag, args[0])
			if err != nil {
				return shared.NewExecutionError("listing dlq items", err)
			}

			if shared.GetJSON() {
				type response struct {
					shared.JSONResponse
					Items []*storage.DLQItem `json:"items"`
				}
				resp := response{
					JSONResponse: shared.JSONResponse{Version: "1.0", Command: "dlq", Success: true},
					Items:        items,
				}
				data, err := json.MarshalIndent(resp, "", "  ")
				if err != nil {
					return shared.NewExecutionError("marshaling dlq items", err)
				}
				fmt.Println(string(data))
				return nil
			}

			if len(items) == 0 {
				cmd.Println("no dead-lettered items")
				return nil
			}
			for _, item := range items {
				cmd.Printf("%s\tattempts=%d\t%s\n", item.ItemID, item.Attempts, item.Reason)
			}
			return nil
		},
	}
}

// newRetryCommand clears every item out of a job's dead-letter queue. It
// does not itself re-run anything: a map item only counts as done once it
// appears in the checkpoint's completed-items list, and dead-lettered
// items never reach that list, so the next `cook run --resume <job-id>`
// re-enumerates and re-attempts exactly the items this command clears.
func newRetryCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "retry <job-id>",
		Short: "Clear a job's dead-letter queue so its items are retried on the next resume",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jobID := args[0]
			store, err := openStore()
			if err != nil {
				return shared.NewExecutionError("opening storage", err)
			}
			defer store.Close()

			items, err := store.DLQ.List(cmd.Context(), repoFlag, jobID)
			if err != nil {
				return shared.NewExecutionError("listing dlq items", err)
			}
			if len(items) == 0 {
				cmd.Println("no dead-lettered items")
				return nil
			}

			var cleared int
			for _, item := range items {
				if err := store.DLQ.Remove(cmd.Context(), repoFlag, jobID, item.ItemID); err != nil {
					return shared.NewExecutionError(fmt.Sprintf("cleared %d of %d items before failing", cleared, len(items)), err)
				}
				cleared++
			}
			cmd.Printf("cleared %d items from job %s's dead-letter queue; resume the job to retry them\n", cleared, jobID)
			return nil
		},
	}
}

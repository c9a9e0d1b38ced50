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

// Command cook runs AI-assisted workflows against a git repository.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/cookflow/cook/internal/cli"
	"github.com/cookflow/cook/internal/commands/dlq"
	"github.com/cookflow/cook/internal/commands/events"
	"github.com/cookflow/cook/internal/commands/run"
	"github.com/cookflow/cook/internal/commands/sessions"
	versioncmd "github.com/cookflow/cook/internal/commands/version"
	"github.com/cookflow/cook/internal/commands/worktree"
)

// Version information (injected via ldflags at build time).
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	cli.SetVersion(version, commit, buildDate)

	rootCmd := cli.NewRootCommand()

	rootCmd.AddCommand(run.NewCommand())
	rootCmd.AddCommand(sessions.NewCommand())
	rootCmd.AddCommand(events.NewCommand())
	rootCmd.AddCommand(worktree.NewCommand())
	rootCmd.AddCommand(dlq.NewCommand())
	rootCmd.AddCommand(versioncmd.NewVersionCommand())

	rootCmd.SetHelpCommand(cli.NewHelpCommand(rootCmd))

	// A SIGINT/SIGTERM cancels the command's context rather than killing the
	// process outright, so an in-flight run's engine sees ctx.Err() and can
	// record session Interrupted, take a final checkpoint, and let worktree
	// teardown run before the process actually exits.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		fmt.Fprintf(os.Stderr, "\nreceived %v, interrupting...\n", sig)
		cancel()
	}()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		cli.HandleExitError(err)
	}
}

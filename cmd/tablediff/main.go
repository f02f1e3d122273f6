// Copyright 2021-present The Tablediff Authors. All rights reserved.
// This source code is licensed under the Apache 2.0 license found
// in the LICENSE file in the root directory of this source tree.

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	// Register the backend drivers.
	_ "github.com/tablediff/tablediff/sql/mysql"
	_ "github.com/tablediff/tablediff/sql/postgres"
	_ "github.com/tablediff/tablediff/sql/sqlite"
)

// version is set by the release build.
var version = "dev"

func main() {
	root := &cobra.Command{
		Use:          "tablediff",
		Short:        "Compare tables across relational stores",
		SilenceUsage: true,
	}
	root.AddCommand(diffCmd(), versionCmd())
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version of the tablediff binary",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "tablediff %s\n", version)
		},
	}
}

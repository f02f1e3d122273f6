// Copyright 2021-present The Tablediff Authors. All rights reserved.
// This source code is licensed under the Apache 2.0 license found
// in the LICENSE file in the root directory of this source tree.

package main

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tablediff/tablediff/diffhcl"
	"github.com/tablediff/tablediff/sql/sqlclient"
	"github.com/tablediff/tablediff/sql/sqldiff"
	"github.com/tablediff/tablediff/sql/sqldiff/sink"
)

type diffFlags struct {
	spec    string
	json    bool
	sinkURL string
	verbose bool
}

func diffCmd() *cobra.Command {
	var flags diffFlags
	cmd := &cobra.Command{
		Use:   "diff",
		Short: "Run the comparisons of a run-specification file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDiff(cmd, &flags)
		},
	}
	cmd.Flags().StringVar(&flags.spec, "spec", "", "path to the HCL run specification")
	cmd.Flags().BoolVar(&flags.json, "json", false, "emit records as JSON lines")
	cmd.Flags().StringVar(&flags.sinkURL, "sink-url", "", "report database the records are upserted into")
	cmd.Flags().BoolVarP(&flags.verbose, "verbose", "v", false, "enable debug logging")
	cobra.CheckErr(cmd.MarkFlagRequired("spec"))
	return cmd
}

func runDiff(cmd *cobra.Command, flags *diffFlags) error {
	ctx := cmd.Context()
	logger, err := newLogger(flags.verbose)
	if err != nil {
		return err
	}
	defer logger.Sync()
	f, err := diffhcl.DecodeFile(flags.spec)
	if err != nil {
		return err
	}
	for _, d := range f.Diffs {
		if err := runOne(ctx, cmd, flags, d, logger); err != nil {
			return fmt.Errorf("diff %q: %w", d.Name, err)
		}
	}
	return nil
}

func runOne(ctx context.Context, cmd *cobra.Command, flags *diffFlags, d *diffhcl.Diff, logger *zap.Logger) error {
	left, err := sqlclient.Open(ctx, d.Left.URL)
	if err != nil {
		return err
	}
	defer left.Close()
	var right *sqlclient.Client
	if d.Right.URL == d.Left.URL {
		right = left
	} else {
		if right, err = sqlclient.Open(ctx, d.Right.URL); err != nil {
			return err
		}
		defer right.Close()
	}
	opts := d.Options()
	opts.Logger = logger.Named(d.Name)
	ls := d.Left.Segment(left, d.KeyColumns, d.UpdateColumn)
	rs := d.Right.Segment(right, d.KeyColumns, d.UpdateColumn)
	stream, err := sqldiff.DiffTables(ctx, ls, rs, opts)
	if err != nil {
		return err
	}
	out, err := newSink(cmd, flags)
	if err != nil {
		return err
	}
	run := &sink.Run{
		ID:         stream.RunID(),
		LeftURL:    left.URL(),
		RightURL:   right.URL(),
		LeftTable:  d.Left.Table,
		RightTable: d.Right.Table,
		KeyColumns: stream.KeyColumns(),
		Columns:    stream.Columns(),
		Algorithm:  string(opts.Algorithm),
		StartedAt:  time.Now().UTC(),
	}
	if err := sink.Drain(ctx, out, run, stream); err != nil {
		return err
	}
	printSummary(cmd, d.Name, stream.Stats())
	return nil
}

// newSink picks the record destination: a report database, JSON lines
// on stdout, or the plain text printer.
func newSink(cmd *cobra.Command, flags *diffFlags) (sink.Sink, error) {
	switch {
	case flags.sinkURL != "":
		c, err := sqlclient.Open(cmd.Context(), flags.sinkURL)
		if err != nil {
			return nil, fmt.Errorf("opening sink database: %w", err)
		}
		return &dbSink{DB: sink.NewDB(sqlx.NewDb(c.DB, bindName(c.Name()))), client: c}, nil
	case flags.json:
		return sink.NewJSONLines(cmd.OutOrStdout()), nil
	default:
		return &textSink{cmd: cmd}, nil
	}
}

// bindName maps a dialect name to the driver name sqlx derives its
// bindvar style from.
func bindName(name string) string {
	if name == "sqlite" {
		return "sqlite3"
	}
	return name
}

// dbSink closes the report connection after the run is persisted.
type dbSink struct {
	*sink.DB
	client *sqlclient.Client
}

func (s *dbSink) Close(ctx context.Context, stats *sqldiff.RunStats, runErr error) error {
	err := s.DB.Close(ctx, stats, runErr)
	if cerr := s.client.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

// textSink prints one line per record.
type textSink struct {
	cmd *cobra.Command
}

func (t *textSink) Start(context.Context, *sink.Run) error { return nil }

func (t *textSink) Write(_ context.Context, rec sqldiff.Record) error {
	_, err := fmt.Fprintf(t.cmd.OutOrStdout(), "%s %s\n", rec.Kind, rec.Key)
	return err
}

func (t *textSink) Close(context.Context, *sqldiff.RunStats, error) error { return nil }

func printSummary(cmd *cobra.Command, name string, stats *sqldiff.RunStats) {
	w := cmd.ErrOrStderr()
	fmt.Fprintf(w, "%s: %d differences (%d left rows, %d right rows, %d checksum queries, %d rows fetched)\n",
		name, stats.Diffs(), stats.RowsLeft(), stats.RowsRight(), stats.Checksums(), stats.RowsFetched())
	warns := stats.Warnings()
	sort.Slice(warns, func(i, j int) bool { return warns[i].Code < warns[j].Code })
	for _, warn := range warns {
		fmt.Fprintf(w, "warning [%s]: %s\n", warn.Code, warn.Message)
	}
}

func newLogger(verbose bool) (*zap.Logger, error) {
	if !verbose {
		return zap.NewNop(), nil
	}
	cfg := zap.NewDevelopmentConfig()
	cfg.OutputPaths = []string{"stderr"}
	return cfg.Build()
}

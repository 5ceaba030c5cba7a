package main

import (
	"context"
	"fmt"
	"io"

	"github.com/umputun/dbx/pkg/db"
)

// runQuery executes a single query with parameters in the default session and prints the outcome
func runQuery(ctx context.Context, d *db.Database, query string, specs []paramSpec, text bool, out io.Writer) error {
	c, err := d.RetrieveConnection(ctx)
	if err != nil {
		return err
	}

	var cmd command = c.NewStatement(query)
	if text {
		cmd = c.NewQuery(query)
	}
	defer func() {
		if err := cmd.Cleanup(); err != nil {
			fmt.Fprintf(out, "can't clean up: %v\n", err)
		}
	}()

	if err := createParams(cmd, specs); err != nil {
		return err
	}
	if err := cmd.Initialize(ctx); err != nil {
		return err
	}
	if err := setParams(cmd, specs); err != nil {
		return err
	}
	return execute(ctx, cmd, query, out)
}

// execute runs an initialized command, selects print rows and updates print the affected rows count
func execute(ctx context.Context, cmd command, query string, out io.Writer) error {
	if returnsRows(query) {
		res, err := cmd.ExecuteSelect(ctx)
		if err != nil {
			return err
		}
		if res == nil {
			return cmd.LastError()
		}
		renderResult(out, res)
		renderOutParams(out, cmd.Parameters())
		return nil
	}

	ok, err := cmd.ExecuteUpdate(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return cmd.LastError()
	}
	renderUpdate(out, cmd.RowsAffected())
	renderOutParams(out, cmd.Parameters())
	return nil
}

// runStatement executes a parameterless statement on c
func runStatement(ctx context.Context, c *db.Connection, query string, out io.Writer) error {
	q := c.NewQuery(query)
	defer q.Cleanup() //nolint:errcheck // queries hold no native handles
	if err := q.Initialize(ctx); err != nil {
		return err
	}
	return execute(ctx, q, query, out)
}

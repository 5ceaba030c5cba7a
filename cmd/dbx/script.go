package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	"github.com/go-pkgz/stringutils"
	"github.com/go-pkgz/syncs"

	"github.com/umputun/dbx/pkg/db"
	"github.com/umputun/dbx/pkg/output"
)

const scriptTxName = "dbx_script"

// scriptsRun defines how scripts are run
type scriptsRun struct {
	files      []string
	conc       int
	tx         bool     // every script in a transaction
	stream     bool     // print lines as they go, prefixed with the script name
	secrets    []string // masked in the output
	monochrome bool
}

// runScripts runs every script in its own session, up to conc scripts at once. Output of each
// script is collected and printed in the order of files when all are done, unless streamed.
func runScripts(ctx context.Context, d *db.Database, sr scriptsRun, out io.Writer) error {
	conc := max(sr.conc, 1)
	base := output.New(out, sr.secrets, sr.monochrome)
	outputs := make([]bytes.Buffer, len(sr.files))

	wg := syncs.NewErrSizedGroup(conc, syncs.Context(ctx), syncs.Preemptive)
	for i, file := range sr.files {
		wg.Go(func() error {
			var wr io.Writer = &outputs[i]
			if sr.stream {
				wr = base.WithSource(filepath.Base(file))
			}
			fmt.Fprintf(wr, "== %s\n", file)
			err := d.Session(ctx, func(ctx context.Context, c *db.Connection) error {
				return runScript(ctx, c, file, sr.tx, wr)
			})
			if err != nil {
				fmt.Fprintf(wr, "failed: %v\n", err)
				return fmt.Errorf("script %s: %w", file, err)
			}
			return nil
		})
	}
	err := wg.Wait()

	if !sr.stream {
		for i := range outputs {
			if _, werr := base.Write(outputs[i].Bytes()); werr != nil {
				log.Printf("[WARN] can't write output: %v", werr)
			}
		}
	}
	return err
}

// runScript executes statements of file one by one on c and stops on the first failure.
// With tx the statements run in a transaction committed at the end and rolled back on failure.
func runScript(ctx context.Context, c *db.Connection, file string, tx bool, out io.Writer) (err error) {
	data, err := os.ReadFile(file) //nolint:gosec // file is given by user
	if err != nil {
		return fmt.Errorf("can't read script: %w", err)
	}
	stmts, err := c.Backend().Scanner().SplitScript(string(data))
	if err != nil {
		return fmt.Errorf("can't split script: %w", err)
	}
	log.Printf("[DEBUG] script %s, %d statements", file, len(stmts))

	if tx {
		if err = c.BeginTransaction(ctx, scriptTxName); err != nil {
			return err
		}
		defer func() {
			if err != nil {
				if rerr := c.RollBack(ctx); rerr != nil {
					log.Printf("[WARN] can't roll back %s: %v", file, rerr)
				}
				fmt.Fprintln(out, "rolled back")
				return
			}
			if err = c.Commit(ctx); err == nil {
				fmt.Fprintln(out, "committed")
			}
		}()
	}

	for i, stmt := range stmts {
		// statement output goes in one piece, table renderers write partial lines
		buf := bytes.Buffer{}
		fmt.Fprintf(&buf, "-- [%d] %s\n", i+1, stringutils.Truncate(stmt, 80))
		err = runStatement(ctx, c, stmt, &buf)
		if _, werr := out.Write(buf.Bytes()); werr != nil {
			log.Printf("[WARN] can't write output of %s: %v", file, werr)
		}
		if err != nil {
			return fmt.Errorf("statement %d: %w", i+1, err)
		}
	}
	return nil
}

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"
	"github.com/olekukonko/tablewriter"

	"github.com/umputun/dbx/pkg/db"
)

const (
	prompt     = "dbx> "
	contPrompt = "  -> "
)

// repl keeps the state of interactive session, statements may span lines and end with ";"
type repl struct {
	d       *db.Database
	profile string
	out     io.Writer
	buf     strings.Builder
}

// runRepl reads statements and commands from terminal until \q or EOF
func runRepl(ctx context.Context, d *db.Database, profile string, out io.Writer) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          prompt,
		HistoryFile:     historyFile(),
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
		Stdout:          out,
	})
	if err != nil {
		return fmt.Errorf("can't make readline: %w", err)
	}
	defer rl.Close() //nolint:errcheck // nothing to do on close failure

	r := &repl{d: d, profile: profile, out: out}
	fmt.Fprintf(out, "connected to %s, \\h for help\n", d.Backend().Name())
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			if len(line) == 0 && r.buf.Len() == 0 {
				return nil
			}
			r.buf.Reset() // ^C drops the statement being typed
			rl.SetPrompt(prompt)
			continue
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("can't read line: %w", err)
		}
		if r.process(ctx, line) {
			return nil
		}
		if r.buf.Len() > 0 {
			rl.SetPrompt(contPrompt)
			continue
		}
		rl.SetPrompt(prompt)
	}
}

// process handles one input line and returns true to quit. Errors are printed, not returned.
func (r *repl) process(ctx context.Context, line string) (quit bool) {
	trimmed := strings.TrimSpace(line)
	if r.buf.Len() == 0 {
		switch {
		case trimmed == "":
			return false
		case trimmed == "quit" || trimmed == "exit" || trimmed == `\q`:
			return true
		case strings.HasPrefix(trimmed, `\`):
			if err := r.command(ctx, trimmed); err != nil {
				fmt.Fprintf(r.out, "error: %v\n", err)
			}
			return false
		}
	}

	r.buf.WriteString(line)
	r.buf.WriteString("\n")
	if !strings.HasSuffix(trimmed, ";") {
		return false
	}
	text := r.buf.String()
	r.buf.Reset()
	if err := r.statements(ctx, text); err != nil {
		fmt.Fprintf(r.out, "error: %v\n", err)
	}
	return false
}

// statements runs every statement of text in the default session
func (r *repl) statements(ctx context.Context, text string) error {
	c, err := r.d.RetrieveConnection(ctx)
	if err != nil {
		return err
	}
	stmts, err := c.Backend().Scanner().SplitScript(text)
	if err != nil {
		return err
	}
	for _, stmt := range stmts {
		if err := runStatement(ctx, c, stmt, r.out); err != nil {
			return err
		}
	}
	return nil
}

// command handles a backslash command
func (r *repl) command(ctx context.Context, line string) error {
	name, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)
	needArg := func() error {
		if arg == "" {
			return fmt.Errorf("%s needs a database name", name)
		}
		return nil
	}

	switch name {
	case `\h`, `\?`:
		r.help()
		return nil
	case `\begin`:
		if err := r.d.BeginTransaction(ctx, arg); err != nil {
			return err
		}
		fmt.Fprintln(r.out, "transaction started")
		return nil
	case `\commit`:
		if err := r.d.Commit(ctx); err != nil {
			return err
		}
		fmt.Fprintln(r.out, "committed")
		return nil
	case `\rollback`:
		if err := r.d.RollBack(ctx); err != nil {
			return err
		}
		fmt.Fprintln(r.out, "rolled back")
		return nil
	case `\use`:
		if err := needArg(); err != nil {
			return err
		}
		if err := r.d.SelectDatabase(ctx, arg); err != nil {
			return err
		}
		fmt.Fprintf(r.out, "using %s\n", arg)
		return nil
	case `\create`:
		if err := needArg(); err != nil {
			return err
		}
		if err := r.d.CreateDatabase(ctx, arg); err != nil {
			return err
		}
		fmt.Fprintf(r.out, "database %s created\n", arg)
		return nil
	case `\drop`:
		if err := needArg(); err != nil {
			return err
		}
		if err := r.d.DestroyDatabase(ctx, arg); err != nil {
			return err
		}
		fmt.Fprintf(r.out, "database %s dropped\n", arg)
		return nil
	case `\backends`:
		fmt.Fprintln(r.out, strings.Join(db.Backends(), ", "))
		return nil
	case `\status`:
		return r.status(ctx)
	}
	return fmt.Errorf("unknown command %s, \\h for help", name)
}

func (r *repl) status(ctx context.Context) error {
	c, err := r.d.RetrieveConnection(ctx)
	if err != nil {
		return err
	}
	tx := "none"
	if c.IsInTransaction() {
		tx = "active"
		if name := c.TransactionName(); name != "" {
			tx = "active " + name
		}
	}
	table := tablewriter.NewWriter(r.out)
	table.SetBorder(false)
	table.AppendBulk([][]string{
		{"profile", r.profile},
		{"backend", c.Backend().Name()},
		{"connection", c.Params().String()},
		{"state", c.State().String()},
		{"transaction", tx},
	})
	table.Render()
	return nil
}

func (r *repl) help() {
	table := tablewriter.NewWriter(r.out)
	table.SetHeader([]string{"Command", "Description"})
	table.SetAutoFormatHeaders(false)
	table.SetBorder(false)
	table.AppendBulk([][]string{
		{`\begin [name]`, "start a transaction"},
		{`\commit`, "commit the transaction"},
		{`\rollback`, "roll back the transaction"},
		{`\use name`, "switch to database"},
		{`\create name`, "create database"},
		{`\drop name`, "drop database"},
		{`\backends`, "list backends"},
		{`\status`, "show connection status"},
		{`\q`, "quit"},
	})
	table.Render()
	fmt.Fprintln(r.out, "statements end with ';' and may span lines")
}

func historyFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".dbx_history")
}

// ABOUTME: The ledger command: prints recent tool calls and totals from the SQLite ledger
// ABOUTME: Supports filtering by user key, tool name, age and success, or showing one call by id

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"

	"github.com/nscnavi/leadbridge/internal/store"
)

// LedgerCmd lists recorded tool calls.
type LedgerCmd struct {
	ID        string        `long:"id" description:"show one call in full, including its arguments"`
	User      string        `short:"u" long:"user" description:"only calls for this user key, e.g. telegram:12345"`
	Tool      string        `short:"t" long:"tool" description:"only calls of this tool"`
	Since     time.Duration `short:"s" long:"since" description:"only calls newer than this age, e.g. 24h"`
	Succeeded bool          `long:"succeeded" description:"only successful calls"`
	Limit     int           `short:"n" long:"limit" default:"20" description:"maximum rows"`
}

func (c *LedgerCmd) Execute(_ []string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Database.Path == "" {
		return fmt.Errorf("database.path is not configured; the ledger is disabled")
	}

	st, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening ledger: %w", err)
	}
	defer st.Close()

	if c.ID != "" {
		return c.printOne(context.Background(), st, os.Stdout)
	}
	return c.print(context.Background(), st, os.Stdout)
}

func (c *LedgerCmd) printOne(ctx context.Context, st *store.SQLiteStore, out io.Writer) error {
	r, err := st.GetToolCall(ctx, c.ID)
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("no tool call with id %s", c.ID)
	}
	if err != nil {
		return err
	}

	result := color.GreenString("ok")
	if !r.Success {
		result = color.RedString("failed")
	}
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "ID:\t%s\n", r.ID)
	fmt.Fprintf(tw, "Call:\t%s\n", r.CallID)
	fmt.Fprintf(tw, "Time:\t%s\n", r.CreatedAt.Local().Format("2006-01-02 15:04:05"))
	fmt.Fprintf(tw, "User:\t%s\n", r.UserKey)
	fmt.Fprintf(tw, "Tool:\t%s\n", r.Tool)
	fmt.Fprintf(tw, "Result:\t%s\n", result)
	if r.LeadID != "" {
		fmt.Fprintf(tw, "Lead:\t%s\n", r.LeadID)
	}
	if r.Error != "" {
		fmt.Fprintf(tw, "Error:\t%s\n", r.Error)
	}
	fmt.Fprintf(tw, "Duration:\t%s\n", r.Duration)
	fmt.Fprintf(tw, "Arguments:\t%s\n", r.Arguments)
	return tw.Flush()
}

func (c *LedgerCmd) filter() store.ToolCallFilter {
	f := store.ToolCallFilter{
		SuccessOnly: c.Succeeded,
		Limit:       c.Limit,
	}
	if c.User != "" {
		f.UserKey = &c.User
	}
	if c.Tool != "" {
		f.Tool = &c.Tool
	}
	if c.Since > 0 {
		since := time.Now().Add(-c.Since)
		f.Since = &since
	}
	return f
}

func (c *LedgerCmd) print(ctx context.Context, st *store.SQLiteStore, out io.Writer) error {
	f := c.filter()
	recs, err := st.ListToolCalls(ctx, f)
	if err != nil {
		return err
	}
	stats, err := st.GetToolCallStats(ctx, f.Since)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTIME\tUSER\tTOOL\tRESULT\tLEAD\tDURATION")
	for _, r := range recs {
		result := color.GreenString("ok")
		if !r.Success {
			result = color.RedString("failed")
			if r.Error != "" {
				result += ": " + truncate(r.Error, 40)
			}
		}
		lead := r.LeadID
		if lead == "" {
			lead = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			r.ID, r.CreatedAt.Local().Format("2006-01-02 15:04:05"),
			r.UserKey, r.Tool, result, lead, r.Duration)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	fmt.Fprintf(out, "\n%d calls, %d succeeded, %d leads\n", stats.Total, stats.Succeeded, stats.Leads)
	return nil
}

func truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen]) + "..."
}

package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"gitent/internal/change"
	"gitent/internal/engine"
	gerrors "gitent/internal/errors"
	"gitent/internal/history"
	"gitent/internal/rollback"
	"gitent/internal/session"

	"github.com/fatih/color"
)

var (
	green  = color.New(color.FgGreen).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	blue   = color.New(color.FgBlue).SprintFunc()
	bold   = color.New(color.Bold).SprintFunc()
)

func kindMark(k change.Kind) string {
	switch k {
	case change.KindCreate:
		return green("A")
	case change.KindModify:
		return yellow("M")
	case change.KindDelete:
		return red("D")
	case change.KindRename:
		return blue("R")
	default:
		return "?"
	}
}

func printInit(res engine.InitResult) {
	if res.Started {
		fmt.Printf("Started session %s in %s\n", res.SessionID, res.Root)
	} else {
		fmt.Printf("Reconnected to session %s in %s\n", res.SessionID, res.Root)
	}
	if res.Head != nil {
		fmt.Printf("Head: %s\n", history.ShortID(*res.Head))
	}
	if res.PendingCount > 0 {
		fmt.Printf("%d pending change(s)\n", res.PendingCount)
	}
}

func printStatus(st session.Status) {
	head := "(no commits)"
	if st.Head != nil {
		head = history.ShortID(*st.Head)
	}
	fmt.Printf("Session %s\nHead: %s\n\n", st.SessionID, head)

	if st.PendingCount == 0 {
		fmt.Println("No pending changes")
		return
	}

	fmt.Printf("Pending changes (%d):\n", st.PendingCount)
	if len(st.Changes) == 0 {
		for _, p := range st.PendingPaths {
			fmt.Printf("\t%s\n", p)
		}
		return
	}
	for _, c := range st.Changes {
		path := c.Path
		if c.Kind == change.KindRename {
			path = c.OldPath + " -> " + c.Path
		}
		agent := ""
		if c.AgentID != "" {
			agent = " (" + c.AgentID + ")"
		}
		fmt.Printf("\t%s %s%s\n", kindMark(c.Kind), path, agent)
	}
}

func printTracked(res engine.TrackResult) {
	path := res.Path
	if res.OldPath != "" {
		path = res.OldPath + " -> " + res.Path
	}
	fmt.Printf("#%d %s %s\n", res.Seq, kindMark(res.ChangeType), path)
}

func printCommit(res engine.CommitResult) {
	fmt.Printf("[%s] %s\n", yellow(history.ShortID(res.CommitID)), res.Message)
	fmt.Printf(" %d change(s) committed\n", res.ChangeCount)
}

func printLog(res engine.LogResult, long bool) {
	if len(res.Commits) == 0 {
		fmt.Println("No commits yet")
		return
	}
	for _, c := range res.Commits {
		if !long {
			fmt.Printf("%s %s\n", yellow(history.ShortID(c.ID)), c.Message)
			continue
		}
		fmt.Printf("%s %s\n", yellow("commit"), yellow(c.ID))
		if c.Parent != "" {
			fmt.Printf("Parent: %s\n", history.ShortID(c.Parent))
		}
		if c.Author != "" {
			fmt.Printf("Author: %s\n", c.Author)
		}
		if c.AgentID != "" {
			fmt.Printf("Agent:  %s\n", c.AgentID)
		}
		fmt.Printf("Date:   %s\n\n    %s\n\n", c.Timestamp.Format("Mon Jan 2 15:04:05 2006 -0700"), c.Message)
		for _, ch := range c.Changes {
			path := ch.Path
			if ch.Kind == change.KindRename {
				path = ch.PriorPath + " -> " + ch.Path
			}
			fmt.Printf("\t%s %s\n", kindMark(ch.Kind), path)
		}
		if len(c.Changes) > 0 {
			fmt.Println()
		}
	}
}

func printDiff(res engine.DiffResult) error {
	if res.FileCount == 0 {
		fmt.Printf("No differences between %s and %s\n", res.From, res.To)
		return nil
	}
	if res.Format == engine.FormatStructured {
		out, err := json.MarshalIndent(res.Files, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	}
	printColoredDiff(res.Unified)
	return nil
}

func printColoredDiff(diff string) {
	added := color.New(color.FgGreen)
	removed := color.New(color.FgRed)
	header := color.New(color.FgCyan)

	for _, line := range strings.Split(strings.TrimSuffix(diff, "\n"), "\n") {
		if len(line) == 0 {
			fmt.Println()
			continue
		}

		switch {
		case strings.HasPrefix(line, "+++"), strings.HasPrefix(line, "---"):
			fmt.Println(bold(line))
		case strings.HasPrefix(line, "@@"):
			header.Println(line)
		case strings.HasPrefix(line, "+"):
			added.Println(line)
		case strings.HasPrefix(line, "-"):
			removed.Println(line)
		default:
			fmt.Println(line)
		}
	}
}

func printRollback(res engine.RollbackResult, execute bool) {
	cs := res.ChangeSet
	if cs.Target == "" {
		return
	}
	if cs.Empty() {
		fmt.Printf("Already at %s, nothing to roll back\n", history.ShortID(cs.Target))
		return
	}

	if !execute {
		fmt.Printf("Rolling back to %s would:\n", history.ShortID(cs.Target))
		for _, op := range cs.Ops {
			fmt.Printf("\t%s\n", describeOp(op))
		}
		fmt.Println("\nRun again with --execute to apply.")
		return
	}

	for _, r := range res.Results {
		var mark string
		switch r.Status {
		case rollback.StatusApplied:
			mark = green("ok")
		case rollback.StatusFailed:
			mark = red("failed")
		default:
			mark = yellow("skipped")
		}
		line := fmt.Sprintf("\t%-7s %s", mark, describeOp(r.Op))
		if r.Error != "" {
			line += ": " + r.Error
		}
		fmt.Println(line)
	}
	if res.NewCommitID != "" {
		fmt.Printf("Rolled back to %s as commit %s\n", history.ShortID(cs.Target), yellow(history.ShortID(res.NewCommitID)))
	}
}

func describeOp(op rollback.Op) string {
	switch op.Kind {
	case rollback.OpRename:
		return fmt.Sprintf("rename %s -> %s", op.OldPath, op.Path)
	case rollback.OpDelete:
		return "delete " + op.Path
	default:
		return fmt.Sprintf("write %s (%d bytes)", op.Path, op.Size)
	}
}

func printError(err error) {
	var e *gerrors.Error
	if gerrors.As(err, &e) {
		fmt.Fprintf(os.Stderr, "%s %s\n", red("error ["+string(e.Type)+"]:"), e.Error())
		return
	}
	fmt.Fprintf(os.Stderr, "%s %v\n", red("error:"), err)
}

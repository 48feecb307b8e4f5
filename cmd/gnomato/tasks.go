package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/gitter-badger/gnomato/internal/bootstrap"
	"github.com/gitter-badger/gnomato/internal/config"
	"github.com/gitter-badger/gnomato/internal/persistence"
	"github.com/mattn/go-isatty"
)

const tasksUsage = "usage: gnomato tasks [list | add <name> | done <id> | rm <id>]"

type tasksAction struct {
	verb string
	name string
	id   int64
}

func parseTasksArgs(args []string) (tasksAction, error) {
	if len(args) == 0 {
		return tasksAction{verb: "list"}, nil
	}
	verb := strings.ToLower(strings.TrimSpace(args[0]))
	rest := args[1:]
	switch verb {
	case "list", "ls":
		if len(rest) != 0 {
			return tasksAction{}, errors.New(tasksUsage)
		}
		return tasksAction{verb: "list"}, nil
	case "add":
		name := strings.TrimSpace(strings.Join(rest, " "))
		if name == "" {
			return tasksAction{}, fmt.Errorf("usage: gnomato tasks add <name>")
		}
		return tasksAction{verb: "add", name: name}, nil
	case "done", "rm":
		if len(rest) != 1 {
			return tasksAction{}, fmt.Errorf("usage: gnomato tasks %s <id>", verb)
		}
		id, err := persistence.ParseID(rest[0])
		if err != nil {
			return tasksAction{}, err
		}
		return tasksAction{verb: verb, id: id}, nil
	default:
		return tasksAction{}, errors.New(tasksUsage)
	}
}

func runTasksCommand(ctx context.Context, args []string, stdout io.Writer) int {
	action, err := parseTasksArgs(args)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load: %v\n", err)
		return 1
	}
	// Bootstrap log lines would interleave with command output.
	quietLogger := slog.New(slog.NewTextHandler(io.Discard, nil))
	db, err := bootstrap.EnsureReady(ctx, cfg.DBPath, quietLogger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open task store: %v\n", err)
		return 1
	}
	store := persistence.NewStore(db, nil)
	defer store.Close()

	out := newTaskPrinter(stdout)
	switch action.verb {
	case "list":
		tasks, err := store.ListPending(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "list tasks: %v\n", err)
			return 1
		}
		out.list(tasks)
	case "add":
		id, err := store.Insert(ctx, action.name, 0, false)
		if err != nil {
			fmt.Fprintf(os.Stderr, "add task: %v\n", err)
			return 1
		}
		out.line(fmt.Sprintf("added task %d", id))
	case "done":
		task, found, err := store.Get(ctx, action.id)
		if err != nil {
			fmt.Fprintf(os.Stderr, "get task: %v\n", err)
			return 1
		}
		if !found {
			fmt.Fprintf(os.Stderr, "task %d not found\n", action.id)
			return 1
		}
		if _, err := store.Update(ctx, task.ID, task.Name, task.Pomodoros, true); err != nil {
			fmt.Fprintf(os.Stderr, "update task: %v\n", err)
			return 1
		}
		out.line(fmt.Sprintf("task %d done", task.ID))
	case "rm":
		n, err := store.Delete(ctx, action.id)
		if err != nil {
			fmt.Fprintf(os.Stderr, "delete task: %v\n", err)
			return 1
		}
		if n == 0 {
			fmt.Fprintf(os.Stderr, "task %d not found\n", action.id)
			return 1
		}
		out.line(fmt.Sprintf("deleted task %d", action.id))
	}
	return 0
}

type taskPrinter struct {
	w      io.Writer
	styled bool
	header lipgloss.Style
	id     lipgloss.Style
	dim    lipgloss.Style
}

func newTaskPrinter(w io.Writer) *taskPrinter {
	styled := false
	if f, ok := w.(*os.File); ok {
		styled = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	return &taskPrinter{
		w:      w,
		styled: styled,
		header: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("62")),
		id:     lipgloss.NewStyle().Foreground(lipgloss.Color("86")).Width(6),
		dim:    lipgloss.NewStyle().Foreground(lipgloss.Color("240")),
	}
}

func (p *taskPrinter) render(s lipgloss.Style, text string) string {
	if !p.styled {
		return text
	}
	return s.Render(text)
}

func (p *taskPrinter) line(text string) {
	fmt.Fprintln(p.w, text)
}

func (p *taskPrinter) list(tasks []persistence.Task) {
	if len(tasks) == 0 {
		fmt.Fprintln(p.w, p.render(p.dim, "no pending tasks"))
		return
	}
	fmt.Fprintln(p.w, p.render(p.header, fmt.Sprintf("%-6s %-9s %s", "ID", "POMODOROS", "NAME")))
	for _, t := range tasks {
		id := fmt.Sprintf("%-6s", strconv.FormatInt(t.ID, 10))
		fmt.Fprintf(p.w, "%s %-9d %s\n", p.render(p.id, id), t.Pomodoros, t.Name)
	}
}

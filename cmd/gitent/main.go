// cmd/gitent/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"gitent/client"
	"gitent/internal/change"
	"gitent/internal/config"
	"gitent/internal/engine"
	"gitent/internal/session"
	"gitent/internal/workspace"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// backend is implemented by the local engine and by the HTTP client.
type backend interface {
	Init(ctx context.Context, req engine.InitRequest) (engine.InitResult, error)
	Status(ctx context.Context, req engine.StatusRequest) (session.Status, error)
	Track(ctx context.Context, req engine.TrackRequest) (engine.TrackResult, error)
	Commit(ctx context.Context, req engine.CommitRequest) (engine.CommitResult, error)
	Log(ctx context.Context, req engine.LogRequest) (engine.LogResult, error)
	Diff(ctx context.Context, req engine.DiffRequest) (engine.DiffResult, error)
	Rollback(ctx context.Context, req engine.RollbackRequest) (engine.RollbackResult, error)
}

var (
	logger = zap.NewNop()

	configPath string
	serverURL  string
	dir        string
	dbPath     string
	agentID    string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "gitent",
	Short: "gitent tracks, commits and rolls back an agent's file edits",
	Long: `gitent records the file changes an automated agent makes, commits them as
atomic units and lets you inspect history, diff against earlier states and
roll back, independently of any other version control system.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if !verbose {
			return nil
		}
		var err error
		logger, err = zap.NewDevelopment()
		if err != nil {
			return fmt.Errorf("initializing logger: %w", err)
		}
		return nil
	},
}

// openBackend connects to --server when given, otherwise opens a local
// engine. The returned session is the one bound to the root.
func openBackend(ctx context.Context, root string) (backend, engine.InitResult, func(), error) {
	var (
		b       backend
		cleanup = func() {}
	)
	if serverURL != "" {
		b = client.New(serverURL)
	} else {
		cfg, err := config.Load(configPath)
		if err != nil {
			return nil, engine.InitResult{}, nil, fmt.Errorf("loading config: %w", err)
		}
		e := engine.New(cfg, logger)
		b = e
		cleanup = func() {
			if err := e.Close(); err != nil {
				logger.Warn("closing engine", zap.Error(err))
			}
		}
	}

	res, err := b.Init(ctx, engine.InitRequest{Path: root, DBPath: dbPath})
	if err != nil {
		cleanup()
		return nil, engine.InitResult{}, nil, err
	}
	return b, res, cleanup, nil
}

// sessionRoot is --dir, or the nearest directory holding a .gitent
// directory, or the current directory.
func sessionRoot() (string, error) {
	if dir != "" {
		return filepath.Abs(dir)
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("getting current directory: %w", err)
	}
	root, err := workspace.FindRoot(cwd)
	if errors.Is(err, workspace.ErrRootNotFound) {
		return cwd, nil
	}
	return root, err
}

// withSession runs fn against the session of the current root.
func withSession(cmd *cobra.Command, fn func(ctx context.Context, b backend, s engine.InitResult) error) error {
	root, err := sessionRoot()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	b, s, cleanup, err := openBackend(ctx, root)
	if err != nil {
		return err
	}
	defer cleanup()
	return fn(ctx, b, s)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (JSON or YAML)")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "talk to a running gitent server at this URL")
	rootCmd.PersistentFlags().StringVarP(&dir, "dir", "C", "", "session root (default: nearest directory with .gitent, else the current one)")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db-path", "", "database directory")
	rootCmd.PersistentFlags().StringVar(&agentID, "agent", "", "agent id recorded with changes")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose logging")

	var initCmd = &cobra.Command{
		Use:   "init [path]",
		Short: "Start tracking a directory",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root := "."
			if len(args) == 1 {
				root = args[0]
			} else if dir != "" {
				root = dir
			}
			abs, err := filepath.Abs(root)
			if err != nil {
				return err
			}

			_, res, cleanup, err := openBackend(cmd.Context(), abs)
			if err != nil {
				return err
			}
			defer cleanup()

			printInit(res)
			return nil
		},
	}

	var statusCmd = &cobra.Command{
		Use:   "status",
		Short: "Show pending changes",
		RunE: func(cmd *cobra.Command, args []string) error {
			long, _ := cmd.Flags().GetBool("long")
			return withSession(cmd, func(ctx context.Context, b backend, s engine.InitResult) error {
				st, err := b.Status(ctx, engine.StatusRequest{SessionID: s.SessionID, Verbose: long})
				if err != nil {
					return err
				}
				printStatus(st)
				return nil
			})
		},
	}
	statusCmd.Flags().BoolP("long", "l", false, "list every pending change")

	var trackCmd = &cobra.Command{
		Use:   "track <path>",
		Short: "Record a change to a file",
		Long: `Record a change to a file. For create and modify the content is read
from the file unless --content is given. A rename needs --from.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, _ := cmd.Flags().GetString("type")
			from, _ := cmd.Flags().GetString("from")

			// paths are taken relative to the current directory
			path, err := filepath.Abs(args[0])
			if err != nil {
				return err
			}
			if from != "" {
				if from, err = filepath.Abs(from); err != nil {
					return err
				}
			}

			return withSession(cmd, func(ctx context.Context, b backend, s engine.InitResult) error {
				req := engine.TrackRequest{
					SessionID:  s.SessionID,
					Path:       path,
					ChangeType: kind,
					OldPath:    from,
					AgentID:    agentID,
				}
				if cmd.Flags().Changed("content") {
					content, _ := cmd.Flags().GetString("content")
					req.Content = append([]byte{}, content...)
				} else if k, err := change.ParseKind(kind); err == nil && k.NeedsContent() {
					content, err := os.ReadFile(path)
					if err != nil {
						return fmt.Errorf("reading %s: %w", args[0], err)
					}
					req.Content = content
				}

				res, err := b.Track(ctx, req)
				if err != nil {
					return err
				}
				printTracked(res)
				return nil
			})
		},
	}
	trackCmd.Flags().StringP("type", "t", "modify", "change type (create, modify, delete, rename)")
	trackCmd.Flags().String("from", "", "previous path of a renamed file")
	trackCmd.Flags().String("content", "", "content to record instead of reading the file")

	var commitCmd = &cobra.Command{
		Use:   "commit",
		Short: "Commit the pending changes",
		RunE: func(cmd *cobra.Command, args []string) error {
			message, _ := cmd.Flags().GetString("message")
			author, _ := cmd.Flags().GetString("author")
			parent, _ := cmd.Flags().GetString("expect-parent")
			ids, _ := cmd.Flags().GetUintSlice("change")

			return withSession(cmd, func(ctx context.Context, b backend, s engine.InitResult) error {
				res, err := b.Commit(ctx, engine.CommitRequest{
					SessionID:      s.SessionID,
					Message:        message,
					AgentID:        agentID,
					Author:         author,
					ExpectedParent: parent,
					ChangeIDs:      changeIDs(ids),
				})
				if err != nil {
					return err
				}
				printCommit(res)
				return nil
			})
		},
	}
	commitCmd.Flags().StringP("message", "m", "", "commit message")
	commitCmd.Flags().String("author", "", "author recorded in the commit")
	commitCmd.Flags().String("expect-parent", "", "fail unless this commit is the current head")
	commitCmd.Flags().UintSlice("change", nil, "commit only these pending sequence numbers")
	commitCmd.MarkFlagRequired("message")

	var logCmd = &cobra.Command{
		Use:   "log",
		Short: "Show commit history",
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			long, _ := cmd.Flags().GetBool("long")

			return withSession(cmd, func(ctx context.Context, b backend, s engine.InitResult) error {
				res, err := b.Log(ctx, engine.LogRequest{SessionID: s.SessionID, Limit: limit, Verbose: long})
				if err != nil {
					return err
				}
				printLog(res, long)
				return nil
			})
		},
	}
	logCmd.Flags().IntP("limit", "n", 0, "number of commits to show (default all)")
	logCmd.Flags().BoolP("long", "l", false, "show parents, agents and changes")

	var diffCmd = &cobra.Command{
		Use:   "diff [from] [to]",
		Short: "Show differences between commits, pending changes and working files",
		Long: `Show differences between two states. A state is a commit id or prefix,
head, pending or working. Without arguments the pending changes are shown
against the head; with one argument that state is compared with working.`,
		Args: cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			format, _ := cmd.Flags().GetString("format")
			path, _ := cmd.Flags().GetString("path")
			commitID, _ := cmd.Flags().GetString("commit")

			req := engine.DiffRequest{Format: format, Path: path, CommitID: commitID}
			switch len(args) {
			case 1:
				req.From, req.To = args[0], engine.RefWorking
			case 2:
				req.From, req.To = args[0], args[1]
			}

			return withSession(cmd, func(ctx context.Context, b backend, s engine.InitResult) error {
				req.SessionID = s.SessionID
				res, err := b.Diff(ctx, req)
				if err != nil {
					return err
				}
				return printDiff(res)
			})
		},
	}
	diffCmd.Flags().StringP("format", "f", engine.FormatUnified, "output format (unified, structured)")
	diffCmd.Flags().StringP("path", "p", "", "only show this path, directory or glob")
	diffCmd.Flags().String("commit", "", "show one commit against its parent")

	var rollbackCmd = &cobra.Command{
		Use:   "rollback <commit>",
		Short: "Restore the tracked files to an earlier commit",
		Long: `Restore the tracked files to their state at an earlier commit. Without
--execute only the planned operations are shown.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			execute, _ := cmd.Flags().GetBool("execute")

			return withSession(cmd, func(ctx context.Context, b backend, s engine.InitResult) error {
				res, err := b.Rollback(ctx, engine.RollbackRequest{
					SessionID: s.SessionID,
					CommitID:  args[0],
					Execute:   execute,
					AgentID:   agentID,
				})
				printRollback(res, execute)
				return err
			})
		},
	}
	rollbackCmd.Flags().Bool("execute", false, "apply the rollback")

	var watchCmd = &cobra.Command{
		Use:   "watch",
		Short: "Track changes as files are edited",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			root, err := sessionRoot()
			if err != nil {
				return err
			}
			b, s, cleanup, err := openBackend(ctx, root)
			if err != nil {
				return err
			}
			defer cleanup()

			track := func(ctx context.Context, req change.Request) error {
				res, err := b.Track(ctx, engine.TrackRequest{
					SessionID:  s.SessionID,
					Path:       req.Path,
					ChangeType: string(req.Kind),
					OldPath:    req.OldPath,
					Content:    req.Content,
					AgentID:    req.AgentID,
				})
				if err != nil {
					return err
				}
				printTracked(res)
				return nil
			}

			w, err := change.NewWatcher(s.Root, cfg.Watch.Ignore, agentID, track, logger)
			if err != nil {
				return err
			}
			defer w.Close()

			fmt.Printf("Watching %s (Ctrl-C to stop)\n", s.Root)
			if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(trackCmd)
	rootCmd.AddCommand(commitCmd)
	rootCmd.AddCommand(logCmd)
	rootCmd.AddCommand(diffCmd)
	rootCmd.AddCommand(rollbackCmd)
	rootCmd.AddCommand(watchCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		printError(err)
		os.Exit(1)
	}
}

func changeIDs(ids []uint) []uint64 {
	var out []uint64
	for _, id := range ids {
		out = append(out, uint64(id))
	}
	return out
}

package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"maestro/internal/agents"
	"maestro/internal/config"
	"maestro/internal/db"
	"maestro/internal/domain"
	"maestro/internal/journal"
	"maestro/internal/llm"
	"maestro/internal/manager"
	"maestro/internal/migrate"
	"maestro/internal/orchestrator"
	"maestro/internal/planner"
	"maestro/internal/repo"
	"maestro/internal/server"
	"maestro/internal/stream"
	maestrosdk "maestro/sdk/go"
)

var rootCmd = &cobra.Command{
	Use:   "maestro",
	Short: "Maestro CLI",
	Long: `Maestro orchestrates LLM sessions: a planner decides whether a request is
answered directly or routed through specialised agents, every event is
journaled to SQLite, and observers follow the live stream over WebSocket.
Workspace state lives in .maestro; configuration in maestro.yml.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("MAESTRO")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(sessionCmd())
	rootCmd.AddCommand(archiveCmd())
	rootCmd.AddCommand(agentsCmd())
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write the default maestro.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", path)
			return nil
		},
	}
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the orchestration server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			st, cleanup, err := buildStack(ctx)
			if err != nil {
				return err
			}
			defer cleanup()
			go st.hub.Run(ctx)

			handler, err := server.New(server.Config{
				Manager:  st.mgr,
				Registry: st.reg,
				Hub:      st.hub,
				BasePath: basePath,
			})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(shutdownCtx)
			}()
			fmt.Printf("Serving Maestro API on http://%s%s (stream at /stream/{sessionId}, Swagger UI at /docs)\n", addr, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			st.mgr.Shutdown()
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	return cmd
}

func sessionCmd() *cobra.Command {
	sess := &cobra.Command{Use: "session", Short: "Manage sessions"}
	sess.AddCommand(sessionCreateCmd())
	sess.AddCommand(sessionShowCmd())
	sess.AddCommand(sessionListCmd())
	sess.AddCommand(sessionWatchCmd())
	sess.AddCommand(sessionCancelCmd())
	return sess
}

func sessionCreateCmd() *cobra.Command {
	var query, agentID string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a session and run it to completion",
		RunE: func(cmd *cobra.Command, args []string) error {
			if query == "" {
				return fmt.Errorf("--query required")
			}
			ctx := cmd.Context()
			st, cleanup, err := buildStack(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			sess, err := st.mgr.CreateSession(ctx, agentID, query, nil)
			if err != nil {
				return err
			}
			conn := st.hub.Attach(sess.ID, consoleTransport{})
			defer st.hub.Detach(sess.ID, conn)

			// The live stream is forward-only, so terminal detection
			// polls the durable record instead of racing the attach.
			for {
				cur, err := st.mgr.GetSession(ctx, sess.ID)
				if err != nil {
					return err
				}
				if cur.Terminal() {
					return printJSONOrTable(cur)
				}
				select {
				case <-time.After(200 * time.Millisecond):
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		},
	}
	cmd.Flags().StringVar(&query, "query", "", "user request to process")
	cmd.Flags().StringVar(&agentID, "agent", domain.AgentAuto, "agent id, or auto for planner-driven selection")
	_ = cmd.MarkFlagRequired("query")
	return cmd
}

func sessionShowCmd() *cobra.Command {
	var withLogs bool
	cmd := &cobra.Command{
		Use:   "show <session-id>",
		Short: "Show a session with its journal and artifacts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				sess, err := r.GetSession(ctx, args[0])
				if err != nil {
					return err
				}
				if !withLogs {
					return printJSONOrTable(sess)
				}
				logs, err := r.ListInteractionLogs(ctx, args[0])
				if err != nil {
					return err
				}
				artifacts, err := r.ListArtifacts(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{
					"session":          sess,
					"interaction_logs": logs,
					"artifacts":        artifacts,
				})
			})
		},
	}
	cmd.Flags().BoolVar(&withLogs, "logs", false, "include interaction logs and artifacts")
	return cmd
}

func sessionListCmd() *cobra.Command {
	var f repo.SessionFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListSessions(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Agent", "Status", "Started", "Duration", "Query"})
				for _, s := range items {
					duration := ""
					if s.DurationSeconds != nil {
						duration = fmt.Sprintf("%ds", *s.DurationSeconds)
					}
					tw.AppendRow(table.Row{s.ID, s.AgentID, s.Status, s.StartTime, duration, truncate(s.InitialQuery, 48)})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.AgentID, "agent", "", "agent filter")
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter")
	cmd.Flags().IntVar(&f.Limit, "limit", 50, "maximum rows")
	return cmd
}

func sessionWatchCmd() *cobra.Command {
	var serverURL string
	cmd := &cobra.Command{
		Use:   "watch <session-id>",
		Short: "Follow a running session's event stream",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := maestrosdk.New(serverURL)
			obs, err := client.Watch(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			defer obs.Close()
			for ev := range obs.Events() {
				printEvent(ev.Type, ev.Sequence, ev.Data)
			}
			return obs.Err()
		},
	}
	cmd.Flags().StringVar(&serverURL, "server", "http://127.0.0.1:8080", "server base URL")
	return cmd
}

func sessionCancelCmd() *cobra.Command {
	var serverURL string
	cmd := &cobra.Command{
		Use:   "cancel <session-id>",
		Short: "Cancel a running session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := maestrosdk.New(serverURL)
			if err := client.CancelSession(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Printf("Cancellation requested for %s\n", args[0])
			return nil
		},
	}
	cmd.Flags().StringVar(&serverURL, "server", "http://127.0.0.1:8080", "server base URL")
	return cmd
}

func archiveCmd() *cobra.Command {
	arch := &cobra.Command{Use: "archive", Short: "Search finished work"}
	var limit int
	search := &cobra.Command{
		Use:   "search <query>",
		Short: "Search sessions and artifacts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				res, err := r.SearchArchive(ctx, args[0], limit)
				if err != nil {
					return err
				}
				return printJSONOrTable(res)
			})
		},
	}
	search.Flags().IntVar(&limit, "limit", 20, "maximum matches per kind")
	arch.AddCommand(search)
	return arch
}

func agentsCmd() *cobra.Command {
	ag := &cobra.Command{Use: "agents", Short: "Inspect the agent catalog"}
	ag.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List agents",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				cfg, err := config.Load(viper.GetString("workspace"))
				if err != nil {
					return err
				}
				reg := agents.NewRegistry(r)
				if err := reg.Seed(ctx, cfg.Agents); err != nil {
					return err
				}
				items, err := reg.List(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Type", "Status", "Capabilities"})
				for _, a := range items {
					tw.AppendRow(table.Row{a.ID, a.Name, a.Type, a.Status, strings.Join(a.Capabilities, ", ")})
				}
				tw.Render()
				return nil
			})
		},
	})
	return ag
}

// --- wiring ---

type stack struct {
	conn *sql.DB
	cfg  *config.Config
	repo repo.Repo
	hub  *stream.Hub
	reg  *agents.Registry
	mgr  *manager.Manager
}

func buildStack(ctx context.Context) (*stack, func(), error) {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, nil, err
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, nil, err
	}
	cfg, err := config.Load(workspace)
	if err != nil {
		conn.Close()
		return nil, nil, err
	}
	provider, err := llm.NewProvider(cfg.Provider.Name, cfg.Provider.Model, cfg.APIKey(), cfg.Provider.MaxTokens)
	if err != nil {
		conn.Close()
		return nil, nil, err
	}

	r := repo.Repo{DB: conn}
	reg := agents.NewRegistry(r)
	if err := reg.Seed(ctx, cfg.Agents); err != nil {
		conn.Close()
		return nil, nil, err
	}
	hub := stream.NewHub(stream.HubOptions{
		QueueDepth:          cfg.Stream.QueueDepth,
		HeartbeatInterval:   time.Duration(cfg.Stream.HeartbeatSeconds) * time.Second,
		MaxMissedHeartbeats: cfg.Stream.MaxMissedHeartbeats,
	})
	jw := journal.NewWriter(r, hub, slog.Default())
	pl := planner.New(provider, slog.Default())
	exec := agents.NewLLMExecutor(provider)
	orch := orchestrator.New(r, jw, pl, reg, exec, provider, cfg, slog.Default())
	mgr := manager.New(r, orch, slog.Default())

	st := &stack{conn: conn, cfg: cfg, repo: r, hub: hub, reg: reg, mgr: mgr}
	cleanup := func() {
		mgr.Shutdown()
		conn.Close()
	}
	return st, cleanup, nil
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	return fn(ctx, repo.Repo{DB: conn})
}

// consoleTransport prints live events to stdout; used when the CLI runs a
// session in-process.
type consoleTransport struct{}

func (consoleTransport) WriteEvent(ev stream.Event) error {
	if ev.IsHeartbeat() {
		return nil
	}
	printEvent(string(ev.Type), ev.Sequence, ev.Data)
	return nil
}

func (consoleTransport) Close() error { return nil }

func printEvent(evType string, seq int, data map[string]any) {
	switch evType {
	case "chunk":
		if text, ok := data["text"].(string); ok {
			fmt.Print(text)
		}
		return
	case "session_complete":
		fmt.Println()
	}
	payload, _ := json.Marshal(data)
	fmt.Printf("[%d] %s %s\n", seq, evType, payload)
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n-1]) + "…"
}

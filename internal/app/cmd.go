package app

import (
	"context"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/hitoshi/superblog/internal/config"
	"github.com/hitoshi/superblog/internal/logger"
)

// Command はアプリケーションの起動モードを表す。
type Command string

const (
	// CommandServe はHTTPサーバーモードで起動することを示す。
	CommandServe Command = "serve"
	// CommandWorker はクリーンアップワーカーとして常駐することを示す。
	CommandWorker Command = "worker"
	// CommandCleanup はクリーンアップを1回だけ実行することを示す。
	CommandCleanup Command = "cleanup"
	// CommandMigrate はデータベースマイグレーションを実行することを示す。
	CommandMigrate Command = "migrate"
	// CommandHealthcheck はヘルスチェックを実行することを示す。
	// distroless環境でのDockerヘルスチェック用。
	CommandHealthcheck Command = "healthcheck"
)

// runner は設定読み込み後に各モードを実行する関数。
type runner func(ctx context.Context, cfg *config.Config) error

// NewRootCommand はサブコマンドを登録したルートコマンドを返す。
// サブコマンドなしで起動した場合はserveとして動作する。
// ログはwに出力する。
func NewRootCommand(w io.Writer) *cobra.Command {
	serve := withConfig(w, CommandServe, runServe)

	root := &cobra.Command{
		Use:           "superblog",
		Short:         "Blog scaffold with OAuth sign-in and server-side sessions",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE:          serve,
	}

	root.AddCommand(
		&cobra.Command{
			Use:   string(CommandServe),
			Short: "Start the HTTP server",
			Args:  cobra.NoArgs,
			RunE:  serve,
		},
		&cobra.Command{
			Use:   string(CommandWorker),
			Short: "Run the session cleanup worker until interrupted",
			Args:  cobra.NoArgs,
			RunE:  withConfig(w, CommandWorker, runWorker),
		},
		&cobra.Command{
			Use:   string(CommandCleanup),
			Short: "Delete stale sessions and consumed callbacks once",
			Args:  cobra.NoArgs,
			RunE:  withConfig(w, CommandCleanup, runCleanup),
		},
		&cobra.Command{
			Use:   string(CommandMigrate),
			Short: "Apply all pending database migrations",
			Args:  cobra.NoArgs,
			RunE: withConfig(w, CommandMigrate, func(_ context.Context, cfg *config.Config) error {
				return runMigrate(cfg)
			}),
		},
		newHealthcheckCommand(),
	)

	return root
}

// newHealthcheckCommand は/healthを叩くだけの軽量サブコマンドを返す。
// 設定の読み込みをスキップするため、必須環境変数が無くても動作する。
func newHealthcheckCommand() *cobra.Command {
	var port string

	cmd := &cobra.Command{
		Use:   string(CommandHealthcheck),
		Short: "Check the local /health endpoint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHealthcheck(cmd.Context(), port)
		},
	}

	defaultPort := os.Getenv("SERVER_PORT")
	if defaultPort == "" {
		defaultPort = "8080"
	}
	cmd.Flags().StringVar(&port, "port", defaultPort, "port of the local HTTP server")
	return cmd
}

// withConfig はログと設定を初期化してからrunを呼ぶRunEを返す。
func withConfig(w io.Writer, name Command, run runner) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cfg, err := Init(w)
		if err != nil {
			return err
		}

		slog.Info("starting application",
			slog.String("command", string(name)),
			slog.String("port", cfg.ServerPort),
			slog.String("log_level", logger.Level().String()),
		)

		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		return run(ctx, cfg)
	}
}

// Run はアプリケーションのメインエントリーポイント。
// argsにはos.Args[1:]を渡す。
func Run(ctx context.Context, w io.Writer, args []string) error {
	root := NewRootCommand(w)
	root.SetArgs(args)
	root.SetOut(w)
	root.SetErr(w)
	return root.ExecuteContext(ctx)
}

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/mediavault/mediavault/internal/config"
	"github.com/mediavault/mediavault/internal/expiry"
	"github.com/mediavault/mediavault/internal/logging"
	"github.com/mediavault/mediavault/internal/metrics"
	"github.com/mediavault/mediavault/internal/server"
	"github.com/mediavault/mediavault/internal/server/routes"
	"github.com/mediavault/mediavault/internal/version"
)

// configEnv 指定配置文件路径的环境变量，优先级低于 --config。
const configEnv = "MEDIAVAULT_CONFIG"

var (
	stdOut io.Writer = os.Stdout
	stdErr io.Writer = os.Stderr
)

// exitError 携带子命令希望返回的退出码。
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }

func fail(code int, format string, args ...any) error {
	return &exitError{code: code, err: fmt.Errorf(format, args...)}
}

func main() {
	os.Exit(run(os.Args[1:]))
}

// run 构建命令树并执行，返回退出码，方便测试。
func run(args []string) int {
	root := newRootCommand()
	root.SetArgs(args)
	root.SetOut(stdOut)
	root.SetErr(stdErr)

	err := root.Execute()
	if err == nil {
		return 0
	}
	fmt.Fprintln(stdErr, err.Error())
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	return 2
}

func newRootCommand() *cobra.Command {
	var configFlag string

	root := &cobra.Command{
		Use:           "mediavault",
		Short:         "媒体解析、获取与缓存服务",
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(resolveConfigPath(configFlag))
		},
	}
	root.PersistentFlags().StringVar(&configFlag, "config", "", "配置文件路径（默认 ./config.toml，可被 "+configEnv+" 覆盖）")

	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "启动 HTTP 服务",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return serve(resolveConfigPath(configFlag))
			},
		},
		&cobra.Command{
			Use:   "check-config",
			Short: "仅校验配置后退出",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return checkConfig(resolveConfigPath(configFlag))
			},
		},
		&cobra.Command{
			Use:   "sweep",
			Short: "清理过期或文件缺失的变体后退出",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return sweep(cmd.Context(), resolveConfigPath(configFlag))
			},
		},
		&cobra.Command{
			Use:   "version",
			Short: "显示版本信息",
			Args:  cobra.NoArgs,
			Run: func(cmd *cobra.Command, args []string) {
				printVersion()
			},
		},
	)
	return root
}

// resolveConfigPath 按 flag → 环境变量 → ./config.toml 的顺序确定配置路径。
func resolveConfigPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if env := os.Getenv(configEnv); env != "" {
		return env
	}
	return "config.toml"
}

func loadConfig(path string) (*config.Config, *logrus.Logger, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, fail(1, "加载配置失败: %v", err)
	}
	logger, err := logging.InitLogger(cfg.Global)
	if err != nil {
		return nil, nil, fail(1, "初始化日志失败: %v", err)
	}
	return cfg, logger, nil
}

func checkConfig(path string) error {
	cfg, logger, err := loadConfig(path)
	if err != nil {
		return err
	}
	fields := logging.BaseFields("check_config", path)
	fields["backends"] = config.BackendNames(cfg.Backends)
	fields["index_backend"] = cfg.Global.IndexBackend
	fields["result"] = "ok"
	logger.WithFields(fields).Info("配置校验通过")
	return nil
}

func sweep(ctx context.Context, path string) error {
	cfg, logger, err := loadConfig(path)
	if err != nil {
		return err
	}
	if ctx == nil {
		ctx = context.Background()
	}

	lib, err := server.OpenLibrary(cfg, logger)
	if err != nil {
		return fail(1, "打开索引失败: %v", err)
	}
	defer lib.Close()

	scheduler := expiry.New(lib, logger, metrics.New())
	defer scheduler.Stop()

	report, err := scheduler.Sweep(ctx)
	if err != nil {
		return fail(1, "巡检失败: %v", err)
	}
	out, _ := json.Marshal(report)
	fmt.Fprintln(stdOut, string(out))
	return nil
}

// serve 遵循“配置 → Runtime → Fiber server”顺序启动，收到信号后优雅退出。
func serve(path string) error {
	cfg, logger, err := loadConfig(path)
	if err != nil {
		return err
	}

	rt, err := server.NewRuntime(cfg, logger)
	if err != nil {
		return fail(1, "初始化运行时失败: %v", err)
	}
	defer rt.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Global.SweepOnStart {
		if _, err := rt.Scheduler.Sweep(ctx); err != nil {
			return fail(1, "启动巡检失败: %v", err)
		}
	}

	fields := logging.BaseFields("startup", path)
	fields["backends"] = config.BackendNames(cfg.Backends)
	fields["listen_port"] = cfg.Global.ListenPort
	fields["index_backend"] = cfg.Global.IndexBackend
	fields["version"] = version.Full()
	logger.WithFields(fields).Info("配置加载完成")

	if err := startHTTPServer(ctx, rt); err != nil {
		return fail(1, "HTTP 服务启动失败: %v", err)
	}
	return nil
}

func startHTTPServer(ctx context.Context, rt *server.Runtime) error {
	app, err := server.NewApp(server.AppOptions{Logger: rt.Logger})
	if err != nil {
		return err
	}
	routes.RegisterMediaRoutes(app, routes.MediaDeps{
		Library:  rt.Library,
		Resolver: rt.Resolver,
		Pipeline: rt.Pipeline,
		Delivery: rt.Delivery,
		Logger:   rt.Logger,
	})
	routes.RegisterDiagnosticRoutes(app, rt.Backends, rt.Metrics)

	go func() {
		<-ctx.Done()
		rt.Logger.WithField("action", "shutdown").Info("收到退出信号，停止服务")
		_ = app.Shutdown()
	}()

	port := rt.Config.Global.ListenPort
	rt.Logger.WithFields(logrus.Fields{
		"action": "listen",
		"port":   port,
	}).Info("Fiber 服务启动")

	return app.Listen(fmt.Sprintf(":%d", port))
}

package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/imghub/internal/cache"
	"github.com/any-hub/imghub/internal/config"
	"github.com/any-hub/imghub/internal/fetch"
	"github.com/any-hub/imghub/internal/imaging"
	"github.com/any-hub/imghub/internal/loader"
	"github.com/any-hub/imghub/internal/logging"
	"github.com/any-hub/imghub/internal/server"
	"github.com/any-hub/imghub/internal/server/routes"
	"github.com/any-hub/imghub/internal/version"
)

// cliOptions 汇总 CLI 标志解析后的结果，便于在测试中注入。
type cliOptions struct {
	configPath  string
	checkOnly   bool
	showVersion bool
}

var (
	stdOut io.Writer = os.Stdout
	stdErr io.Writer = os.Stderr
)

func main() {
	opts, err := parseCLIFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(stdErr, err.Error())
		os.Exit(2)
	}
	os.Exit(run(opts))
}

// run 根据解析到的 CLI 选项执行业务流程，并返回退出码，方便测试。
func run(opts cliOptions) int {
	if opts.showVersion {
		printVersion()
		return 0
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		fmt.Fprintf(stdErr, "加载配置失败: %v\n", err)
		return 1
	}

	logger, err := logging.InitLogger(cfg.Global)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化日志失败: %v\n", err)
		return 1
	}

	if opts.checkOnly {
		fields := logging.BaseFields("check_config", opts.configPath)
		fields["storage"] = cfg.Storage.Backend
		fields["filter"] = cfg.Global.Filter
		fields["result"] = "ok"
		logger.WithFields(fields).Info("配置校验通过")
		return 0
	}

	// 启动顺序：配置 → 持久层 → 加载器 → Fiber server，所有请求共享同一个 Manager。
	manager, err := buildManager(context.Background(), cfg, logger)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化加载器失败: %v\n", err)
		return 1
	}
	defer manager.Close()

	fields := logging.BaseFields("startup", opts.configPath)
	fields["listen_port"] = cfg.Global.ListenPort
	fields["storage"] = cfg.Storage.Backend
	fields["workers"] = cfg.Global.Workers
	fields["queue_order"] = cfg.Global.QueueOrder
	fields["version"] = version.Full()
	logger.WithFields(fields).Info("配置加载完成")

	if err := startHTTPServer(cfg, manager, logger); err != nil {
		fmt.Fprintf(stdErr, "HTTP 服务启动失败: %v\n", err)
		return 1
	}
	return 0
}

// parseCLIFlags 解析 CLI 参数，并结合环境变量计算最终的配置路径。
func parseCLIFlags(args []string) (cliOptions, error) {
	fs := flag.NewFlagSet("imghub", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		configFlag string
		checkOnly  bool
		showVer    bool
	)

	fs.StringVar(&configFlag, "config", "", "配置文件路径（默认 ./config.toml，可被 IMGHUB_CONFIG 覆盖）")
	fs.BoolVar(&checkOnly, "check-config", false, "仅校验配置后退出")
	fs.BoolVar(&showVer, "version", false, "显示版本信息")

	if err := fs.Parse(args); err != nil {
		return cliOptions{}, fmt.Errorf("解析参数失败: %w", err)
	}

	path := os.Getenv("IMGHUB_CONFIG")
	if configFlag != "" {
		path = configFlag
	}
	if path == "" {
		path = "config.toml"
	}

	return cliOptions{
		configPath:  path,
		checkOnly:   checkOnly,
		showVersion: showVer,
	}, nil
}

// buildManager 按配置组装持久层、下载器、解码器与滤镜。
func buildManager(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (*loader.Manager, error) {
	persistent, err := buildPersistentTier(ctx, cfg.Storage)
	if err != nil {
		return nil, err
	}

	fetchOpts := fetch.Options{
		MaxAttempts:    cfg.Fetch.MaxAttempts,
		InitialBackoff: cfg.Fetch.InitialBackoff.DurationValue(),
		ConnectTimeout: cfg.Fetch.ConnectTimeout.DurationValue(),
		ReadTimeout:    cfg.Fetch.ReadTimeout.DurationValue(),
		MaxUnknownSize: cfg.Fetch.MaxUnknownSize,
		Logger:         logger,
	}

	order, err := loader.ParseQueueOrder(cfg.Global.QueueOrder)
	if err != nil {
		return nil, err
	}

	var filter imaging.Filter
	if cfg.Global.Filter != "" {
		f, ok := imaging.LookupFilter(cfg.Global.Filter)
		if !ok {
			return nil, fmt.Errorf("filter %s is not registered", cfg.Global.Filter)
		}
		filter = f
	}

	return loader.New(loader.Options{
		Memory:     cache.NewMemoryTier(cfg.Global.MemoryCacheSize),
		Persistent: persistent,
		Fetcher:    fetch.New(fetch.NewClient(fetchOpts), fetchOpts),
		Decoder: imaging.Decoder{
			MaxPixels:       cfg.Global.MaxPixels,
			MaxSourcePixels: cfg.Global.MaxSourcePixels,
		},
		Filter:     filter,
		Logger:     logger,
		Workers:    cfg.Global.Workers,
		Order:      order,
		MaxBacklog: cfg.Global.MaxBacklog,
	})
}

func buildPersistentTier(ctx context.Context, storage config.StorageConfig) (cache.BlobTier, error) {
	if storage.UsesObjectStorage() {
		tier, err := cache.NewObjectTier(ctx, cache.ObjectConfig{
			Endpoint:  storage.Endpoint,
			Bucket:    storage.Bucket,
			AccessKey: storage.AccessKey,
			SecretKey: storage.SecretKey,
			UseSSL:    storage.UseSSL,
			Prefix:    storage.Prefix,
		})
		if err != nil {
			return nil, fmt.Errorf("初始化对象存储失败: %w", err)
		}
		return tier, nil
	}

	tier, err := cache.NewFileTier(storage.Path)
	if err != nil {
		return nil, fmt.Errorf("初始化缓存目录失败: %w", err)
	}
	return tier, nil
}

func startHTTPServer(cfg *config.Config, manager *loader.Manager, logger *logrus.Logger) error {
	port := cfg.Global.ListenPort
	slots := server.NewSlotRegistry()
	app, err := server.NewApp(server.AppOptions{
		Logger:      logger,
		Images:      manager,
		Slots:       slots,
		ListenPort:  port,
		LoadTimeout: cfg.Global.LoadTimeout.DurationValue(),
	})
	if err != nil {
		return err
	}
	routes.RegisterStatusRoutes(app, manager, slots, cfg.Global.Filter)

	logger.WithFields(logrus.Fields{
		"action": "listen",
		"port":   port,
	}).Info("Fiber 服务启动")

	return app.Listen(fmt.Sprintf(":%d", port))
}

// internal/pkg/bootstrap/app.go
package bootstrap

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"fulfillment/internal/pkg/logger"
	"fulfillment/internal/pkg/nacos"
	"fulfillment/internal/pkg/tracing"
)

type AppCtx struct {
	Mux   *http.ServeMux
	Nacos *nacos.Client
}

// Worker 是与 HTTP 服务并行运行的后台任务（例如 Kafka 消费者），ctx 取消时应返回 nil
type Worker func(ctx context.Context) error

// AppInfo 包含了启动服务所需的所有特定信息。
type AppInfo struct {
	Config           *Config
	RegisterHandlers func(appCtx AppCtx) // 允许服务注册自己的 HTTP 路由
	Workers          []Worker
	Cleanup          func() // 所有任务结束后执行，用于关闭数据库、Redis 等连接
}

// StartService 封装了服务的通用启动和优雅关停逻辑，阻塞直到收到 SIGINT/SIGTERM。
func StartService(info AppInfo) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return Run(ctx, info)
}

// Run 与 StartService 相同，但由调用方的 ctx 控制生命周期
func Run(ctx context.Context, info AppInfo) error {
	cfg := info.Config
	log := logger.Ctx(ctx)

	tp, err := tracing.InitTracerProvider(cfg.Service.Name, cfg.Jaeger.Endpoint)
	if err != nil {
		return err
	}

	var naming *nacos.Client
	var instance nacos.Instance
	if cfg.Nacos.ServerAddrs != "" {
		naming, err = nacos.NewNacosClient(cfg.Nacos.ServerAddrs, cfg.Nacos.Namespace, cfg.Nacos.Group)
		if err != nil {
			return err
		}
		ip, err := GetOutboundIP()
		if err != nil {
			return err
		}
		instance = nacos.Instance{
			ServiceName: cfg.Service.Name,
			IP:          ip,
			Port:        cfg.HTTP.Port,
			Metadata:    map[string]string{"lockBackend": cfg.Lock.Backend, "lockPrefix": cfg.Lock.Prefix},
		}
		if err := naming.Register(instance); err != nil {
			return err
		}
	}

	mux := http.NewServeMux()
	if info.RegisterHandlers != nil {
		info.RegisterHandlers(AppCtx{Mux: mux, Nacos: naming})
	}
	server := &http.Server{Addr: ":" + strconv.Itoa(cfg.HTTP.Port), Handler: mux}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", server.Addr).Msgf("%s listening", cfg.Service.Name)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	for _, w := range info.Workers {
		g.Go(func() error { return w(gctx) })
	}
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msgf("Shutting down service %s...", cfg.Service.Name)
		sctx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(sctx)
	})
	runErr := g.Wait()

	// 按启动的逆序清理
	if naming != nil {
		if err := naming.Deregister(instance); err != nil {
			log.Error().Err(err).Msg("Error deregistering from Nacos")
		}
	}
	if info.Cleanup != nil {
		info.Cleanup()
	}
	sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := tp.Shutdown(sctx); err != nil {
		log.Error().Err(err).Msg("Error shutting down tracer provider")
	}

	if runErr != nil {
		log.Error().Err(runErr).Msgf("Service %s stopped with error", cfg.Service.Name)
		return runErr
	}
	log.Info().Msgf("Service %s gracefully shut down.", cfg.Service.Name)
	return nil
}

// GetOutboundIP 返回本机对外通信使用的 IP，用于服务注册。
// UDP Dial 不会真正发包，只是让内核选出路由对应的源地址。
func GetOutboundIP() (string, error) {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "", err
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).IP.String(), nil
}

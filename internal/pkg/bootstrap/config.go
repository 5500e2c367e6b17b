// internal/pkg/bootstrap/config.go
package bootstrap

import (
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	shared "fulfillment/domain"
	"fulfillment/internal/pkg/database"
	"fulfillment/internal/pkg/lock"
)

// 锁后端
const (
	LockBackendRedis     = "redis"
	LockBackendZookeeper = "zookeeper"
)

// Config 是服务的全部配置，来自 YAML 文件并可被环境变量覆盖
type Config struct {
	Service   ServiceConfig   `yaml:"service"`
	HTTP      HTTPConfig      `yaml:"http"`
	MySQL     database.Config `yaml:"mysql"`
	Redis     RedisConfig     `yaml:"redis"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Jaeger    JaegerConfig    `yaml:"jaeger"`
	Nacos     NacosConfig     `yaml:"nacos"`
	Zookeeper ZookeeperConfig `yaml:"zookeeper"`
	Lock      LockConfig      `yaml:"lock"`
	Cache     CacheConfig     `yaml:"cache"`
	Order     OrderConfig     `yaml:"order"`
}

type ServiceConfig struct {
	Name     string `yaml:"name"`
	LogLevel string `yaml:"logLevel"`
}

type HTTPConfig struct {
	Port            int           `yaml:"port"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
}

type RedisConfig struct {
	Addrs string `yaml:"addrs"` // "host1:port1,host2:port2"
}

// KafkaConfig Brokers 为空时不连接 Kafka，订单事件只写日志
type KafkaConfig struct {
	Brokers      []string `yaml:"brokers"`
	OrderTopic   string   `yaml:"orderTopic"`
	SalesGroupID string   `yaml:"salesGroupId"`
}

type JaegerConfig struct {
	Endpoint string `yaml:"endpoint"`
}

// NacosConfig ServerAddrs 为空时跳过服务注册
type NacosConfig struct {
	ServerAddrs string `yaml:"serverAddrs"`
	Namespace   string `yaml:"namespace"`
	Group       string `yaml:"group"`
}

type ZookeeperConfig struct {
	Servers        []string      `yaml:"servers"`
	SessionTimeout time.Duration `yaml:"sessionTimeout"`
	Root           string        `yaml:"root"`
}

// LockConfig 分布式锁配置。FirstTimeout/FollowingTimeout 是下单按序加锁的等待时间，
// DefaultTimeout 是单资源操作的等待时间。
type LockConfig struct {
	Backend          string        `yaml:"backend"`
	Prefix           string        `yaml:"prefix"`
	Lease            time.Duration `yaml:"lease"`
	RetryInterval    time.Duration `yaml:"retryInterval"`
	FirstTimeout     time.Duration `yaml:"firstTimeout"`
	FollowingTimeout time.Duration `yaml:"followingTimeout"`
	DefaultTimeout   time.Duration `yaml:"defaultTimeout"`
}

// Policy 返回下单使用的超时策略
func (c LockConfig) Policy() lock.TimeoutPolicy {
	return lock.TimeoutPolicy{First: c.FirstTimeout, Following: c.FollowingTimeout}
}

type CacheConfig struct {
	ProductTTL time.Duration `yaml:"productTTL"`
}

type OrderConfig struct {
	PublishTimeout time.Duration `yaml:"publishTimeout"`
}

// DefaultConfig 返回本地开发可用的默认配置
func DefaultConfig() *Config {
	policy := lock.DefaultTimeoutPolicy()
	return &Config{
		Service: ServiceConfig{Name: "fulfillment-service", LogLevel: "info"},
		HTTP:    HTTPConfig{Port: 8080, ShutdownTimeout: 10 * time.Second},
		MySQL: database.Config{
			Host:            "localhost",
			Port:            3306,
			User:            "root",
			Name:            "fulfillment",
			MaxOpenConns:    50,
			MaxIdleConns:    10,
			ConnMaxLifetime: time.Hour,
			SlowThreshold:   200 * time.Millisecond,
		},
		Redis: RedisConfig{Addrs: "localhost:6379"},
		Kafka: KafkaConfig{OrderTopic: shared.TopicOrderCompleted, SalesGroupID: "product-sales-group"},
		Nacos: NacosConfig{Group: "DEFAULT_GROUP"},
		Zookeeper: ZookeeperConfig{
			SessionTimeout: 10 * time.Second,
			Root:           "/fulfillment/locks",
		},
		Lock: LockConfig{
			Backend:          LockBackendRedis,
			Prefix:           "lock",
			Lease:            30 * time.Second,
			RetryInterval:    20 * time.Millisecond,
			FirstTimeout:     policy.First,
			FollowingTimeout: policy.Following,
			DefaultTimeout:   10 * time.Second,
		},
		Cache: CacheConfig{ProductTTL: 10 * time.Minute},
		Order: OrderConfig{PublishTimeout: 5 * time.Second},
	}
}

// LoadConfig 读取 YAML 配置，path 为空时只使用默认值和环境变量
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrapf(err, "read config %s", path)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, errors.Wrapf(err, "parse config %s", path)
		}
	}
	applyEnv(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv 用环境变量覆盖部署相关的地址
func applyEnv(cfg *Config) {
	cfg.MySQL.DSN = getEnv("MYSQL_DSN", cfg.MySQL.DSN)
	cfg.Redis.Addrs = getEnv("REDIS_ADDRS", cfg.Redis.Addrs)
	cfg.Jaeger.Endpoint = getEnv("JAEGER_ENDPOINT", cfg.Jaeger.Endpoint)
	cfg.Nacos.ServerAddrs = getEnv("NACOS_SERVER_ADDRS", cfg.Nacos.ServerAddrs)
	cfg.Nacos.Namespace = getEnv("NACOS_NAMESPACE", cfg.Nacos.Namespace)
	cfg.Lock.Backend = getEnv("LOCK_BACKEND", cfg.Lock.Backend)
	if v := getEnv("KAFKA_BROKERS", ""); v != "" {
		cfg.Kafka.Brokers = splitList(v)
	}
	if v := getEnv("ZK_SERVERS", ""); v != "" {
		cfg.Zookeeper.Servers = splitList(v)
	}
}

// Validate 检查会导致启动后才暴露的配置错误
func (c *Config) Validate() error {
	if c.Service.Name == "" {
		return errors.New("service.name is required")
	}
	switch c.Lock.Backend {
	case LockBackendRedis:
		if c.Redis.Addrs == "" {
			return errors.New("redis.addrs is required for the redis lock backend")
		}
	case LockBackendZookeeper:
		if len(c.Zookeeper.Servers) == 0 {
			return errors.New("zookeeper.servers is required for the zookeeper lock backend")
		}
	default:
		return errors.Errorf("unknown lock.backend %q", c.Lock.Backend)
	}
	if c.Lock.FirstTimeout < 0 || c.Lock.FollowingTimeout < 0 || c.Lock.DefaultTimeout < 0 {
		return errors.New("lock timeouts must not be negative")
	}
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// getEnv 是一个内部辅助函数，从环境变量中读取配置。
func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

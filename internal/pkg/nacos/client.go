// internal/pkg/nacos/client.go
package nacos

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/nacos-group/nacos-sdk-go/v2/clients"
	"github.com/nacos-group/nacos-sdk-go/v2/clients/naming_client"
	"github.com/nacos-group/nacos-sdk-go/v2/common/constant"
	"github.com/nacos-group/nacos-sdk-go/v2/vo"
	"github.com/rs/zerolog/log"
)

const defaultGroup = "DEFAULT_GROUP"

// Client 封装了 Nacos 命名客户端，只负责本服务实例的注册与注销
type Client struct {
	namingClient naming_client.INamingClient
	groupName    string
}

// ParseServerConfigs 解析 "ip1:port1,ip2:port2" 格式的地址列表
func ParseServerConfigs(addrs string) ([]constant.ServerConfig, error) {
	var serverConfigs []constant.ServerConfig
	for _, addr := range strings.Split(addrs, ",") {
		host, portStr, err := net.SplitHostPort(strings.TrimSpace(addr))
		if err != nil {
			return nil, fmt.Errorf("invalid nacos address format: %s", addr)
		}
		port, err := strconv.ParseUint(portStr, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid port in nacos address: %s", portStr)
		}
		serverConfigs = append(serverConfigs, *constant.NewServerConfig(host, port))
	}
	return serverConfigs, nil
}

// NewNacosClient 创建并返回一个新的 Nacos 客户端
func NewNacosClient(addrs string, namespaceId, groupName string) (*Client, error) {
	if namespaceId == "" {
		log.Warn().Msg("NACOS_NAMESPACE is not set. Using default public namespace.")
	}
	if groupName == "" {
		groupName = defaultGroup
	}

	serverConfigs, err := ParseServerConfigs(addrs)
	if err != nil {
		return nil, err
	}

	clientConfig := *constant.NewClientConfig(
		constant.WithNotLoadCacheAtStart(true),
		constant.WithLogDir("/tmp/nacos/log"),
		constant.WithCacheDir("/tmp/nacos/cache"),
		constant.WithLogLevel("warn"),
		constant.WithNamespaceId(namespaceId),
	)

	namingClient, err := clients.NewNamingClient(
		vo.NacosClientParam{
			ClientConfig:  &clientConfig,
			ServerConfigs: serverConfigs,
		},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create nacos naming client: %w", err)
	}

	log.Info().Str("addrs", addrs).Str("group", groupName).Msg("✅ Connected to Nacos.")
	return &Client{namingClient: namingClient, groupName: groupName}, nil
}

// Instance 描述本服务注册到 Nacos 的一个实例
type Instance struct {
	ServiceName string
	IP          string
	Port        int
	Metadata    map[string]string // 例如锁后端，供运维排查多实例使用的是否为同一后端
}

func (in Instance) String() string {
	return in.ServiceName + "@" + net.JoinHostPort(in.IP, strconv.Itoa(in.Port))
}

// Register 以临时节点注册实例，心跳断开后 Nacos 会自动摘除
func (c *Client) Register(in Instance) error {
	ok, err := c.namingClient.RegisterInstance(vo.RegisterInstanceParam{
		Ip:          in.IP,
		Port:        uint64(in.Port),
		ServiceName: in.ServiceName,
		GroupName:   c.groupName,
		Metadata:    in.Metadata,
		Weight:      10,
		Enable:      true,
		Healthy:     true,
		Ephemeral:   true,
	})
	if err != nil {
		return fmt.Errorf("register %s with nacos: %w", in, err)
	}
	if !ok {
		return fmt.Errorf("nacos rejected registration of %s", in)
	}
	log.Info().Str("instance", in.String()).Str("group", c.groupName).Msg("Service registered to Nacos")
	return nil
}

// Deregister 注销实例，关停时调用
func (c *Client) Deregister(in Instance) error {
	if _, err := c.namingClient.DeregisterInstance(vo.DeregisterInstanceParam{
		Ip:          in.IP,
		Port:        uint64(in.Port),
		ServiceName: in.ServiceName,
		GroupName:   c.groupName,
		Ephemeral:   true,
	}); err != nil {
		return fmt.Errorf("deregister %s from nacos: %w", in, err)
	}
	log.Info().Str("instance", in.String()).Msg("Service deregistered from Nacos")
	return nil
}

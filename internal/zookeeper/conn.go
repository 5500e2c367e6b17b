// internal/zookeeper/conn.go
package zookeeper

import (
	"fmt"
	"time"

	"github.com/go-zookeeper/zk"
	"github.com/rs/zerolog/log"
)

// Connect 建立 ZooKeeper 会话，并等待会话真正建立
func Connect(servers []string, sessionTimeout time.Duration) (*zk.Conn, error) {
	conn, events, err := zk.Connect(servers, sessionTimeout, zk.WithLogInfo(false))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to zookeeper: %w", err)
	}

	timeout := time.After(sessionTimeout)
	for {
		select {
		case ev := <-events:
			if ev.State == zk.StateHasSession {
				log.Info().Strs("servers", servers).Msg("✅ Connected to ZooKeeper.")
				return conn, nil
			}
		case <-timeout:
			conn.Close()
			return nil, fmt.Errorf("timeout waiting for zookeeper session on %v", servers)
		}
	}
}

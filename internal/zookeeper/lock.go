// internal/zookeeper/lock.go
package zookeeper

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-zookeeper/zk"

	"fulfillment/internal/pkg/lock"
)

const (
	defaultLockRoot = "/distributed_locks" // 所有分布式锁的根节点
	sequenceLen     = 10                   // 顺序节点后缀的固定长度
)

// Locker 是基于临时顺序节点的 lock.Locker 实现。
// 租约由会话保证：持有者崩溃后会话过期，临时节点自动删除。只支持互斥锁。
type Locker struct {
	conn *zk.Conn
	root string
	acl  []zk.ACL
}

// NewLocker 创建 ZooKeeper 锁后端，并确保根节点存在
func NewLocker(conn *zk.Conn, root string) (*Locker, error) {
	if root == "" {
		root = defaultLockRoot
	}
	l := &Locker{conn: conn, root: root, acl: zk.WorldACL(zk.PermAll)}
	if err := l.ensure(root); err != nil {
		return nil, fmt.Errorf("failed to create lock root node: %w", err)
	}
	return l, nil
}

// Acquire 在锁路径下创建临时顺序节点，序号最小者获得锁，其余节点监听前一个节点
func (l *Locker) Acquire(ctx context.Context, key lock.Key, mode lock.Mode, _ time.Duration) (lock.Lease, error) {
	if mode != lock.Exclusive {
		return nil, fmt.Errorf("%w: zookeeper backend only supports exclusive locks", lock.ErrUnsupported)
	}

	lockPath := l.root + "/" + nodeName(key)
	if err := l.ensure(lockPath); err != nil {
		return nil, fmt.Errorf("failed to create lock path node %s: %w", lockPath, err)
	}

	// 格式为: /distributed_locks/<key>/_c_<guid>-lock-0000000001
	nodePath, err := l.conn.CreateProtectedEphemeralSequential(lockPath+"/lock-", []byte(""), l.acl)
	if err != nil {
		return nil, fmt.Errorf("failed to create sequential node: %w", err)
	}
	myNodeName := strings.TrimPrefix(nodePath, lockPath+"/")

	for {
		children, _, err := l.conn.Children(lockPath)
		if err != nil {
			l.abandon(nodePath)
			return nil, fmt.Errorf("failed to get children nodes: %w", err)
		}
		sortBySequence(children)

		idx := -1
		for i, child := range children {
			if child == myNodeName {
				idx = i
				break
			}
		}
		if idx < 0 {
			// 会话过期导致自己的节点被删，无法再参与竞争
			return nil, errors.New("own lock node disappeared, session may have expired")
		}
		if idx == 0 {
			return &zkLease{conn: l.conn, key: key, node: nodePath}, nil
		}

		// 不是最小节点，监听前一个节点
		prevNodePath := lockPath + "/" + children[idx-1]
		exists, _, eventChan, err := l.conn.ExistsW(prevNodePath)
		if err != nil {
			l.abandon(nodePath)
			return nil, fmt.Errorf("failed to watch previous node: %w", err)
		}
		if !exists {
			// 前一个节点刚好被删除，重新检查
			continue
		}

		select {
		case <-eventChan:
			// 前一个节点删除或变化，重新进入循环竞争
		case <-ctx.Done():
			// 放弃等待时必须删除自己的节点，否则后面的等待者会一直卡住
			l.abandon(nodePath)
			return nil, ctx.Err()
		}
	}
}

func (l *Locker) ensure(path string) error {
	exists, _, err := l.conn.Exists(path)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	_, err = l.conn.Create(path, []byte(""), 0, l.acl)
	if err != nil && !errors.Is(err, zk.ErrNodeExists) {
		return err
	}
	return nil
}

func (l *Locker) abandon(nodePath string) {
	_ = l.conn.Delete(nodePath, -1)
}

type zkLease struct {
	conn *zk.Conn
	key  lock.Key
	node string
}

func (z *zkLease) Key() lock.Key { return z.key }

// Release 删除自己的临时节点，节点不存在视为已释放
func (z *zkLease) Release(context.Context) error {
	err := z.conn.Delete(z.node, -1)
	if err != nil && !errors.Is(err, zk.ErrNoNode) {
		return fmt.Errorf("failed to delete lock node: %w", err)
	}
	return nil
}

// nodeName 锁键里不能出现路径分隔符
func nodeName(key lock.Key) string {
	return strings.ReplaceAll(key.String(), "/", "%2F")
}

// sortBySequence 按顺序节点的序号排序。
// protected 节点带有随机 GUID 前缀，直接按名字排序会得到错误的顺序。
func sortBySequence(children []string) {
	sort.Slice(children, func(i, j int) bool {
		return sequenceOf(children[i]) < sequenceOf(children[j])
	})
}

func sequenceOf(name string) string {
	if len(name) < sequenceLen {
		return name
	}
	return name[len(name)-sequenceLen:]
}

package database

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"fulfillment/domain"
)

var optimisticConflicts = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "fulfillment",
	Name:      "optimistic_conflicts_total",
	Help:      "Versioned updates rejected because the stored version changed since read.",
}, []string{"aggregate"})

// VersionConflict 记录一次乐观锁冲突并返回包装好的错误
func VersionConflict(aggregate string, id, version int64) error {
	optimisticConflicts.WithLabelValues(aggregate).Inc()
	return fmt.Errorf("%s %d at version %d: %w", aggregate, id, version, domain.ErrOptimisticLockConflict)
}

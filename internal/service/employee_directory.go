package service

import (
	"context"
	"errors"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"gorm.io/gorm"

	"github.com/xandra-X/humio/internal/repository"
)

// EmployeeDirectory 用户 → 员工映射，带 TTL 的 LRU 缓存
// 只缓存命中结果，新入职员工绑定账号后无需等待缓存过期
type EmployeeDirectory struct {
	repo  repository.EmployeeRepository
	cache *expirable.LRU[int64, int64]
}

// NewEmployeeDirectory 创建员工目录；size<=0 时不缓存
func NewEmployeeDirectory(repo repository.EmployeeRepository, size int, ttl time.Duration) *EmployeeDirectory {
	d := &EmployeeDirectory{repo: repo}
	if size > 0 {
		d.cache = expirable.NewLRU[int64, int64](size, nil, ttl)
	}
	return d
}

// FindEmployeeID 返回 userID 对应的员工 ID，不存在时 found=false
func (d *EmployeeDirectory) FindEmployeeID(ctx context.Context, userID int64) (employeeID int64, found bool, err error) {
	if d.cache != nil {
		if id, ok := d.cache.Get(userID); ok {
			employeeCacheHits.Inc()
			return id, true, nil
		}
		employeeCacheMisses.Inc()
	}

	id, err := d.repo.FindIDByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, false, nil
		}
		return 0, false, err
	}

	if d.cache != nil {
		d.cache.Add(userID, id)
	}
	return id, true, nil
}

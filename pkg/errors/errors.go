package errors

import "errors"

// ErrLockTimeout 在等待时间内未能获取咨询锁
var ErrLockTimeout = errors.New("获取锁超时，请稍后重试")

// ErrLockLost 释放锁时发现锁已过期或被他人持有
var ErrLockLost = errors.New("锁已失效")

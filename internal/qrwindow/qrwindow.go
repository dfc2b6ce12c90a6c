// Package qrwindow 生成与校验基于时间窗口的考勤二维码。
//
// 窗口编号 window = floor(unix 秒 / windowSeconds)，二维码内容为 "<deviceId>|<window>"。
// 校验只看窗口是否在当前窗口 ±skew 之内，不保存任何状态；窗口内的重放由扫码冷却兜底。
package qrwindow

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// 默认参数
const (
	DefaultWindowSeconds = 30
	DefaultSkewWindows   = 1
	separator            = "|"

	// MaxDeviceIDLen 设备标识最大长度，与 qr_scan_logs.device_uuid 列宽一致
	MaxDeviceIDLen = 255
)

var (
	// ErrMalformedPayload 二维码格式错误
	ErrMalformedPayload = errors.New("malformed QR payload")
	// ErrExpiredOrNotYetValid 窗口超出允许的偏差
	ErrExpiredOrNotYetValid = errors.New("QR expired or not yet valid")
)

// 格式错误的具体原因，作为 ErrMalformedPayload 的说明文本
const (
	reasonMissing     = "Missing QR payload"
	reasonFormat      = "Invalid QR format"
	reasonEmptyDevice = "Empty device id in QR"
	reasonBadWindow   = "Invalid window in QR"
)

// ReasonError 携带面向客户端的失败原因
type ReasonError struct {
	Reason string
	Err    error
}

func (e *ReasonError) Error() string { return e.Reason }

func (e *ReasonError) Unwrap() error { return e.Err }

func malformed(reason string) error {
	return &ReasonError{Reason: reason, Err: ErrMalformedPayload}
}

// Window 二维码窗口生成器 / 校验器
type Window struct {
	seconds int64
	skew    int64
	now     func() time.Time
}

// New 创建 Window；seconds<=0 或 skew<0 时回落默认值，now 为 nil 时使用 time.Now
func New(seconds, skew int64, now func() time.Time) *Window {
	if seconds <= 0 {
		seconds = DefaultWindowSeconds
	}
	if skew < 0 {
		skew = DefaultSkewWindows
	}
	if now == nil {
		now = time.Now
	}
	return &Window{seconds: seconds, skew: skew, now: now}
}

// Current 当前窗口编号
func (w *Window) Current() int64 {
	return w.At(w.now())
}

// At 计算任意时刻所在窗口
func (w *Window) At(t time.Time) int64 {
	sec := t.Unix()
	// 向下取整，兼容 1970 年之前的时间
	q := sec / w.seconds
	if sec%w.seconds != 0 && sec < 0 {
		q--
	}
	return q
}

// Payload 生成当前窗口的二维码内容
func (w *Window) Payload(deviceID string) string {
	return FormatPayload(deviceID, w.Current())
}

// ValidUntil 窗口 window 被接受的最后时刻（不含）
func (w *Window) ValidUntil(window int64) time.Time {
	return time.Unix((window+w.skew+1)*w.seconds, 0)
}

// FormatPayload 拼接二维码内容
func FormatPayload(deviceID string, window int64) string {
	return deviceID + separator + strconv.FormatInt(window, 10)
}

// ParseAndValidate 解析并校验二维码
// 返回的错误可用 errors.Is 区分 ErrMalformedPayload / ErrExpiredOrNotYetValid，
// Error() 文本即面向客户端的原因
func (w *Window) ParseAndValidate(qr string) (deviceID string, window int64, err error) {
	deviceID, window, err = Parse(qr)
	if err != nil {
		return "", 0, err
	}

	diff := w.Current() - window
	if diff < 0 {
		diff = -diff
	}
	if diff > w.skew {
		return "", 0, &ReasonError{Reason: ErrExpiredOrNotYetValid.Error(), Err: ErrExpiredOrNotYetValid}
	}
	return deviceID, window, nil
}

// Parse 只做格式解析，不校验时间
func Parse(qr string) (string, int64, error) {
	qr = strings.TrimSpace(qr)
	if qr == "" {
		return "", 0, malformed(reasonMissing)
	}

	parts := strings.Split(qr, separator)
	if len(parts) != 2 {
		return "", 0, malformed(reasonFormat)
	}

	deviceID := strings.TrimSpace(parts[0])
	if deviceID == "" {
		return "", 0, malformed(reasonEmptyDevice)
	}
	if len(deviceID) > MaxDeviceIDLen {
		return "", 0, malformed(reasonFormat)
	}

	window, err := strconv.ParseInt(strings.TrimSpace(parts[1]), 10, 64)
	if err != nil {
		return "", 0, malformed(reasonBadWindow)
	}
	return deviceID, window, nil
}

// String 便于日志输出
func (w *Window) String() string {
	return fmt.Sprintf("qrwindow(%ds,±%d)", w.seconds, w.skew)
}

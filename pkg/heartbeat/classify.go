package heartbeat

import (
	"strconv"
	"strings"
)

// Class 对端协议分类。
type Class int

const (
	ClassUnknown Class = iota
	ClassLegacy
	ClassModern
)

func (c Class) String() string {
	switch c {
	case ClassLegacy:
		return "legacy"
	case ClassModern:
		return "modern"
	default:
		return "unknown"
	}
}

// Classification 分类结果，Version 仅在 ClassModern 时有意义。
type Classification struct {
	Class   Class
	Version int
}

// ParseProtocolVersion 从协议标识中提取整数版本号。
// 支持 "happn_4"、"4"、"1.1.0"（取前导数字）以及以数字结尾的标识。
func ParseProtocolVersion(tag, marker string) (int, bool) {
	s := strings.TrimSpace(tag)
	if marker != "" {
		s = strings.TrimPrefix(s, marker)
	}
	if s == "" {
		return 0, false
	}
	if digits := leadingDigits(s); digits != "" {
		return atoi(digits)
	}
	if digits := trailingDigits(s); digits != "" {
		return atoi(digits)
	}
	return 0, false
}

// Classify 根据监视器状态判定对端协议，无副作用，每次 tick 都会调用。
func Classify(state State, policy Policy) Classification {
	// 对端一旦使用过旧版 ping，整个连接生命周期都按旧版处理
	if state.LegacySignalled {
		return Classification{Class: ClassLegacy}
	}
	if !state.TagSet {
		return Classification{Class: ClassUnknown}
	}
	v, ok := ParseProtocolVersion(state.ProtocolTag, policy.ProtocolMarker)
	if !ok {
		return Classification{Class: ClassLegacy}
	}
	modern := policy.ModernVersion
	if modern <= 0 {
		modern = DefaultModernVersion
	}
	if v < modern {
		return Classification{Class: ClassLegacy}
	}
	return Classification{Class: ClassModern, Version: v}
}

func leadingDigits(s string) string {
	i := 0
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	return s[:i]
}

func trailingDigits(s string) string {
	i := len(s)
	for i > 0 && s[i-1] >= '0' && s[i-1] <= '9' {
		i--
	}
	return s[i:]
}

func atoi(digits string) (int, bool) {
	v, err := strconv.Atoi(digits)
	if err != nil {
		return 0, false
	}
	return v, true
}

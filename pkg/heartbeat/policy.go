package heartbeat

import "time"

const (
	// DefaultInterval 旧版协议使用的固定心跳周期，未配置周期时作为兜底值。
	DefaultInterval              = 25 * time.Second
	DefaultAllowedSkippedBeats   = 1
	DefaultLegacyGraceMultiplier = 2
	DefaultProtocolMarker        = "happn_"
	DefaultModernVersion         = 4
	DefaultNamespace             = "primus"
)

// GraceMode 决定新连接在完成协议配置前享有的等待窗口。
type GraceMode int

const (
	// GraceInterval 窗口等于一个心跳周期。
	GraceInterval GraceMode = iota
	// GraceFixed 窗口取 Policy.GraceWindow。
	GraceFixed
	// GraceNone 不设窗口，只依赖各协议分类自身的超时阈值。
	GraceNone
)

func (m GraceMode) String() string {
	switch m {
	case GraceInterval:
		return "interval"
	case GraceFixed:
		return "fixed"
	case GraceNone:
		return "none"
	default:
		return "unknown"
	}
}

// ParseGraceMode 解析配置中的窗口模式名称，空字符串按 interval 处理。
func ParseGraceMode(s string) (GraceMode, bool) {
	switch s {
	case "", "interval":
		return GraceInterval, true
	case "fixed":
		return GraceFixed, true
	case "none":
		return GraceNone, true
	}
	return GraceInterval, false
}

// Policy 心跳策略配置，由框架持有，监视器只读。
type Policy struct {
	Interval              time.Duration
	AllowedSkippedBeats   int
	LegacyGraceMultiplier int

	GraceMode   GraceMode
	GraceWindow time.Duration

	ProtocolMarker string
	ModernVersion  int
	Namespace      string

	// Disabled 为 true 时注册表不启动定时器（对应旧配置中关闭 ping 的场景）。
	Disabled bool
}

// DefaultPolicy 返回全部取默认值的策略。
func DefaultPolicy() Policy {
	return Policy{}.Resolve()
}

// Resolve 补齐未配置的字段并返回副本，构造监视器时调用一次。
func (p Policy) Resolve() Policy {
	if p.Interval <= 0 {
		p.Interval = DefaultInterval
	}
	if p.AllowedSkippedBeats <= 0 {
		p.AllowedSkippedBeats = DefaultAllowedSkippedBeats
	}
	if p.LegacyGraceMultiplier <= 0 {
		p.LegacyGraceMultiplier = DefaultLegacyGraceMultiplier
	}
	if p.GraceMode == GraceFixed && p.GraceWindow <= 0 {
		p.GraceWindow = p.Interval
	}
	if p.ProtocolMarker == "" {
		p.ProtocolMarker = DefaultProtocolMarker
	}
	if p.ModernVersion <= 0 {
		p.ModernVersion = DefaultModernVersion
	}
	if p.Namespace == "" {
		p.Namespace = DefaultNamespace
	}
	return p
}

// LegacyThreshold 旧版客户端最长静默时间，超过即判定无响应。
func (p Policy) LegacyThreshold() time.Duration {
	base := p.Interval
	if base <= 0 {
		base = DefaultInterval
	}
	mult := p.LegacyGraceMultiplier
	if mult <= 0 {
		mult = DefaultLegacyGraceMultiplier
	}
	return time.Duration(mult) * base
}

// Grace 返回连接建立后等待协议配置的窗口长度，0 表示没有窗口。
func (p Policy) Grace() time.Duration {
	switch p.GraceMode {
	case GraceFixed:
		return p.GraceWindow
	case GraceNone:
		return 0
	default:
		return p.Interval
	}
}

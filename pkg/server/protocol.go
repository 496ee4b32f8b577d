package server

import "strings"

const separator = "::"

// 入站报文路由，用作指标标签。
const (
	routeHeartbeat = "heartbeat"
	routeConfigure = "configure"
	routeData      = "data"
)

// parseConfigure 解析 "<ns>::configure::<tag>"，tag 可包含分隔符以外的任意字符。
func parseConfigure(namespace, line string) (string, bool) {
	prefix := namespace + separator + "configure" + separator
	if !strings.HasPrefix(line, prefix) {
		return "", false
	}
	return strings.TrimSpace(line[len(prefix):]), true
}

func configuredMessage(namespace, tag string) string {
	return namespace + separator + "configured" + separator + tag
}

// endMessage 通知对端连接即将关闭，reconnect 为 true 时对端应重新连接。
func endMessage(namespace string, reconnect bool) string {
	if reconnect {
		return namespace + separator + "end" + separator + "reconnect"
	}
	return namespace + separator + "end"
}

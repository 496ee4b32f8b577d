package server

import (
	"fmt"

	goserver "github.com/zboyco/go-server"
)

// sessionSpark 将 go-server 会话适配为 heartbeat.Spark，报文以换行分帧。
type sessionSpark struct {
	session   *goserver.AppSession
	namespace string
}

func newSessionSpark(session *goserver.AppSession, namespace string) *sessionSpark {
	return &sessionSpark{session: session, namespace: namespace}
}

func (s *sessionSpark) ID() string { return s.session.ID }

func (s *sessionSpark) Write(payload string) error {
	if err := s.session.Send([]byte(payload + "\n")); err != nil {
		return fmt.Errorf("send to %s: %w", s.session.ID, err)
	}
	return nil
}

// End 先通知对端再关闭会话，关闭会话会触发 onSessionClosed 完成注销。
func (s *sessionSpark) End(reconnect bool) error {
	err := s.Write(endMessage(s.namespace, reconnect))
	reason := "ended"
	if reconnect {
		reason = "heartbeat timeout"
	}
	s.session.Close(reason)
	return err
}

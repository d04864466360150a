// Package auth 实现了连接握手阶段的会话认证
package auth

import (
	"crypto/subtle"
	"errors"

	"github.com/life-stream-dev/life-stream-go-screen-relay/internal/logger"
)

var (
	ErrMissingCredentials = errors.New("missing session_id or token")
	ErrBadToken           = errors.New("invalid token")
)

// Authenticator 校验客户端在握手时携带的会话凭证。
// 优先匹配按会话配置的令牌，否则回退到共享令牌。
// 两者都未配置时接受任意非空令牌，与原先信任本地连接的行为一致。
type Authenticator struct {
	sharedToken   string
	sessionTokens map[string]string
	open          bool
}

func NewAuthenticator(sharedToken string, sessionTokens map[string]string) *Authenticator {
	open := sharedToken == "" && len(sessionTokens) == 0
	if open {
		logger.Warn("No tokens configured, accepting any non-empty token")
	}
	return &Authenticator{
		sharedToken:   sharedToken,
		sessionTokens: sessionTokens,
		open:          open,
	}
}

func (a *Authenticator) Authenticate(sessionID, token string) error {
	if sessionID == "" || token == "" {
		return ErrMissingCredentials
	}

	if a.open {
		return nil
	}

	expected := a.sharedToken
	if perSession, ok := a.sessionTokens[sessionID]; ok {
		expected = perSession
	}
	if expected == "" {
		return ErrBadToken
	}

	// 常数时间比较，避免时序侧信道
	if subtle.ConstantTimeCompare([]byte(token), []byte(expected)) != 1 {
		return ErrBadToken
	}
	return nil
}

package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"fmt"
	"log/slog"
	"strings"

	"PluginHub/pkg/logger"
)

type tokenEntry struct {
	digest  [sha256.Size]byte
	subject *Subject
}

// Service 负责 API 请求的认证。
type Service struct {
	mode   Mode
	tokens []tokenEntry
	audit  *slog.Logger
}

// NewService 校验配置并索引令牌。令牌以摘要形式保存，比较耗时与长度无关。
func NewService(cfg Config) (*Service, error) {
	mode := cfg.Mode
	if mode == "" {
		mode = ModeDisabled
	}
	s := &Service{mode: mode, audit: logger.Audit()}
	switch mode {
	case ModeDisabled:
		return s, nil
	case ModeToken:
	default:
		return nil, fmt.Errorf("unsupported auth mode %q", mode)
	}

	if len(cfg.Tokens) == 0 {
		return nil, fmt.Errorf("auth mode %q requires at least one token", mode)
	}
	seen := make(map[string]struct{}, len(cfg.Tokens))
	for i, tc := range cfg.Tokens {
		if strings.TrimSpace(tc.Token) == "" {
			return nil, fmt.Errorf("tokens[%d]: token cannot be empty", i)
		}
		if tc.Name == "" {
			return nil, fmt.Errorf("tokens[%d]: name cannot be empty", i)
		}
		if _, dup := seen[tc.Name]; dup {
			return nil, fmt.Errorf("tokens[%d]: duplicate name %q", i, tc.Name)
		}
		seen[tc.Name] = struct{}{}
		subject := &Subject{
			Name:        tc.Name,
			Permissions: append([]string(nil), tc.Permissions...),
			Disabled:    tc.Disabled,
		}
		subject.normalise()
		s.tokens = append(s.tokens, tokenEntry{digest: sha256.Sum256([]byte(tc.Token)), subject: subject})
	}
	return s, nil
}

// Mode 返回当前生效的认证模式。
func (s *Service) Mode() Mode {
	if s == nil {
		return ModeDisabled
	}
	return s.mode
}

// AuthenticateRequest 根据 Authorization 头解析调用主体。
func (s *Service) AuthenticateRequest(authorization string) (*Subject, error) {
	token, ok := bearerToken(authorization)
	if !ok {
		return nil, ErrMissingToken
	}
	digest := sha256.Sum256([]byte(token))
	var found *Subject
	for _, entry := range s.tokens {
		if subtle.ConstantTimeCompare(entry.digest[:], digest[:]) == 1 {
			found = entry.subject
		}
	}
	if found == nil {
		return nil, ErrInvalidToken
	}
	if found.Disabled {
		return nil, ErrSubjectRevoked
	}
	return found, nil
}

func bearerToken(header string) (string, bool) {
	const prefix = "bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	token := strings.TrimSpace(header[len(prefix):])
	return token, token != ""
}

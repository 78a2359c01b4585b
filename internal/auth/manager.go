// Package auth はAPIキーによる呼び出し元の認証と、プラン階級の解決を提供します。
// セッションやOAuthなどの本格的な認証基盤は外部コラボレーターの責務であり、
// ここでは「認証済み呼び出し元 + プラン階級」というインターフェースだけを担います。
package auth

import (
	"context"
	"log"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// ContextIdentityKey は、ハンドラー間で認証済み呼び出し元を共有するためのキーです。
const ContextIdentityKey = "auth.identity"

// APIキーの形式: ef_<customerID>_<secret>
const apiKeyPrefix = "ef_"

// Identity は認証済みの呼び出し元を表します。
type Identity struct {
	CustomerID string
	Name       string
	Tier       string
}

// KeyResolver はAPIキーを検証して呼び出し元を解決します。
// 参照実装は billing.KeyAuthenticator です。
type KeyResolver interface {
	ResolveAPIKey(ctx context.Context, customerID, secret string) (*Identity, error)
}

// Manager は認証ミドルウェアをまとめた構造体です。
type Manager struct {
	resolver KeyResolver
	logger   *log.Logger
}

// NewManager は認証マネージャーを作成します。
func NewManager(resolver KeyResolver, logger *log.Logger) *Manager {
	if logger == nil {
		logger = log.Default()
	}
	return &Manager{
		resolver: resolver,
		logger:   logger,
	}
}

// RequireAPIKey は Authorization: Bearer ヘッダーのAPIキーを検証するミドルウェアです。
func (m *Manager) RequireAPIKey() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(token) == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"code":    "UNAUTHORIZED",
				"message": "Authorization: Bearer <APIキー> を指定してください。",
			})
			return
		}

		customerID, secret, ok := splitAPIKey(strings.TrimSpace(token))
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"code":    "UNAUTHORIZED",
				"message": "APIキーの形式が正しくありません。",
			})
			return
		}

		identity, err := m.resolver.ResolveAPIKey(c.Request.Context(), customerID, secret)
		if err != nil {
			m.logger.Printf("api key rejected customer=%s: %v", customerID, err)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"code":    "UNAUTHORIZED",
				"message": "APIキーが無効です。",
			})
			return
		}

		c.Set(ContextIdentityKey, identity)
		c.Next()
	}
}

// IdentityFrom はコンテキストから認証済み呼び出し元を取り出します。
func IdentityFrom(c *gin.Context) (*Identity, bool) {
	v, ok := c.Get(ContextIdentityKey)
	if !ok {
		return nil, false
	}
	identity, ok := v.(*Identity)
	return identity, ok
}

func splitAPIKey(key string) (customerID, secret string, ok bool) {
	rest, found := strings.CutPrefix(key, apiKeyPrefix)
	if !found {
		return "", "", false
	}
	idx := strings.LastIndex(rest, "_")
	if idx <= 0 || idx == len(rest)-1 {
		return "", "", false
	}
	return rest[:idx], rest[idx+1:], true
}

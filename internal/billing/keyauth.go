package billing

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/yourusername/export-forge/internal/auth"
)

// ErrInvalidAPIKey はAPIキー検証に失敗したことを表します。
var ErrInvalidAPIKey = errors.New("invalid api key")

// KeyAuthenticator はAPIキーから顧客とプラン階級を解決します。
// auth.KeyResolver の実装です。
type KeyAuthenticator struct {
	db *gorm.DB
}

// NewKeyAuthenticator は KeyAuthenticator を作成します。
func NewKeyAuthenticator(db *gorm.DB) *KeyAuthenticator {
	return &KeyAuthenticator{db: db}
}

// ResolveAPIKey は顧客IDとシークレットを検証し、認証済みの呼び出し元情報を返します。
func (a *KeyAuthenticator) ResolveAPIKey(ctx context.Context, customerID, secret string) (*auth.Identity, error) {
	var customer Customer
	err := a.db.WithContext(ctx).
		Where("id = ?", customerID).
		First(&customer).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidAPIKey
		}
		return nil, fmt.Errorf("failed to load customer: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(customer.APIKeyHash), []byte(secret)); err != nil {
		return nil, ErrInvalidAPIKey
	}

	tier := TierFree
	var sub Subscription
	err = a.db.WithContext(ctx).
		Where("customer_id = ?", customerID).
		First(&sub).Error
	switch {
	case err == nil:
		tier = NormalizeTier(string(sub.Tier))
	case errors.Is(err, gorm.ErrRecordNotFound):
		// サブスクリプション不在はFREE扱い
	default:
		return nil, fmt.Errorf("failed to load subscription: %w", err)
	}

	return &auth.Identity{
		CustomerID: customer.ID,
		Name:       customer.Name,
		Tier:       string(tier),
	}, nil
}

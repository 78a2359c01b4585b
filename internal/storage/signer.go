package storage

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"
)

// Signer は有効期限付きダウンロードURLの署名と検証を行います。
// 署名対象はオブジェクトキーと失効時刻で、HMAC-SHA256で署名します。
type Signer struct {
	secret []byte
}

// NewSigner は Signer を作成します。
func NewSigner(secret string) *Signer {
	return &Signer{secret: []byte(secret)}
}

// Sign は key に対する署名と失効Unix秒を返します。
func (s *Signer) Sign(key string, expiry time.Duration, now time.Time) (signature string, expiresUnix int64) {
	expiresUnix = now.Add(expiry).Unix()
	return s.compute(key, expiresUnix), expiresUnix
}

// Verify は署名の正当性と有効期限を検証します。
func (s *Signer) Verify(key, signature string, expiresUnix int64, now time.Time) error {
	if now.Unix() > expiresUnix {
		return fmt.Errorf("signature expired")
	}
	expected := s.compute(key, expiresUnix)
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return fmt.Errorf("signature mismatch")
	}
	return nil
}

func (s *Signer) compute(key string, expiresUnix int64) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(key))
	mac.Write([]byte{0})
	mac.Write([]byte(strconv.FormatInt(expiresUnix, 10)))
	return hex.EncodeToString(mac.Sum(nil))
}

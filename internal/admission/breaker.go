// Package admission は同一ペイロードの連続投入を遮断するサーキットブレーカーを提供します。
package admission

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

const counterKeyPrefix = "adm:"

// DefaultThreshold はウィンドウ内で許可される同一リクエストの既定回数です。
const DefaultThreshold = 10

// DefaultWindow はスライディングウィンドウの既定の長さです。
const DefaultWindow = 60 * time.Second

// Decision は入場判定の結果を表します。
type Decision struct {
	Count     int64 // インクリメント後のカウンター値
	Blocked   bool  // しきい値超過により遮断すべきか
	StoreDown bool  // カウンターストアに到達できず、ポリシーで判定したか
}

// Breaker は (呼び出し元, ペイロードハッシュ) ごとのカウンターをRedisに保持します。
// カウンターのインクリメントはINCRそのものの原子性に依存し、初回のTTL設定は
// ベストエフォートの second operation として扱います（失敗してもカウントは壊れない）。
type Breaker struct {
	rdb       *redis.Client
	threshold int
	window    time.Duration
	failOpen  bool
	logger    *log.Logger
}

// NewBreaker は Breaker を作成します。threshold/window が0以下の場合は既定値を使います。
// failOpen が true の場合、ストア障害時はリクエストを許可します（falseなら遮断）。
func NewBreaker(rdb *redis.Client, threshold int, window time.Duration, failOpen bool, logger *log.Logger) *Breaker {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if window <= 0 {
		window = DefaultWindow
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Breaker{
		rdb:       rdb,
		threshold: threshold,
		window:    window,
		failOpen:  failOpen,
		logger:    logger,
	}
}

// CheckAndIncrement は callerID とペイロードハッシュに対応するカウンターを
// 原子的にインクリメントし、遮断すべきかを判定します。
// 1〜threshold 回目は許可、threshold+1 回目以降はウィンドウが切れるまで遮断します。
func (b *Breaker) CheckAndIncrement(ctx context.Context, callerID, payloadHash string) (Decision, error) {
	return b.CheckAndIncrementN(ctx, callerID, payloadHash, b.threshold, b.window)
}

// CheckAndIncrementN はしきい値とウィンドウを呼び出しごとに上書きするバリアントです。
// エンドポイント単位で制限を変えたい場合に使います。
func (b *Breaker) CheckAndIncrementN(ctx context.Context, callerID, payloadHash string, threshold int, window time.Duration) (Decision, error) {
	if callerID == "" {
		return Decision{}, fmt.Errorf("callerID is required")
	}
	if payloadHash == "" {
		return Decision{}, fmt.Errorf("payloadHash is required")
	}
	if threshold <= 0 {
		threshold = b.threshold
	}
	if window <= 0 {
		window = b.window
	}

	key := counterKey(callerID, payloadHash)

	count, err := b.rdb.Incr(ctx, key).Result()
	if err != nil {
		// ストア障害は握りつぶさずログに残し、ポリシーに従って判定する
		b.logger.Printf("admission counter store unreachable (fail-open=%v): %v", b.failOpen, err)
		return Decision{Blocked: !b.failOpen, StoreDown: true}, nil
	}

	if count == 1 {
		// TTL設定はベストエフォート。失敗してもカウント自体は有効なまま残る
		if err := b.rdb.Expire(ctx, key, window).Err(); err != nil {
			b.logger.Printf("failed to set admission counter ttl key=%s: %v", key, err)
		}
	}

	return Decision{
		Count:   count,
		Blocked: count > int64(threshold),
	}, nil
}

func counterKey(callerID, payloadHash string) string {
	return counterKeyPrefix + callerID + ":" + payloadHash
}

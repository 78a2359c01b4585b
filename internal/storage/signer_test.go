package storage

import (
	"testing"
	"time"
)

func TestSignerRoundTrip(t *testing.T) {
	signer := NewSigner("secret")
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

	sig, exp := signer.Sign("exports/job-1/export.csv", 15*time.Minute, now)
	if err := signer.Verify("exports/job-1/export.csv", sig, exp, now.Add(14*time.Minute)); err != nil {
		t.Errorf("valid signature rejected: %v", err)
	}
}

func TestSignerRejectsExpired(t *testing.T) {
	signer := NewSigner("secret")
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

	sig, exp := signer.Sign("key", 15*time.Minute, now)
	if err := signer.Verify("key", sig, exp, now.Add(16*time.Minute)); err == nil {
		t.Errorf("expired signature accepted")
	}
}

func TestSignerRejectsTampering(t *testing.T) {
	signer := NewSigner("secret")
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	sig, exp := signer.Sign("key", 15*time.Minute, now)

	// 別のキーに署名を流用できない
	if err := signer.Verify("other-key", sig, exp, now); err == nil {
		t.Errorf("signature accepted for wrong key")
	}
	// 失効時刻の改ざんも検出する
	if err := signer.Verify("key", sig, exp+3600, now); err == nil {
		t.Errorf("signature accepted with altered expiry")
	}
	// 鍵が違えば検証は失敗する
	if err := NewSigner("another").Verify("key", sig, exp, now); err == nil {
		t.Errorf("signature accepted with wrong secret")
	}
}

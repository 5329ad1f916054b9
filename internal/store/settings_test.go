package store

import (
	"context"
	"testing"

	"github.com/erazemk/shramba/internal/db"
)

func TestGetJWTSecretGeneratesAndPersists(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()

	secret1, err := GetJWTSecret(ctx, database)
	if err != nil {
		t.Fatalf("GetJWTSecret: %v", err)
	}
	if len(secret1) != 64 {
		t.Fatalf("expected 64 hex chars, got %d", len(secret1))
	}

	secret2, err := GetJWTSecret(ctx, database)
	if err != nil {
		t.Fatalf("GetJWTSecret: %v", err)
	}
	if secret1 != secret2 {
		t.Errorf("expected same secret, got %q and %q", secret1, secret2)
	}
}

func TestSettings(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()

	v, err := GetSetting(ctx, database, SettingLastSweep)
	if err != nil || v != "" {
		t.Fatalf("expected unset setting, got %q, %v", v, err)
	}

	if err := SetSetting(ctx, database, SettingLastSweep, "a"); err != nil {
		t.Fatalf("SetSetting: %v", err)
	}
	if err := SetSetting(ctx, database, SettingLastSweep, "b"); err != nil {
		t.Fatalf("SetSetting overwrite: %v", err)
	}
	if v, _ := GetSetting(ctx, database, SettingLastSweep); v != "b" {
		t.Errorf("expected b, got %q", v)
	}
}

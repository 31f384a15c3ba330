// Package dbtest opens throwaway in-memory stores for tests.
package dbtest

import (
	"context"
	"testing"

	"lab_key_tracker/config"
	"lab_key_tracker/db"
	"lab_key_tracker/models"
)

// New returns a migrated repo backed by a private in-memory SQLite database.
func New(t testing.TB) *db.Repo {
	t.Helper()
	gdb, err := db.Open(config.DBConfig{Driver: "sqlite", SQLitePath: ":memory:"})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.Migrate(gdb); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := gdb.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db.NewRepo(gdb)
}

// SeedKeys creates Available keys with the given ids.
func SeedKeys(t testing.TB, r *db.Repo, ids ...string) {
	t.Helper()
	for _, id := range ids {
		if _, err := r.CreateKey(context.Background(), id, "Lab "+id); err != nil {
			t.Fatalf("seed key %s: %v", id, err)
		}
	}
}

// SeedTeachers creates teachers named after their ids.
func SeedTeachers(t testing.TB, r *db.Repo, ids ...string) {
	t.Helper()
	for _, id := range ids {
		if err := r.CreateTeacher(context.Background(), &models.Teacher{ID: id, Name: "Teacher " + id}); err != nil {
			t.Fatalf("seed teacher %s: %v", id, err)
		}
	}
}

// AssertConsistent fails the test when any key's status disagrees with the ledger:
// Borrowed iff exactly one open transaction, Available iff none.
func AssertConsistent(t testing.TB, r *db.Repo) {
	t.Helper()
	var keys []models.Key
	if err := r.DB.Find(&keys).Error; err != nil {
		t.Fatalf("load keys: %v", err)
	}
	for _, k := range keys {
		var n int64
		if err := r.DB.Model(&models.Transaction{}).
			Where("key_id = ? AND return_date IS NULL", k.KeyID).
			Count(&n).Error; err != nil {
			t.Fatalf("count open for %s: %v", k.KeyID, err)
		}
		switch {
		case k.Status == models.KeyBorrowed && n != 1:
			t.Errorf("key %s is Borrowed with %d open transactions", k.KeyID, n)
		case k.Status == models.KeyAvailable && n != 0:
			t.Errorf("key %s is Available with %d open transactions", k.KeyID, n)
		}
	}
}

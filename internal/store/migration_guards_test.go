package store

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func readMigration(t *testing.T, name string) string {
	t.Helper()
	sqlBytes, err := os.ReadFile(filepath.Join("..", "..", "db", "migrations", name))
	if err != nil {
		t.Fatalf("read migration %s: %v", name, err)
	}
	return string(sqlBytes)
}

func TestHistoryMigrationUsesBlockingTriggers(t *testing.T) {
	sqlText := readMigration(t, "0004_history.up.sql")

	expectedSnippets := []string{
		"history_immutable_guard",
		"RAISE EXCEPTION",
		"CREATE TRIGGER trg_history_block_update",
		"CREATE TRIGGER trg_history_block_delete",
		"type = 'post' AND post_id IS NOT NULL AND request_id IS NULL",
		"type = 'request' AND request_id IS NOT NULL AND post_id IS NULL",
	}
	for _, snippet := range expectedSnippets {
		if !strings.Contains(sqlText, snippet) {
			t.Fatalf("expected migration to contain %q", snippet)
		}
	}
	if strings.Contains(sqlText, "DO INSTEAD NOTHING") {
		t.Fatalf("expected hard-fail immutability guard, found silent DO INSTEAD NOTHING rule")
	}
}

func TestConversationMigrationKeysOnSortedPair(t *testing.T) {
	sqlText := readMigration(t, "0003_messaging.up.sql")
	for _, snippet := range []string{
		"UNIQUE (participant_low, participant_high)",
		"participant_low COLLATE \"C\" < participant_high COLLATE \"C\"",
		"trg_messages_read_monotonic",
	} {
		if !strings.Contains(sqlText, snippet) {
			t.Fatalf("expected migration to contain %q", snippet)
		}
	}
}

func TestPairKeyIsOrderIndependent(t *testing.T) {
	lowA, highA := PairKey("usr_b", "usr_a")
	lowB, highB := PairKey("usr_a", "usr_b")
	if lowA != lowB || highA != highB || lowA != "usr_a" {
		t.Fatalf("unexpected pair keys: (%s,%s) vs (%s,%s)", lowA, highA, lowB, highB)
	}
}

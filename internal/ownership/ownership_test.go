package ownership

import (
	"testing"

	"ecocropshare/api/internal/ref"
)

func TestCan(t *testing.T) {
	owner := ref.Populated("usr_owner", ref.Summary{Name: "Owner"})
	cases := []struct {
		name   string
		caller any
		action Action
		allow  bool
	}{
		{name: "owner edit", caller: "usr_owner", action: ActionEdit, allow: true},
		{name: "owner delete", caller: "usr_owner", action: ActionDelete, allow: true},
		{name: "owner fulfill", caller: map[string]any{"_id": "usr_owner"}, action: ActionFulfill, allow: true},
		{name: "stranger edit", caller: "usr_other", action: ActionEdit, allow: false},
		{name: "stranger delete", caller: "usr_other", action: ActionDelete, allow: false},
		{name: "stranger fulfill", caller: "usr_other", action: ActionFulfill, allow: false},
		{name: "stranger read", caller: "usr_other", action: ActionRead, allow: true},
		{name: "stranger comment", caller: "usr_other", action: ActionComment, allow: true},
		{name: "anonymous read", caller: "", action: ActionRead, allow: false},
		{name: "unknown action", caller: "usr_owner", action: Action("merge"), allow: false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Can(tc.caller, owner, tc.action); got != tc.allow {
				t.Fatalf("Can(%v, owner, %q) = %v, want %v", tc.caller, tc.action, got, tc.allow)
			}
		})
	}
}

func TestRoleIn(t *testing.T) {
	giver := ref.New("usr_a")
	receiver := map[string]any{"id": "usr_b"}

	if got := RoleIn("usr_a", giver, receiver); got != RoleGiver {
		t.Fatalf("expected giver, got %q", got)
	}
	if got := RoleIn("usr_b", giver, receiver); got != RoleReceiver {
		t.Fatalf("expected receiver, got %q", got)
	}
	if got := RoleIn("usr_c", giver, receiver); got != "" {
		t.Fatalf("expected no role, got %q", got)
	}
	if !IsParticipant("usr_b", giver, receiver) || IsParticipant("usr_c", giver, receiver) {
		t.Fatal("unexpected participant result")
	}
}

func TestNormalizeRole(t *testing.T) {
	if _, ok := NormalizeRole("owner"); ok {
		t.Fatal("expected unknown role to be rejected")
	}
	if role, ok := NormalizeRole("receiver"); !ok || role != RoleReceiver {
		t.Fatalf("unexpected normalization: %q %v", role, ok)
	}
	if role, ok := NormalizeRole(""); !ok || role != "" {
		t.Fatalf("empty role should mean any: %q %v", role, ok)
	}
}

package fiberloop

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func Test_Lookup_ReturnsSameVarForSameName(t *testing.T) {
	t.Parallel()

	v1 := Lookup("test.config.same_name", 1, "first lookup wins the default")
	v2 := Lookup("test.config.same_name", 2, "second lookup's default is ignored")

	if v1 != v2 {
		t.Fatal("Lookup with the same name returned distinct *Var instances")
	}
	if got := v1.Value(); got != 1 {
		t.Fatalf("Value() = %d, want 1 (the first-registered default)", got)
	}
}

func Test_Lookup_NameIsCaseInsensitive(t *testing.T) {
	t.Parallel()

	v1 := Lookup("Test.Config.Case", 1, "")
	v2 := Lookup("test.config.case", 2, "")
	if v1 != v2 {
		t.Fatal("Lookup is not case-insensitive on name")
	}
}

func Test_Lookup_DifferentTypeSameNamePanics(t *testing.T) {
	t.Parallel()

	Lookup("test.config.typed", 1, "")
	require.Panics(t, func() {
		Lookup("test.config.typed", "a string now", "")
	})
}

func Test_Var_SetValueNotifiesListeners(t *testing.T) {
	t.Parallel()

	v := Lookup("test.config.listeners", 10, "")
	var oldSeen, newSeen int
	id := v.AddListener(func(oldVal, newVal int) {
		oldSeen, newSeen = oldVal, newVal
	})
	defer v.RemoveListener(id)

	v.SetValue(20)
	if oldSeen != 10 || newSeen != 20 {
		t.Fatalf("listener saw (%d, %d), want (10, 20)", oldSeen, newSeen)
	}
}

func Test_Var_RemoveListenerStopsNotifications(t *testing.T) {
	t.Parallel()

	v := Lookup("test.config.remove_listener", 1, "")
	var calls int
	id := v.AddListener(func(int, int) { calls++ })
	v.RemoveListener(id)

	v.SetValue(2)
	if calls != 0 {
		t.Fatalf("calls = %d after RemoveListener, want 0", calls)
	}
}

func Test_LoadYAML_AppliesKnownKeysOnly(t *testing.T) {
	t.Parallel()

	v := Lookup("test.config.from_yaml", 1, "")
	doc := strings.NewReader("test.config.from_yaml: 42\ntest.config.unregistered_key: 99\n")

	require.NoError(t, LoadYAML(doc))
	if got := v.Value(); got != 42 {
		t.Fatalf("Value() after LoadYAML = %d, want 42", got)
	}
}

func Test_Var_NameAndDescription(t *testing.T) {
	t.Parallel()

	v := Lookup("test.config.named", 1, "a description")
	if v.Name() != "test.config.named" {
		t.Fatalf("Name() = %q, want %q", v.Name(), "test.config.named")
	}
	if v.Description() != "a description" {
		t.Fatalf("Description() = %q, want %q", v.Description(), "a description")
	}
}

package transport

import (
	"errors"
	"testing"
)

func TestCallbackTableCompleteFiresOnce(t *testing.T) {
	table := newCallbackTable()

	var completions []string
	var failures int
	table.register("req-1", Callbacks{
		OnComplete: func(messageID string) { completions = append(completions, messageID) },
		OnError:    func(err error) { failures++ },
	})

	table.completeAll("m1")
	// A stray terminal frame after completion must find an empty table.
	table.completeAll("m2")
	table.failAll(ErrConnectionLost)

	if len(completions) != 1 || completions[0] != "m1" {
		t.Fatalf("expected single completion m1, got %v", completions)
	}
	if failures != 0 {
		t.Fatalf("expected no failures after completion, got %d", failures)
	}
	if table.size() != 0 {
		t.Fatalf("expected empty table, got %d pending", table.size())
	}
}

func TestCallbackTableFailDeliversSentinel(t *testing.T) {
	table := newCallbackTable()

	var got error
	table.register("req-1", Callbacks{
		OnError: func(err error) { got = err },
	})

	table.failAll(ErrSessionChanged)

	if !errors.Is(got, ErrSessionChanged) {
		t.Fatalf("expected ErrSessionChanged, got %v", got)
	}
	if table.size() != 0 {
		t.Fatalf("expected empty table after failure, got %d pending", table.size())
	}
}

func TestCallbackTableTokensAreNotTerminal(t *testing.T) {
	table := newCallbackTable()

	var tokens []string
	table.register("req-1", Callbacks{
		OnToken: func(token string) { tokens = append(tokens, token) },
	})

	table.token("Hi")
	table.token(" there")

	if table.size() != 1 {
		t.Fatalf("tokens must not remove pending entries, got %d", table.size())
	}
	if len(tokens) != 2 || tokens[0] != "Hi" || tokens[1] != " there" {
		t.Fatalf("unexpected tokens %v", tokens)
	}
}

func TestCallbackTableUnregister(t *testing.T) {
	table := newCallbackTable()

	fired := false
	table.register("req-1", Callbacks{
		OnComplete: func(string) { fired = true },
	})
	table.unregister("req-1")
	table.completeAll("m1")

	if fired {
		t.Fatal("unregistered callback must not fire")
	}
}

func TestCallbackTableReentrantCallback(t *testing.T) {
	table := newCallbackTable()

	// A callback that registers a new send during its terminal delivery
	// must not have the new entry swept into the same drain.
	var newFired bool
	table.register("req-1", Callbacks{
		OnComplete: func(string) {
			table.register("req-2", Callbacks{
				OnComplete: func(string) { newFired = true },
			})
		},
	})

	table.completeAll("m1")

	if newFired {
		t.Fatal("entry registered during drain must not fire in the same drain")
	}
	if table.size() != 1 {
		t.Fatalf("expected the re-registered entry to remain pending, got %d", table.size())
	}
}

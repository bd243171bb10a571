package webrtc

import (
	"reflect"
	"testing"
)

func TestServersStaticOnly(t *testing.T) {
	static := []Server{{URLs: []string{"stun:stun.example.org:3478"}}}
	r := NewRegistry(static)

	got := r.Servers()
	if !reflect.DeepEqual(got, static) {
		t.Errorf("Servers() = %v, want %v", got, static)
	}
}

func TestServersProviderOrder(t *testing.T) {
	r := NewRegistry([]Server{{URLs: []string{"stun:a"}}})

	r.RegisterProvider(func() []Server {
		return []Server{{URLs: []string{"turn:b"}, Username: "u1", Credential: "c1"}}
	})
	r.RegisterProvider(func() []Server {
		return []Server{{URLs: []string{"turn:c"}}}
	})

	got := r.Servers()
	if len(got) != 3 {
		t.Fatalf("Servers() returned %d entries, want 3", len(got))
	}
	if got[0].URLs[0] != "stun:a" || got[1].URLs[0] != "turn:b" || got[2].URLs[0] != "turn:c" {
		t.Errorf("Servers() order = %v", got)
	}
	if got[1].Username != "u1" || got[1].Credential != "c1" {
		t.Errorf("credentials not carried through: %+v", got[1])
	}
}

func TestProvidersCalledPerRead(t *testing.T) {
	r := NewRegistry(nil)

	calls := 0
	r.RegisterProvider(func() []Server {
		calls++
		return nil
	})

	r.Servers()
	r.Servers()
	if calls != 2 {
		t.Errorf("provider calls = %d, want one per read", calls)
	}
}

func TestUnregisterProvider(t *testing.T) {
	r := NewRegistry(nil)

	unregister := r.RegisterProvider(func() []Server {
		return []Server{{URLs: []string{"turn:gone"}}}
	})
	keep := func() []Server { return []Server{{URLs: []string{"turn:kept"}}} }
	r.RegisterProvider(keep)

	unregister()
	unregister() // idempotent

	got := r.Servers()
	if len(got) != 1 || got[0].URLs[0] != "turn:kept" {
		t.Errorf("Servers() = %v, want only the kept provider", got)
	}
}

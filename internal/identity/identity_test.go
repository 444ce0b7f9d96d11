package identity

import "testing"

func TestValid(t *testing.T) {
	cases := map[string]bool{
		"13800001111":   true,
		"19912345678":   true,
		" 13800001111 ": true,
		"１３８００００１１１":    true, // full-width digits
		"12800001111":   false,
		"1380000111":    false,
		"138000011112":  false,
		"":              false,
		"abc":           false,
		"+8613800001111": false,
	}
	for in, want := range cases {
		if got := Valid(in); got != want {
			t.Errorf("Valid(%q) = %v; want %v", in, got, want)
		}
	}
}

func TestResolve_DeterministicAndNamespaced(t *testing.T) {
	a := Resolve("13800001111")
	b := Resolve(" 13800001111")
	if a != b {
		t.Fatalf("same phone must resolve to the same key: %v vs %v", a, b)
	}
	if a.Profile() != "users:13800001111" {
		t.Fatalf("profile key = %q", a.Profile())
	}
	if a.Transcript() != "chats:13800001111" {
		t.Fatalf("transcript key = %q", a.Transcript())
	}
	if a.String() != "user_13800001111" {
		t.Fatalf("user id = %q", a.String())
	}
	if a.Profile() == a.Transcript() {
		t.Fatalf("record types must not share a namespace")
	}
}

func TestResolve_NoCollisions(t *testing.T) {
	seen := map[string]string{}
	for _, p := range []string{"13800001111", "13800001112", "13900001111", "18800001111"} {
		k := Resolve(p).Profile()
		if prev, ok := seen[k]; ok {
			t.Fatalf("collision: %q and %q -> %q", prev, p, k)
		}
		seen[k] = p
	}
}

func TestSessionKey(t *testing.T) {
	if got := SessionKey("abc"); got != "session:abc" {
		t.Fatalf("SessionKey = %q", got)
	}
}

func TestMask(t *testing.T) {
	cases := map[string]string{
		"13800001111":  "138****1111",
		" 13912345678": "139****5678",
		"123":          "***",
		"":             "***",
	}
	for in, want := range cases {
		if got := Mask(in); got != want {
			t.Fatalf("Mask(%q) = %q; want %q", in, got, want)
		}
	}
}

package address

import "testing"

func TestMailboxDir(t *testing.T) {
	tests := []struct {
		addr       string
		wantUser   string
		wantDomain string
	}{
		{"Álice+test@domain.com", "alice", "domain.com"},
		{"Bob.Smith@Example.COM", "bobsmith", "example.com"},
		{"postmaster", "postmaster", ""},
		{"weird!name@sub.example.com", "weird_name", "sub.example.com"},
	}

	for _, tt := range tests {
		user, domain := MailboxDir(tt.addr)
		if user != tt.wantUser || domain != tt.wantDomain {
			t.Errorf("MailboxDir(%q) = (%q, %q), want (%q, %q)", tt.addr, user, domain, tt.wantUser, tt.wantDomain)
		}
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	for _, s := range []string{"Alice.Test+x", "Bob_Smith", "√Ålice"} {
		once := NormalizeMailbox(s)
		twice := NormalizeMailbox(once)
		if once != twice {
			t.Errorf("NormalizeMailbox not idempotent: %q -> %q -> %q", s, once, twice)
		}
	}
}

func TestSplit(t *testing.T) {
	mbox, domain, err := Split("alice@example.com")
	if err != nil || mbox != "alice" || domain != "example.com" {
		t.Fatalf("Split = (%q, %q, %v)", mbox, domain, err)
	}

	mbox, domain, err = Split("postmaster")
	if err != nil || mbox != "postmaster" || domain != "" {
		t.Fatalf("Split(postmaster) = (%q, %q, %v)", mbox, domain, err)
	}
}

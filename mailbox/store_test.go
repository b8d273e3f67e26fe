package mailbox

import (
	"bytes"
	"os"
	"testing"

	"github.com/ashpost/ashpost/auth"
)

func newTestAuth(addrs ...string) auth.Provider {
	p := auth.NewStatic()
	for _, a := range addrs {
		if err := p.AddUser(a, "x", 4); err != nil {
			panic(err)
		}
	}
	return p
}

func TestStoreMemoryDepositAndRetrieve(t *testing.T) {
	a := newTestAuth("alice@example.com", "bob@example.com")
	s := New(a, NewMemory())

	stored := s.Store("alice@example.com", []string{"bob@example.com", "ghost@example.com"}, []byte("hello\n"))
	if len(stored) != 1 || stored[0] != "bob@example.com" {
		t.Fatalf("Store = %v", stored)
	}

	uids := s.ListMessagesUIDs("bob@example.com")
	if len(uids) != 1 || uids[0] != "0" {
		t.Fatalf("ListMessagesUIDs = %v", uids)
	}
	if s.CountMessagesUIDs("bob@example.com") != 1 {
		t.Errorf("CountMessagesUIDs mismatch")
	}

	body, ok := s.GetMessage("bob@example.com", "0")
	if !ok {
		t.Fatal("expected message present")
	}
	want := "From: alice@example.com\nTo: bob@example.com, ghost@example.com\nhello\n"
	if string(body) != want {
		t.Errorf("GetMessage = %q, want %q", body, want)
	}

	if uids := s.ListMessagesUIDs("nobody@example.com"); len(uids) != 0 {
		t.Errorf("expected empty list for unknown mailbox, got %v", uids)
	}
}

func TestStoreSkipsUnknownRecipients(t *testing.T) {
	a := newTestAuth("alice@example.com")
	s := New(a, NewMemory())

	stored := s.Store("alice@example.com", []string{"ghost@example.com"}, []byte("x"))
	if len(stored) != 0 {
		t.Errorf("expected no stored recipients, got %v", stored)
	}
}

func TestStoreAppendOrder(t *testing.T) {
	a := newTestAuth("bob@example.com")
	s := New(a, NewMemory())

	for i := 0; i < 3; i++ {
		s.Store("alice@example.com", []string{"bob@example.com"}, []byte{byte('a' + i)})
	}

	uids := s.ListMessagesUIDs("bob@example.com")
	if len(uids) != 3 {
		t.Fatalf("expected 3 uids, got %v", uids)
	}
	for i, uid := range uids {
		body, ok := s.GetMessage("bob@example.com", uid)
		if !ok {
			t.Fatalf("missing uid %s", uid)
		}
		if !bytes.Contains(body, []byte{byte('a' + i)}) {
			t.Errorf("uid %s out of order: %q", uid, body)
		}
	}
}

func TestFilesystemBackend(t *testing.T) {
	root := t.TempDir()
	a := newTestAuth("Bob.Smith+tag@Example.COM")
	s := New(a, NewFilesystem(root))

	stored := s.Store("alice@example.com", []string{"Bob.Smith+tag@Example.COM"}, []byte("body"))
	if len(stored) != 1 {
		t.Fatalf("Store = %v", stored)
	}

	dir := root + "/example.com/bobsmith"
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("expected mailbox dir %s: %v", dir, err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 file, got %d", len(entries))
	}

	uids := s.ListMessagesUIDs("Bob.Smith+tag@Example.COM")
	if len(uids) != 1 {
		t.Fatalf("ListMessagesUIDs = %v", uids)
	}
	if s.CountMessagesUIDs("Bob.Smith+tag@Example.COM") != 1 {
		t.Errorf("count mismatch")
	}

	body, ok := s.GetMessage("Bob.Smith+tag@Example.COM", uids[0])
	if !ok || !bytes.Contains(body, []byte("body")) {
		t.Errorf("GetMessage = %q ok=%v", body, ok)
	}
}

func TestFilesystemUnparsableStemSortsFirst(t *testing.T) {
	root := t.TempDir()
	fs := NewFilesystem(root)

	dir := root + "/alice"
	if err := os.MkdirAll(dir, 0o700); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(dir+"/garbage.eml", []byte("1"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(dir+"/42.eml", []byte("2"), 0o600); err != nil {
		t.Fatal(err)
	}

	uids := fs.ListUIDs("alice")
	if len(uids) != 2 || uids[0] != "garbage" || uids[1] != "42" {
		t.Errorf("ListUIDs = %v", uids)
	}
}

package node

import "testing"

func TestIdentityPersistsAcrossLoads(t *testing.T) {
	dir := t.TempDir()
	first, err := LoadOrCreateIdentity(dir)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	second, err := LoadOrCreateIdentity(dir)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("identity changed across loads: %s vs %s", first.ID, second.ID)
	}
	msg := []byte("signed by the node identity")
	sig, err := second.Sign(msg)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if len(sig) == 0 {
		t.Fatalf("empty signature")
	}
}

func TestDistinctDirsDistinctIdentities(t *testing.T) {
	a, err := LoadOrCreateIdentity(t.TempDir())
	if err != nil {
		t.Fatalf("a: %v", err)
	}
	b, err := LoadOrCreateIdentity(t.TempDir())
	if err != nil {
		t.Fatalf("b: %v", err)
	}
	if a.ID == b.ID {
		t.Fatalf("two fresh identities collided")
	}
}

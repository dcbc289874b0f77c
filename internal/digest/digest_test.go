package digest

import "testing"

func TestByName(t *testing.T) {
	cases := map[string]string{"": "md5", "md5": "md5", "blake3": "blake3"}
	for name, wantName := range cases {
		alg, err := ByName(name)
		if err != nil {
			t.Fatalf("ByName(%q): %v", name, err)
		}
		if alg.Name() != wantName {
			t.Fatalf("ByName(%q).Name() = %q, want %q", name, alg.Name(), wantName)
		}
	}

	if _, err := ByName("sha256"); err == nil {
		t.Fatal("expected an error for an unsupported algorithm")
	}
}

func TestMD5_KnownVector(t *testing.T) {
	if got := (MD5{}).Sum([]byte("")); got != "d41d8cd98f00b204e9800998ecf8427e" {
		t.Fatalf("unexpected MD5 of empty input: %s", got)
	}
}

func TestFileHash_OrderSensitive(t *testing.T) {
	alg := MD5{}
	a := FileHash(alg, []string{"h0", "h1"})
	b := FileHash(alg, []string{"h1", "h0"})
	if a == b {
		t.Fatal("expected file hash to depend on chunk order")
	}
}

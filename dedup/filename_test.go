package dedup

import "testing"

func TestChunkNameRoundTrip(t *testing.T) {
	cases := []chunkName{
		{Rem28: "0123456789abcdef0123456789ab", Length: 4096, Collision: 0, Link: 0},
		{Rem28: "0123456789abcdef0123456789ab", Length: 4096, Collision: 1, Link: 7, Gzip: true},
		{Rem28: "0123456789abcdef0123456789ab", Length: 0, Collision: 0, Link: 0, Corrupt: true},
	}
	for _, cn := range cases {
		name := cn.String()
		got, err := parseChunkName(name)
		if err != nil {
			t.Fatalf("parseChunkName(%q): %s", name, err)
		}
		if got != cn {
			t.Errorf("round trip of %+v produced %+v (via %q)", cn, got, name)
		}
	}
}

func TestParseChunkNameRejectsMalformed(t *testing.T) {
	bad := []string{
		"",
		"not-hex-at-all",
		"0123456789abcdef0123456789ab-1000",          // missing collision/link
		"0123456789abcdef0123456789ab-1000-0-0-extra", // trailing garbage
		"0123456789abcdef0123456789aG-1000-0-0",       // non-hex rem28
	}
	for _, name := range bad {
		if _, err := parseChunkName(name); err == nil {
			t.Errorf("parseChunkName(%q): expected error, got none", name)
		}
	}
}

func TestGroupPrefixMatchesOwnName(t *testing.T) {
	cn := chunkName{Rem28: "0123456789abcdef0123456789ab", Length: 65536, Collision: 2, Link: 3}
	name := cn.String()
	prefix := groupPrefix(cn.Rem28, cn.Length)
	if len(name) < len(prefix) || name[:len(prefix)] != prefix {
		t.Errorf("groupPrefix(%q, %d) = %q, not a prefix of %q", cn.Rem28, cn.Length, prefix, name)
	}
}

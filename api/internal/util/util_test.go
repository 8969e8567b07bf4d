package util

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSplitDataURL(t *testing.T) {
	mime, payload, ok := SplitDataURL("data:image/png;base64,AAA,BBB")
	if !ok || mime != "image/png" || payload != "AAA,BBB" {
		t.Fatalf("got %q %q %v", mime, payload, ok)
	}
	if _, _, ok := SplitDataURL("data:image/png;base64"); ok {
		t.Fatal("missing comma must fail")
	}
	if !IsDataURL("data:,x") || IsDataURL("https://x") {
		t.Fatal("IsDataURL")
	}
}

func TestDecodeBase64Variants(t *testing.T) {
	raw := []byte{0xfb, 0xff, 0xfe, 0x01}
	for _, s := range []string{
		base64.StdEncoding.EncodeToString(raw),
		base64.RawStdEncoding.EncodeToString(raw),
		base64.URLEncoding.EncodeToString(raw),
		base64.RawURLEncoding.EncodeToString(raw),
		" " + base64.StdEncoding.EncodeToString(raw) + "\n",
	} {
		got, err := DecodeBase64(s)
		if err != nil {
			t.Fatalf("DecodeBase64(%q): %v", s, err)
		}
		if string(got) != string(raw) {
			t.Fatalf("DecodeBase64(%q) = %x", s, got)
		}
	}
	if _, err := DecodeBase64("not*base64"); err == nil {
		t.Fatal("expected error")
	}
}

func TestEncodeDataURLSniffs(t *testing.T) {
	jpg := []byte{0xFF, 0xD8, 0xFF, 0xE0}
	if got := EncodeDataURL(jpg); !strings.HasPrefix(got, "data:image/jpeg;base64,") {
		t.Fatalf("got %q", got)
	}
	png := []byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A}
	if got := EncodeDataURL(png); !strings.HasPrefix(got, "data:image/png;base64,") {
		t.Fatalf("got %q", got)
	}
}

func TestTruncate(t *testing.T) {
	if got := Truncate("hello", 10); got != "hello" {
		t.Fatalf("got %q", got)
	}
	if got := Truncate("hello", 3); got != "hel..." {
		t.Fatalf("got %q", got)
	}
	// "привет": 2 bytes per rune, cut must not split one
	if got := Truncate("привет", 3); got != "п..." {
		t.Fatalf("got %q", got)
	}
}

func TestFirstNonEmpty(t *testing.T) {
	if got := FirstNonEmpty("", "  ", "b", "c"); got != "b" {
		t.Fatalf("got %q", got)
	}
}

func TestLoadPrompt(t *testing.T) {
	t.Setenv("PROMPT_DIR", "")
	p, err := LoadPrompt("Table")
	if err != nil || p != "Table Recognition:" {
		t.Fatalf("got %q, %v", p, err)
	}
	if _, err := LoadPrompt("poem"); err == nil {
		t.Fatal("expected error for unknown preset")
	}

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "text.txt"), []byte("OCR this:\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PROMPT_DIR", dir)
	if p, _ := LoadPrompt("text"); p != "OCR this:" {
		t.Fatalf("override = %q", p)
	}
	if p, _ := LoadPrompt("formula"); p != "Formula Recognition:" {
		t.Fatalf("builtin = %q", p)
	}
}

func TestPromptNamesSorted(t *testing.T) {
	if got := strings.Join(PromptNames(), ","); got != "formula,table,text" {
		t.Fatalf("got %q", got)
	}
}

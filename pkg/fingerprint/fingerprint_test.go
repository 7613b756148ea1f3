package fingerprint

import (
	"bytes"
	"errors"
	"testing"
)

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("disk gone") }

func TestHashDeterministic(t *testing.T) {
	img := []byte{0x89, 'P', 'N', 'G', 1, 2, 3}

	h1, err := Hash(bytes.NewReader(img))
	if err != nil {
		t.Fatal(err)
	}
	h2 := HashBytes(append([]byte(nil), img...))

	if h1 != h2 {
		t.Errorf("same bytes should produce same digest: %s != %s", h1, h2)
	}
	if len(h1) != 64 {
		t.Errorf("expected 64 hex chars, got %d", len(h1))
	}
	if HashBytes([]byte("other")) == h1 {
		t.Error("different bytes should produce different digest")
	}
}

func TestHashEmptyInput(t *testing.T) {
	const emptySHA = "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"
	if got := HashString(""); got != emptySHA {
		t.Errorf("unexpected digest of empty input: %s", got)
	}
}

func TestHashPropagatesReadError(t *testing.T) {
	if _, err := Hash(failingReader{}); err == nil {
		t.Error("expected read error")
	}
}

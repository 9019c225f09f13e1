package service

import (
	"strings"
	"testing"
)

func TestArtifactName(t *testing.T) {
	name := ArtifactName("film", "A Robot Finds a Flower: The Director's Cut!!", "mp4")
	if !strings.HasPrefix(name, "film_A_Robot_Finds_a_Flower_") {
		t.Fatalf("name = %q", name)
	}
	if !strings.HasSuffix(name, ".mp4") {
		t.Fatalf("name = %q", name)
	}
	// 源文本截断到 30 字符后再清洗
	parts := strings.SplitN(strings.TrimPrefix(name, "film_"), "_1", 2)
	if len(parts[0]) > 30 {
		t.Fatalf("sanitized segment too long: %q", parts[0])
	}
}

func TestArtifactNameEmptySource(t *testing.T) {
	name := ArtifactName("img", "!!!", "png")
	if !strings.HasPrefix(name, "img_untitled_") {
		t.Fatalf("name = %q", name)
	}
}

func TestContentTypeByExt(t *testing.T) {
	cases := map[string]string{
		"a.mp4":  "video/mp4",
		"b.png":  "image/png",
		"c.jpg":  "image/jpeg",
		"d.webm": "video/webm",
		"e.bin":  "application/octet-stream",
	}
	for name, want := range cases {
		if got := contentTypeByExt(name); got != want {
			t.Errorf("contentTypeByExt(%s) = %s, want %s", name, got, want)
		}
	}
}

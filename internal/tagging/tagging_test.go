package tagging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/bogem/id3v2"
)

func TestTagMP3WritesTitleAndArtist(t *testing.T) {
	path := filepath.Join(t.TempDir(), "song.mp3")
	if err := os.WriteFile(path, []byte("\xff\xfbfake-mpeg-frames"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	tagger := New(true)
	if err := tagger.TagMP3(path, Tags{Title: "Uprising", Artist: "Muse", SourceURL: "https://youtu.be/x"}); err != nil {
		t.Fatalf("tag: %v", err)
	}

	tag, err := id3v2.Open(path, id3v2.Options{Parse: true})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer tag.Close()
	if tag.Title() != "Uprising" || tag.Artist() != "Muse" {
		t.Fatalf("unexpected tags title=%q artist=%q", tag.Title(), tag.Artist())
	}
}

func TestDisabledTaggerLeavesFileUntouched(t *testing.T) {
	path := filepath.Join(t.TempDir(), "song.mp3")
	payload := []byte("\xff\xfbraw")
	if err := os.WriteFile(path, payload, 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	if err := New(false).TagMP3(path, Tags{Title: "x"}); err != nil {
		t.Fatalf("disabled tagger should not fail: %v", err)
	}
	got, _ := os.ReadFile(path)
	if string(got) != string(payload) {
		t.Fatalf("file should be untouched")
	}
}

func TestTagMP3MissingFile(t *testing.T) {
	if err := New(true).TagMP3(filepath.Join(t.TempDir(), "nope.mp3"), Tags{Title: "x"}); err == nil {
		t.Fatalf("missing file should fail")
	}
}

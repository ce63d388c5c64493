package backend

import (
	"testing"

	"github.com/mediavault/mediavault/internal/media"
)

func replaceRegistry(t *testing.T) func() {
	t.Helper()
	prev := globalRegistry
	globalRegistry = newRegistry()
	return func() { globalRegistry = prev }
}

func noopFactory(opts Options) (Backend, error) {
	return &fakeBackend{name: opts.Name}, nil
}

func TestRegisterResolveAndList(t *testing.T) {
	cleanup := replaceRegistry(t)
	defer cleanup()

	if err := Register(Metadata{Key: "youtube", Kinds: []media.Kind{media.KindAudio}, Factory: noopFactory}); err != nil {
		t.Fatalf("register youtube failed: %v", err)
	}
	if err := Register(Metadata{Key: "Direct", Kinds: []media.Kind{media.KindAudio, media.KindVideo}, Factory: noopFactory}); err != nil {
		t.Fatalf("register direct failed: %v", err)
	}

	if _, ok := Resolve("YOUTUBE"); !ok {
		t.Fatalf("resolve should be case-insensitive")
	}
	meta, ok := Resolve("direct")
	if !ok || !meta.Supports(media.KindVideo) {
		t.Fatalf("direct should resolve and support video: %+v", meta)
	}

	keys := Keys()
	if len(keys) != 2 || keys[0] != "direct" || keys[1] != "youtube" {
		t.Fatalf("unexpected order: %v", keys)
	}
}

func TestRegisterRejectsInvalidMetadata(t *testing.T) {
	cleanup := replaceRegistry(t)
	defer cleanup()

	if err := Register(Metadata{Key: "x", Kinds: []media.Kind{media.KindAudio}}); err == nil {
		t.Fatalf("missing factory should fail")
	}
	if err := Register(Metadata{Key: "x", Factory: noopFactory}); err == nil {
		t.Fatalf("missing kinds should fail")
	}
	if err := Register(Metadata{Key: "x", Kinds: []media.Kind{media.KindAudio}, Factory: noopFactory}); err != nil {
		t.Fatalf("first registration should succeed: %v", err)
	}
	if err := Register(Metadata{Key: "x", Kinds: []media.Kind{media.KindAudio}, Factory: noopFactory}); err == nil {
		t.Fatalf("duplicate registration should fail")
	}
}

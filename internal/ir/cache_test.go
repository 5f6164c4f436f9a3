package ir

import (
	"os"
	"testing"
)

func TestCacheLoadIsIdempotentPerPath(t *testing.T) {
	path := t.TempDir() + "/mqtt.xml"
	if err := os.WriteFile(path, []byte(sampleMQTT), 0o644); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}

	c := NewCache()
	first, err := c.Load(path)
	if err != nil {
		t.Fatalf("first Load: %v", err)
	}
	second, err := c.Load(path)
	if err != nil {
		t.Fatalf("second Load: %v", err)
	}

	if first != second {
		t.Error("expected the second Load for the same path to return the cached *IR, not re-parse")
	}
	if len(first.Messages) != len(second.Messages) {
		t.Error("cached IR descriptors should be equivalent")
	}
}

func TestCacheLoadDistinguishesPaths(t *testing.T) {
	pathA := t.TempDir() + "/a.xml"
	pathB := t.TempDir() + "/b.xml"
	if err := os.WriteFile(pathA, []byte(sampleMQTT), 0o644); err != nil {
		t.Fatalf("writing fixture a: %v", err)
	}
	if err := os.WriteFile(pathB, []byte(sampleMQTT), 0o644); err != nil {
		t.Fatalf("writing fixture b: %v", err)
	}

	c := NewCache()
	a, err := c.Load(pathA)
	if err != nil {
		t.Fatalf("Load(a): %v", err)
	}
	b, err := c.Load(pathB)
	if err != nil {
		t.Fatalf("Load(b): %v", err)
	}
	if a == b {
		t.Error("distinct source paths must not share a cached IR instance")
	}
}

package factory

import (
	"testing"

	"github.com/mirrorlake/warden/internal/history/opensearch"
	"github.com/mirrorlake/warden/internal/history/sqlite"
)

func TestNewSinkFromDSNSQLite(t *testing.T) {
	for _, dsn := range []string{":memory:", "sqlite://:memory:"} {
		s, err := NewSinkFromDSN(dsn)
		if err != nil {
			t.Fatalf("dsn %q: %v", dsn, err)
		}
		if _, ok := s.(*sqlite.Sink); !ok {
			t.Fatalf("dsn %q: sink type %T", dsn, s)
		}
		_ = s.Close()
	}
}

func TestNewSinkFromDSNOpenSearch(t *testing.T) {
	s, err := NewSinkFromDSN("opensearch://localhost:9200/my-index")
	if err != nil {
		t.Fatalf("err = %v", err)
	}
	if _, ok := s.(*opensearch.Sink); !ok {
		t.Fatalf("sink type %T", s)
	}
}

func TestNewSinkFromDSNRejectsUnknown(t *testing.T) {
	if _, err := NewSinkFromDSN("redis://localhost:6379"); err == nil {
		t.Fatal("expected error for unsupported scheme")
	}
	if _, err := NewSinkFromDSN(""); err == nil {
		t.Fatal("expected error for empty DSN")
	}
}

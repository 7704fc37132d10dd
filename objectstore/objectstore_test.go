package objectstore

import (
	"context"
	"errors"
	"testing"
)

func TestConfigValidate(t *testing.T) {
	valid := Config{
		Endpoint:  "localhost:9000",
		AccessKey: "a",
		SecretKey: "b",
		Region:    "us-east-1",
		Bucket:    "exports",
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("Validate() err=%v", err)
	}

	invalid := valid
	invalid.Endpoint = "http://localhost:9000"
	if err := invalid.Validate(); err == nil {
		t.Fatalf("Validate() expected error for scheme in endpoint")
	}

	invalid = valid
	invalid.Bucket = ""
	if err := invalid.Validate(); err == nil {
		t.Fatalf("Validate() expected error for missing bucket")
	}
}

func TestMemory_PutGet(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	info, err := m.Put(ctx, "org/doc/export.csv", "text/csv", []byte("a,b"))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if info.Size != 3 || info.ContentType != "text/csv" {
		t.Fatalf("info = %+v", info)
	}

	data, got, err := m.Get(ctx, "org/doc/export.csv")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(data) != "a,b" || got.Key != "org/doc/export.csv" {
		t.Fatalf("Get = %q, %+v", data, got)
	}

	if _, _, err := m.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get missing err = %v", err)
	}
	if keys := m.Keys("org/"); len(keys) != 1 {
		t.Fatalf("Keys = %v", keys)
	}
}

package gcsuploader

import "testing"

func TestParseURI(t *testing.T) {
	tests := []struct {
		uri        string
		bucket     string
		object     string
		shouldFail bool
	}{
		{uri: "gs://statements/2024/march.pdf", bucket: "statements", object: "2024/march.pdf"},
		{uri: "gs://b/o.pdf", bucket: "b", object: "o.pdf"},
		{uri: "https://example.com/o.pdf", shouldFail: true},
		{uri: "gs://bucket-only", shouldFail: true},
		{uri: "gs://bucket/", shouldFail: true},
	}

	for _, tt := range tests {
		bucket, object, err := ParseURI(tt.uri)
		if tt.shouldFail {
			if err == nil {
				t.Errorf("ParseURI(%q) expected error", tt.uri)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseURI(%q) unexpected error: %v", tt.uri, err)
			continue
		}
		if bucket != tt.bucket || object != tt.object {
			t.Errorf("ParseURI(%q) = %q, %q; want %q, %q", tt.uri, bucket, object, tt.bucket, tt.object)
		}
	}
}

func TestFilenameFromURI(t *testing.T) {
	tests := map[string]string{
		"gs://bucket/folder/file.pdf": "file.pdf",
		"gs://bucket/file.pdf":        "file.pdf",
		"gs://bucket":                 "bucket",
	}
	for in, want := range tests {
		if got := FilenameFromURI(in); got != want {
			t.Errorf("FilenameFromURI(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestObjectName(t *testing.T) {
	a := &Archive{bucket: "b", prefix: "uploads"}
	if got := a.objectName("alice", "doc1", "../../etc/march.pdf"); got != "uploads/alice/doc1/march.pdf" {
		t.Errorf("objectName() = %q", got)
	}

	bare := &Archive{bucket: "b"}
	if got := bare.objectName("alice", "doc1", "march.pdf"); got != "alice/doc1/march.pdf" {
		t.Errorf("objectName() = %q", got)
	}
}

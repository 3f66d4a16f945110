package main

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"

	"filippo.io/age"

	"reader/internal/access/adapter/blobstore"
	"reader/internal/access/adapter/keyserver"
)

func TestParseRecipients(t *testing.T) {
	id, err := age.GenerateX25519Identity()
	if err != nil {
		t.Fatal(err)
	}

	got, err := parseRecipients([]string{"keys-a=" + id.Recipient().String()})
	if err != nil {
		t.Fatalf("parseRecipients: %v", err)
	}
	if len(got) != 1 || got[0].Server != "keys-a" {
		t.Errorf("unexpected recipients %+v", got)
	}

	for _, bad := range [][]string{nil, {"keys-a"}, {"=age1x"}, {"keys-a=not-a-key"}} {
		if _, err := parseRecipients(bad); err == nil {
			t.Errorf("%v: expected an error", bad)
		}
	}
}

func TestKeygenPrintsUsableIdentity(t *testing.T) {
	var out bytes.Buffer
	if err := run([]string{"--keygen"}, nil, &out); err != nil {
		t.Fatalf("run: %v", err)
	}
	line, _, _ := strings.Cut(out.String(), "\n")
	secret := strings.TrimPrefix(line, "KEYSERVER_IDENTITY=")
	if _, err := age.ParseX25519Identity(secret); err != nil {
		t.Errorf("keygen output is not an age identity: %v", err)
	}
}

func TestRunSealsAndUploads(t *testing.T) {
	store, err := blobstore.OpenLocal("")
	if err != nil {
		t.Fatalf("OpenLocal: %v", err)
	}
	defer store.Close()
	srv := httptest.NewServer(blobstore.NewHandler(store, blobstore.DefaultMaxBytes))
	defer srv.Close()

	a, _ := age.GenerateX25519Identity()
	b, _ := age.GenerateX25519Identity()

	var out bytes.Buffer
	err = run([]string{
		"--slug", "hello-world",
		"--owner", "pub-1",
		"--threshold", "2",
		"-r", "keys-a=" + a.Recipient().String(),
		"-r", "keys-b=" + b.Recipient().String(),
		"--blobstore", srv.URL,
		"--database", "",
	}, strings.NewReader("Hello, sealed world"), &out)
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	var desc struct {
		ContentID string `json:"content_id"`
		Encrypted bool   `json:"encrypted"`
		BlobRef   string `json:"blob_ref"`
	}
	if err := json.Unmarshal(out.Bytes(), &desc); err != nil {
		t.Fatalf("decoding descriptor: %v\n%s", err, out.String())
	}
	if desc.ContentID != "hello-world" || !desc.Encrypted {
		t.Errorf("unexpected descriptor %+v", desc)
	}

	blob, err := store.Fetch(t.Context(), desc.BlobRef)
	if err != nil {
		t.Fatalf("fetching uploaded blob: %v", err)
	}
	env, err := keyserver.DecodeEnvelope(blob)
	if err != nil {
		t.Fatalf("uploaded blob is not an envelope: %v", err)
	}
	if env.ContentID != "hello-world" || env.Threshold != 2 || len(env.Shares) != 2 {
		t.Errorf("unexpected envelope %+v", env)
	}
}

func TestRunRequiresOwnerForEncrypted(t *testing.T) {
	err := run([]string{"--slug", "x"}, strings.NewReader("body"), &bytes.Buffer{})
	if err == nil || !strings.Contains(err.Error(), "--owner") {
		t.Errorf("expected --owner error, got %v", err)
	}
}

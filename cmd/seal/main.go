// Command seal encrypts an article for the threshold key servers, uploads
// the envelope to the blob store, and publishes its descriptor.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"filippo.io/age"
	"github.com/spf13/pflag"

	"reader/internal/access/adapter/blobstore"
	"reader/internal/access/adapter/keyserver"
	"reader/internal/access/adapter/postgres"
	"reader/internal/domain"
)

type options struct {
	slug       string
	contentID  string
	ownerID    string
	input      string
	threshold  int
	recipients []string
	free       bool
	blobURL    string
	dsn        string
	keygen     bool
}

func main() {
	if err := run(os.Args[1:], os.Stdin, os.Stdout); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, stdin io.Reader, stdout io.Writer) error {
	var opts options
	flagSet := pflag.NewFlagSet("seal", pflag.ContinueOnError)
	flagSet.StringVar(&opts.slug, "slug", "", "article slug to publish under")
	flagSet.StringVar(&opts.contentID, "content-id", "", "content ID bound into the envelope (default: the slug)")
	flagSet.StringVar(&opts.ownerID, "owner", "", "owner (publication) ID")
	flagSet.StringVarP(&opts.input, "in", "i", "-", "plaintext file, - for stdin")
	flagSet.IntVarP(&opts.threshold, "threshold", "t", 2, "key server shares needed to decrypt")
	flagSet.StringArrayVarP(&opts.recipients, "recipient", "r", nil, "key server as name=age1... (repeatable)")
	flagSet.BoolVar(&opts.free, "free", false, "publish as free content without encryption")
	flagSet.StringVar(&opts.blobURL, "blobstore", envOr("BLOBSTORE_URL", "http://localhost:8090"), "blob store base URL")
	flagSet.StringVar(&opts.dsn, "database", os.Getenv("DATABASE_URL"), "Postgres DSN; when empty the descriptor is printed instead")
	flagSet.BoolVar(&opts.keygen, "keygen", false, "generate a key server identity and exit")

	if err := flagSet.Parse(args); err != nil {
		return err
	}
	if opts.keygen {
		return keygen(stdout)
	}
	if opts.slug == "" {
		return errors.New("--slug is required")
	}
	if opts.contentID == "" {
		opts.contentID = opts.slug
	}
	if !opts.free && opts.ownerID == "" {
		return errors.New("--owner is required for encrypted content")
	}

	plaintext, err := readInput(opts.input, stdin)
	if err != nil {
		return err
	}

	payload := plaintext
	if !opts.free {
		recipients, err := parseRecipients(opts.recipients)
		if err != nil {
			return err
		}
		payload, err = keyserver.Seal(opts.contentID, plaintext, opts.threshold, recipients)
		if err != nil {
			return fmt.Errorf("sealing: %w", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	ref, err := blobstore.NewClient(opts.blobURL, 20*time.Second, blobstore.DefaultMaxBytes).Put(ctx, payload)
	if err != nil {
		return fmt.Errorf("uploading: %w", err)
	}

	desc := domain.ContentDescriptor{
		ContentID:   opts.contentID,
		OwnerID:     opts.ownerID,
		IsEncrypted: !opts.free,
		BlobRef:     ref,
	}
	if opts.dsn == "" {
		return printDescriptor(stdout, opts.slug, desc)
	}

	db, err := postgres.New(ctx, opts.dsn)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := postgres.NewMetadata(db).Publish(ctx, opts.slug, desc); err != nil {
		return fmt.Errorf("publishing %s: %w", opts.slug, err)
	}
	fmt.Fprintf(stdout, "published %s (content %s, blob %s)\n", opts.slug, desc.ContentID, ref)
	return nil
}

// parseRecipients reads name=recipient pairs.
func parseRecipients(values []string) ([]keyserver.Recipient, error) {
	if len(values) == 0 {
		return nil, errors.New("at least one --recipient is required for encrypted content")
	}
	out := make([]keyserver.Recipient, 0, len(values))
	for _, v := range values {
		name, key, ok := strings.Cut(v, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("recipient %q: want name=age1...", v)
		}
		r, err := age.ParseX25519Recipient(strings.TrimSpace(key))
		if err != nil {
			return nil, fmt.Errorf("recipient %q: %w", name, err)
		}
		out = append(out, keyserver.Recipient{Server: name, Recipient: r})
	}
	return out, nil
}

func readInput(path string, stdin io.Reader) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(stdin)
	}
	return os.ReadFile(path)
}

func keygen(w io.Writer) error {
	id, err := age.GenerateX25519Identity()
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "KEYSERVER_IDENTITY=%s\nrecipient: %s\n", id.String(), id.Recipient().String())
	return nil
}

func printDescriptor(w io.Writer, slug string, d domain.ContentDescriptor) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(map[string]any{
		"slug":       slug,
		"content_id": d.ContentID,
		"owner_id":   d.OwnerID,
		"encrypted":  d.IsEncrypted,
		"blob_ref":   d.BlobRef,
	})
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

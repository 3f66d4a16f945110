package keyserver

import "filippo.io/age"

// OpenShare exposes share decryption to tests.
func OpenShare(id age.Identity, sealed []byte) (contentID string, x byte, y []byte, err error) {
	p, err := openShare(id, sealed)
	return p.ContentID, p.X, p.Y, err
}

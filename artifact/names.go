package artifact

import (
	"crypto/md5"
	"encoding/base64"
	"errors"
	"io/fs"
	"os"
	"strings"

	"github.com/google/uuid"
)

const maxNameLen = 150

var nameReplacer = strings.NewReplacer(
	" ", "_",
	`"`, "",
	`\`, "-",
	"/", "-",
)

// SafeName turns s into a file-name fragment: spaces become underscores,
// slashes become dashes, double quotes are dropped, and the result is cut
// to 150 bytes on a rune boundary.
func SafeName(s string) string {
	s = nameReplacer.Replace(s)
	if len(s) <= maxNameLen {
		return s
	}
	cut := maxNameLen
	for cut > 0 && s[cut]&0xC0 == 0x80 {
		cut--
	}
	return s[:cut]
}

// URLDigest is the base64url MD5 of s, used to name per-URL outputs.
func URLDigest(s string) string {
	sum := md5.Sum([]byte(s))
	return base64.URLEncoding.EncodeToString(sum[:])
}

// NewID returns a random v4 UUID in base64url form.
func NewID() string {
	id := uuid.New()
	return base64.URLEncoding.EncodeToString(id[:])
}

// RemoveIfExists deletes path, treating a missing file as success.
func RemoveIfExists(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

package github

import (
	"strings"

	"github.com/google/go-github/v68/github"
)

// VerifySignature checks an X-Hub-Signature-256 header against body. Only
// sha256 signatures are accepted and the comparison is constant time.
func VerifySignature(body []byte, header, secret string) bool {
	if secret == "" || !strings.HasPrefix(header, "sha256=") {
		return false
	}
	return github.ValidateSignature(header, body, []byte(secret)) == nil
}

package github

import (
	"fmt"
	"net/http"
	"strings"
)

// GitHub answers 406 or 500 for diffs it considers too large; 415 and 422
// show up behind some proxies and Enterprise versions.
var diffFallbackStatuses = map[int]bool{
	http.StatusNotAcceptable:        true,
	http.StatusUnsupportedMediaType: true,
	http.StatusUnprocessableEntity:  true,
	http.StatusInternalServerError:  true,
}

// needsDiffFallback decides whether a GetRaw result should be replaced by a
// diff rebuilt from file patches, and with which status to annotate it.
func needsDiffFallback(diff string, err error) (int, bool) {
	if err != nil {
		code := statusCode(err)
		return code, diffFallbackStatuses[code]
	}
	if strings.HasPrefix(strings.TrimSpace(diff), "{") {
		return http.StatusOK, true
	}
	return 0, false
}

func fallbackNote(status int) string {
	return fmt.Sprintf("# NOTE: unified diff unavailable (HTTP %d); reconstructed from per-file patches.\n\n", status)
}

const omittedPatch = "@@ patch omitted by GitHub (binary or too large) @@"

// SynthesizeDiff renders a unified diff from per-file patches, keeping the
// order GitHub listed the files in.
func SynthesizeDiff(files []ChangedFile) string {
	var sb strings.Builder
	for i, f := range files {
		if i > 0 {
			sb.WriteString("\n")
		}
		writeFileDiff(&sb, f)
	}
	return sb.String()
}

func writeFileDiff(sb *strings.Builder, f ChangedFile) {
	oldName := f.Filename
	if f.PreviousFilename != "" {
		oldName = f.PreviousFilename
	}
	fmt.Fprintf(sb, "diff --git a/%s b/%s\n", oldName, f.Filename)

	oldSide, newSide := "a/"+oldName, "b/"+f.Filename
	switch f.Status {
	case "renamed":
		fmt.Fprintf(sb, "rename from %s\nrename to %s\n", oldName, f.Filename)
	case "added":
		sb.WriteString("new file mode 100644\n")
		oldSide = "/dev/null"
	case "removed":
		sb.WriteString("deleted file mode 100644\n")
		newSide = "/dev/null"
	}

	pureRename := f.Status == "renamed" && f.Additions == 0 && f.Deletions == 0
	if f.Patch == "" && pureRename {
		return
	}

	fmt.Fprintf(sb, "--- %s\n+++ %s\n", oldSide, newSide)
	if f.Patch == "" {
		sb.WriteString(omittedPatch + "\n")
		return
	}
	sb.WriteString(f.Patch)
	if !strings.HasSuffix(f.Patch, "\n") {
		sb.WriteString("\n")
	}
}

package capture

import (
	"fmt"
	"strings"
	"unicode"
)

// invalidFilenameChars are rejected in labels and correlation ids. The
// underscore is reserved as the filename component separator.
const invalidFilenameChars = `<>:"/\|?*_`

const maxFragmentLength = 100

// ValidateFilenameFragment checks that name is legal as part of a generated
// artifact filename. The returned error messages are part of the submission
// API contract.
func ValidateFilenameFragment(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("Invalid filename %q: filename cannot be empty", name)
	}
	if len(name) > maxFragmentLength {
		return fmt.Errorf("Invalid filename %q: filename exceeds %d characters", name, maxFragmentLength)
	}
	if strings.ContainsAny(name, invalidFilenameChars) {
		return fmt.Errorf(`Invalid filename %q: contains invalid characters: < > : " / \ | ? * _`, name)
	}
	for _, r := range name {
		if unicode.IsSpace(r) {
			return fmt.Errorf("Invalid filename %q: contains whitespace characters", name)
		}
	}
	return nil
}

// GenerateFilename produces the deterministic artifact filename for a task.
//
//	{taskId}[_{correlationId}][_{labels joined by "-"}].{ext}
//
// All components must have passed ValidateFilenameFragment before reaching
// this point.
func GenerateFilename(taskID, correlationID string, labels []string, ext string) string {
	var b strings.Builder
	b.WriteString(taskID)
	if correlationID != "" {
		b.WriteByte('_')
		b.WriteString(correlationID)
	}
	if len(labels) > 0 {
		b.WriteByte('_')
		b.WriteString(strings.Join(labels, "-"))
	}
	b.WriteByte('.')
	b.WriteString(ext)
	return b.String()
}
